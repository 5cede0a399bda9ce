package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/repositories"
)

const (
	selectAddressSQL = `SELECT id, user_id, recipient, line1, line2, city, state, postal_code, country, phone, created_at, updated_at
FROM addresses WHERE id = $1 AND user_id = $2`
	upsertAddressSQL = `INSERT INTO addresses (id, user_id, recipient, line1, line2, city, state, postal_code, country, phone, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET recipient = EXCLUDED.recipient, line1 = EXCLUDED.line1, line2 = EXCLUDED.line2,
city = EXCLUDED.city, state = EXCLUDED.state, postal_code = EXCLUDED.postal_code, country = EXCLUDED.country,
phone = EXCLUDED.phone, updated_at = EXCLUDED.updated_at
WHERE addresses.user_id = EXCLUDED.user_id`
	listAddressesSQL = `SELECT id, user_id, recipient, line1, line2, city, state, postal_code, country, phone, created_at, updated_at
FROM addresses WHERE user_id = $1 ORDER BY created_at, id`
	deleteAddressSQL  = `DELETE FROM addresses WHERE id = $1 AND user_id = $2`
	selectVariantsSQL = `SELECT id, product_id, sku, name, price, currency, stock, updated_at FROM variants WHERE id = ANY($1)`
	upsertVariantSQL  = `INSERT INTO variants (id, product_id, sku, name, price, currency, stock, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET product_id = EXCLUDED.product_id, sku = EXCLUDED.sku, name = EXCLUDED.name,
price = EXCLUDED.price, currency = EXCLUDED.currency, stock = EXCLUDED.stock, updated_at = EXCLUDED.updated_at`
)

type addressRepository struct {
	base
}

func scanAddress(row rowScanner) (domain.Address, error) {
	var a domain.Address
	err := row.Scan(
		&a.ID, &a.UserID, &a.Recipient, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country, &a.Phone, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

func (r *addressRepository) FindByID(ctx context.Context, userID, addressID string) (domain.Address, error) {
	a, err := scanAddress(r.conn(ctx).QueryRowContext(ctx, selectAddressSQL, addressID, userID))
	if err != nil {
		return domain.Address{}, wrapError("addresses.find", err)
	}
	return a, nil
}

func (r *addressRepository) ListByUser(ctx context.Context, userID string) ([]domain.Address, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, listAddressesSQL, userID)
	if err != nil {
		return nil, wrapError("addresses.list", err)
	}
	defer rows.Close()

	out := make([]domain.Address, 0)
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, wrapError("addresses.list", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("addresses.list", err)
	}
	return out, nil
}

func (r *addressRepository) Delete(ctx context.Context, userID, addressID string) error {
	res, err := r.conn(ctx).ExecContext(ctx, deleteAddressSQL, addressID, userID)
	if err != nil {
		return wrapError("addresses.delete", err)
	}
	ok, err := expectOneRow(res)
	if err != nil {
		return wrapError("addresses.delete", err)
	}
	if !ok {
		return repositories.NewNotFoundError("addresses.delete", fmt.Errorf("address %s", addressID))
	}
	return nil
}

func (r *addressRepository) Upsert(ctx context.Context, a domain.Address) (domain.Address, error) {
	if a.ID == "" || a.UserID == "" {
		return domain.Address{}, errors.New("postgres: address id and user id are required")
	}
	res, err := r.conn(ctx).ExecContext(ctx, upsertAddressSQL,
		a.ID, a.UserID, a.Recipient, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country, a.Phone, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return domain.Address{}, wrapError("addresses.upsert", err)
	}
	ok, err := expectOneRow(res)
	if err != nil {
		return domain.Address{}, wrapError("addresses.upsert", err)
	}
	if !ok {
		return domain.Address{}, repositories.NewConflictError("addresses.upsert", fmt.Errorf("address %s belongs to another user", a.ID))
	}
	return a, nil
}

type variantRepository struct {
	base
}

func (r *variantRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Variant, error) {
	out := make(map[string]domain.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).QueryContext(ctx, selectVariantsSQL, pq.Array(ids))
	if err != nil {
		return nil, wrapError("variants.find", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.Price, &v.Currency, &v.Stock, &v.UpdatedAt); err != nil {
			return nil, wrapError("variants.find", err)
		}
		out[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("variants.find", err)
	}
	return out, nil
}

func (r *variantRepository) FindByID(ctx context.Context, id string) (domain.Variant, error) {
	found, err := r.FindByIDs(ctx, []string{id})
	if err != nil {
		return domain.Variant{}, err
	}
	v, ok := found[id]
	if !ok {
		return domain.Variant{}, repositories.NewNotFoundError("variants.find", fmt.Errorf("variant %s", id))
	}
	return v, nil
}

func (r *variantRepository) Upsert(ctx context.Context, v domain.Variant) (domain.Variant, error) {
	if v.ID == "" {
		return domain.Variant{}, errors.New("postgres: variant id is required")
	}
	if _, err := r.conn(ctx).ExecContext(ctx, upsertVariantSQL,
		v.ID, v.ProductID, v.SKU, v.Name, v.Price, v.Currency, v.Stock, v.UpdatedAt,
	); err != nil {
		return domain.Variant{}, wrapError("variants.upsert", err)
	}
	return v, nil
}
