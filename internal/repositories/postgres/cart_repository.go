package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/repositories"
)

const (
	selectCartSQL      = `SELECT id, version, updated_at FROM carts WHERE user_id = $1`
	selectCartItemsSQL = `SELECT id, variant_id, quantity, unit_price, added_at, updated_at FROM cart_items WHERE cart_id = $1 ORDER BY position`
	insertCartSQL      = `INSERT INTO carts (id, user_id, version, updated_at) VALUES ($1, $2, 1, $3) ON CONFLICT (user_id) DO NOTHING`
	updateCartSQL      = `UPDATE carts SET version = version + 1, updated_at = $3 WHERE user_id = $1 AND version = $2 RETURNING id`
	insertCartItemSQL  = `INSERT INTO cart_items (id, cart_id, variant_id, quantity, unit_price, position, added_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

type cartRepository struct {
	base
}

func (r *cartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	q := r.conn(ctx)
	cart := domain.Cart{UserID: userID}
	err := q.QueryRowContext(ctx, selectCartSQL, userID).Scan(&cart.ID, &cart.Version, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cart, nil
	}
	if err != nil {
		return domain.Cart{}, wrapError("carts.get", err)
	}

	rows, err := q.QueryContext(ctx, selectCartItemsSQL, cart.ID)
	if err != nil {
		return domain.Cart{}, wrapError("carts.items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.VariantID, &item.Quantity, &item.UnitPrice, &item.AddedAt, &item.UpdatedAt); err != nil {
			return domain.Cart{}, wrapError("carts.items", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, wrapError("carts.items", err)
	}
	return cart, nil
}

func (r *cartRepository) Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	if cart.UserID == "" {
		return domain.Cart{}, errors.New("postgres: cart user id is required")
	}
	err := r.withTx(ctx, func(ctx context.Context, q querier) error {
		if expectedVersion == 0 {
			if cart.ID == "" {
				return errors.New("postgres: new carts require an id")
			}
			res, err := q.ExecContext(ctx, insertCartSQL, cart.ID, cart.UserID, cart.UpdatedAt)
			if err != nil {
				return wrapError("carts.save: insert", err)
			}
			ok, err := expectOneRow(res)
			if err != nil {
				return wrapError("carts.save: insert", err)
			}
			if !ok {
				return repositories.NewConflictError("carts.save", fmt.Errorf("cart for %s already exists", cart.UserID))
			}
		} else {
			err := q.QueryRowContext(ctx, updateCartSQL, cart.UserID, expectedVersion, cart.UpdatedAt).Scan(&cart.ID)
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.NewConflictError("carts.save", fmt.Errorf("cart for %s is no longer at version %d", cart.UserID, expectedVersion))
			}
			if err != nil {
				return wrapError("carts.save: update", err)
			}
			if _, err := q.ExecContext(ctx, clearCartItemsSQL, cart.ID); err != nil {
				return wrapError("carts.save: clear items", err)
			}
		}

		for i, item := range cart.Items {
			if _, err := q.ExecContext(ctx, insertCartItemSQL,
				item.ID, cart.ID, item.VariantID, item.Quantity, item.UnitPrice, i, item.AddedAt, item.UpdatedAt,
			); err != nil {
				return wrapError("carts.save: insert item", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Version = expectedVersion + 1
	return cart, nil
}
