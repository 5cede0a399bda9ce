package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/repositories"
)

const orderColumns = `id, order_number, user_id, status, payment_status, payment_method, payment_reference, currency,
item_subtotal, tax, shipping, total, shipping_address_id, notes, tracking_id, courier_name,
estimated_delivery_at, client_ip, user_agent, version, created_at, updated_at`

const (
	bumpCartVersionSQL = `UPDATE carts SET version = version + 1, updated_at = $3 WHERE id = $1 AND version = $2`
	clearCartItemsSQL  = `DELETE FROM cart_items WHERE cart_id = $1`
	insertOrderSQL     = `INSERT INTO orders (` + orderColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, variant_id, sku, name, quantity, unit_price, price_snapshot, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	selectOrderSQL         = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	selectOrderItemsSQL    = `SELECT order_id, id, variant_id, sku, name, quantity, unit_price, price_snapshot FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`
	listUserOrdersSQL      = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	listUserStatusSQL      = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC`
	countOrdersSQL         = `SELECT COUNT(*) FROM orders`
	countOrdersByStatusSQL = `SELECT COUNT(*) FROM orders WHERE status = $1`
	pageOrdersSQL          = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	pageOrdersByStatusSQL  = `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	updateOrderStatusSQL   = `UPDATE orders SET status = $1, payment_status = COALESCE(NULLIF($2, ''), payment_status), version = $3, updated_at = $4
WHERE id = $5 AND version = $6`
	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

type orderRepository struct {
	base
}

func (r *orderRepository) PlaceOrder(ctx context.Context, order domain.Order, cartID string, cartVersion int64) error {
	return r.withTx(ctx, func(ctx context.Context, q querier) error {
		res, err := q.ExecContext(ctx, bumpCartVersionSQL, cartID, cartVersion, order.CreatedAt)
		if err != nil {
			return wrapError("orders.place: bump cart", err)
		}
		ok, err := expectOneRow(res)
		if err != nil {
			return wrapError("orders.place: bump cart", err)
		}
		if !ok {
			return repositories.NewConflictError("orders.place", fmt.Errorf("cart %s changed since version %d", cartID, cartVersion))
		}
		if _, err := q.ExecContext(ctx, clearCartItemsSQL, cartID); err != nil {
			return wrapError("orders.place: clear cart", err)
		}

		if _, err := q.ExecContext(ctx, insertOrderSQL, orderArgs(order)...); err != nil {
			return wrapError("orders.place: insert order", err)
		}
		for i, item := range order.Items {
			if _, err := q.ExecContext(ctx, insertOrderItemSQL,
				item.ID, order.ID, item.VariantID, item.SKU, item.Name, item.Quantity, item.UnitPrice, item.PriceSnapshot, i,
			); err != nil {
				return wrapError("orders.place: insert item", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	q := r.conn(ctx)
	order, err := scanOrder(q.QueryRowContext(ctx, selectOrderSQL, orderID))
	if err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}
	orders := []domain.Order{order}
	if err := attachItems(ctx, q, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, status *domain.OrderStatus) ([]domain.Order, error) {
	q := r.conn(ctx)
	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = q.QueryContext(ctx, listUserStatusSQL, userID, string(*status))
	} else {
		rows, err = q.QueryContext(ctx, listUserOrdersSQL, userID)
	}
	if err != nil {
		return nil, wrapError("orders.list_by_user", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, wrapError("orders.list_by_user", err)
	}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	q := r.conn(ctx)
	page := domain.Page[domain.Order]{Page: filter.Page, Size: filter.Size}
	offset, addressable := filter.Offset()

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status != nil {
		status := string(*filter.Status)
		if err = q.QueryRowContext(ctx, countOrdersByStatusSQL, status).Scan(&page.Total); err != nil {
			return page, wrapError("orders.list: count", err)
		}
		if !addressable {
			page.Items = []domain.Order{}
			return page, nil
		}
		rows, err = q.QueryContext(ctx, pageOrdersByStatusSQL, status, filter.Size, offset)
	} else {
		if err = q.QueryRowContext(ctx, countOrdersSQL).Scan(&page.Total); err != nil {
			return page, wrapError("orders.list: count", err)
		}
		if !addressable {
			page.Items = []domain.Order{}
			return page, nil
		}
		rows, err = q.QueryContext(ctx, pageOrdersSQL, filter.Size, offset)
	}
	if err != nil {
		return page, wrapError("orders.list", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return page, wrapError("orders.list", err)
	}
	if err := attachItems(ctx, q, orders); err != nil {
		return page, err
	}
	page.Items = orders
	return page, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) error {
	q := r.conn(ctx)
	res, err := q.ExecContext(ctx, updateOrderStatusSQL,
		string(update.Status), string(update.PaymentStatus), update.ExpectedVersion+1, update.UpdatedAt,
		update.OrderID, update.ExpectedVersion,
	)
	if err != nil {
		return wrapError("orders.update_status", err)
	}
	ok, err := expectOneRow(res)
	if err != nil {
		return wrapError("orders.update_status", err)
	}
	if ok {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx, orderExistsSQL, update.OrderID).Scan(&exists); err != nil {
		return wrapError("orders.update_status", err)
	}
	if !exists {
		return repositories.NewNotFoundError("orders.update_status", fmt.Errorf("order %s", update.OrderID))
	}
	return repositories.NewConflictError("orders.update_status",
		fmt.Errorf("order %s is no longer at version %d", update.OrderID, update.ExpectedVersion))
}

func (r *orderRepository) Delete(ctx context.Context, orderID string) error {
	res, err := r.conn(ctx).ExecContext(ctx, deleteOrderSQL, orderID)
	if err != nil {
		return wrapError("orders.delete", err)
	}
	ok, err := expectOneRow(res)
	if err != nil {
		return wrapError("orders.delete", err)
	}
	if !ok {
		return repositories.NewNotFoundError("orders.delete", fmt.Errorf("order %s", orderID))
	}
	return nil
}

func orderArgs(o domain.Order) []any {
	var eta sql.NullTime
	if o.EstimatedDeliveryAt != nil {
		eta = sql.NullTime{Time: *o.EstimatedDeliveryAt, Valid: true}
	}
	return []any{
		o.ID, o.OrderNumber, o.UserID, string(o.Status), string(o.PaymentStatus), o.PaymentMethod, o.PaymentReference, o.Currency,
		o.Totals.ItemSubtotal, o.Totals.Tax, o.Totals.Shipping, o.Totals.Total, o.ShippingAddressID, o.Notes, o.TrackingID, o.CourierName,
		eta, o.ClientIP, o.UserAgent, o.Version, o.CreatedAt, o.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o             domain.Order
		status        string
		paymentStatus string
		eta           sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &status, &paymentStatus, &o.PaymentMethod, &o.PaymentReference, &o.Currency,
		&o.Totals.ItemSubtotal, &o.Totals.Tax, &o.Totals.Shipping, &o.Totals.Total, &o.ShippingAddressID, &o.Notes, &o.TrackingID, &o.CourierName,
		&eta, &o.ClientIP, &o.UserAgent, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	var ok bool
	if o.Status, ok = domain.ParseOrderStatus(status); !ok {
		return domain.Order{}, fmt.Errorf("order %s: unknown status %q", o.ID, status)
	}
	if o.PaymentStatus, ok = domain.ParsePaymentStatus(paymentStatus); !ok {
		return domain.Order{}, fmt.Errorf("order %s: unknown payment status %q", o.ID, paymentStatus)
	}
	if eta.Valid {
		t := eta.Time
		o.EstimatedDeliveryAt = &t
	}
	return o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()
	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// attachItems loads line items for every order with a single query.
func attachItems(ctx context.Context, q querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		index[order.ID] = i
	}

	rows, err := q.QueryContext(ctx, selectOrderItemsSQL, pq.Array(ids))
	if err != nil {
		return wrapError("orders.items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			item    domain.OrderLineItem
		)
		if err := rows.Scan(&orderID, &item.ID, &item.VariantID, &item.SKU, &item.Name, &item.Quantity, &item.UnitPrice, &item.PriceSnapshot); err != nil {
			return wrapError("orders.items", err)
		}
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	return wrapError("orders.items", rows.Err())
}
