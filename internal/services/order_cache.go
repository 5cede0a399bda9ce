package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/openshop/api/internal/platform/cache"
)

// Cache shapes. Each read path owns one key builder and declares the tags its entries depend on.
const (
	shapeOrder           = "order"
	shapeOrdersPage      = "orders_page"
	shapeStatusPage      = "orders_status_page"
	shapeUserOrders      = "user_orders"
	shapeUserStatusOrder = "user_status_orders"
	shapeInvoice         = "invoice"
)

func orderKey(orderID string) string { return "order:" + orderID }

func ordersPageKey(page, size int) string {
	return fmt.Sprintf("orders:all:page:%d:size:%d", page, size)
}

func statusPageKey(status OrderStatus, page, size int) string {
	return fmt.Sprintf("orders:status:%s:page:%d:size:%d", status, page, size)
}

func userOrdersKey(userID string) string { return "orders:user:" + userID }

func userStatusOrdersKey(userID string, status OrderStatus) string {
	return fmt.Sprintf("orders:user:%s:status:%s", userID, status)
}

func invoiceKey(orderID string) string { return "invoice:" + orderID }

func orderTag(orderID string) string { return "order:" + orderID }

const allOrdersTag = "orders:all"

func statusTag(status OrderStatus) string { return "orders:status:" + string(status) }

func userTag(userID string) string { return "orders:user:" + userID }

func userStatusTag(userID string, status OrderStatus) string {
	return fmt.Sprintf("orders:user:%s:status:%s", userID, status)
}

// mutationTags lists every tag whose entries may include order after a write. previous is the
// status before the write and is empty for newly created orders.
func mutationTags(order Order, previous OrderStatus) []string {
	tags := []string{
		orderTag(order.ID),
		allOrdersTag,
		statusTag(order.Status),
		userTag(order.UserID),
		userStatusTag(order.UserID, order.Status),
	}
	if previous != "" && previous != order.Status {
		tags = append(tags, statusTag(previous), userStatusTag(order.UserID, previous))
	}
	return tags
}

// readThrough serves key from store or loads and caches it. Values are cloned in both directions
// so callers never share memory with a cached entry.
func readThrough[T any](
	ctx context.Context,
	store *cache.Store,
	shape, key string,
	tags []string,
	clone func(T) T,
	load func(context.Context) (T, error),
) (T, error) {
	if store == nil {
		return load(ctx)
	}
	if cached, ok := store.Get(ctx, shape, key); ok {
		if value, ok := cached.(T); ok {
			return clone(value), nil
		}
	}

	token := store.Snapshot()
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	store.PutIfFresh(ctx, key, clone(value), tags, token)
	return value, nil
}

func invalidateOrder(ctx context.Context, store *cache.Store, order Order, previous OrderStatus) int {
	if store == nil {
		return 0
	}
	return store.Invalidate(ctx, mutationTags(order, previous)...)
}

func cloneOrder(order Order) Order {
	out := order
	out.Items = slices.Clone(order.Items)
	if order.EstimatedDeliveryAt != nil {
		eta := *order.EstimatedDeliveryAt
		out.EstimatedDeliveryAt = &eta
	}
	return out
}

func cloneOrders(orders []Order) []Order {
	if orders == nil {
		return nil
	}
	out := make([]Order, len(orders))
	for i, order := range orders {
		out[i] = cloneOrder(order)
	}
	return out
}

func cloneOrderPage(page OrderPage) OrderPage {
	out := page
	out.Items = cloneOrders(page.Items)
	return out
}
