package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/openshop/api/internal/domain"
	pfirestore "github.com/openshop/api/internal/platform/firestore"
	"github.com/openshop/api/internal/repositories"
)

// OrderRepository stores orders as single documents with embedded line items.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	carts    *pfirestore.Collection[cartDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		carts:    pfirestore.NewCollection[cartDocument](provider, cartsCollection),
	}, nil
}

// PlaceOrder creates the order and clears the cart in one transaction.
func (r *OrderRepository) PlaceOrder(ctx context.Context, order domain.Order, cartID string, cartVersion int64) error {
	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	cartRef, err := r.carts.Doc(ctx, order.UserID)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(cartRef)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewConflictError("orders.place", fmt.Errorf("cart for %s no longer exists", order.UserID))
			}
			return err
		}
		cart, err := pfirestore.Decode[cartDocument](snap)
		if err != nil {
			return err
		}
		if cart.ID != cartID || cart.Version != cartVersion {
			return repositories.NewConflictError("orders.place", fmt.Errorf("cart %s changed since version %d", cartID, cartVersion))
		}

		if err := tx.Create(orderRef, encodeOrder(order)); err != nil {
			return err
		}
		cart.Items = []cartItemDocument{}
		cart.Version++
		cart.UpdatedAt = order.CreatedAt.UTC()
		return tx.Set(cartRef, cart)
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, status *domain.OrderStatus) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID)
		if status != nil {
			q = q.Where("status", "==", string(*status))
		}
		return q.OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	return toOrders(docs), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	page := domain.Page[domain.Order]{Page: filter.Page, Size: filter.Size}
	coll, err := r.orders.Ref(ctx)
	if err != nil {
		return page, err
	}
	base := coll.Query
	if filter.Status != nil {
		base = base.Where("status", "==", string(*filter.Status))
	}

	total, err := countQuery(ctx, base)
	if err != nil {
		return page, err
	}
	page.Total = total

	offset, ok := filter.Offset()
	if !ok {
		page.Items = []domain.Order{}
		return page, nil
	}
	docs, err := r.orders.Query(ctx, func(firestore.Query) firestore.Query {
		return base.OrderBy("createdAt", firestore.Desc).Offset(offset).Limit(filter.Size)
	})
	if err != nil {
		return page, err
	}
	page.Items = toOrders(docs)
	return page, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) error {
	ref, err := r.orders.Doc(ctx, update.OrderID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.update_status", err)
		}
		current, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		if current.Version != update.ExpectedVersion {
			return repositories.NewConflictError("orders.update_status",
				fmt.Errorf("order %s at version %d, expected %d", update.OrderID, current.Version, update.ExpectedVersion))
		}
		updates := []firestore.Update{
			{Path: "status", Value: string(update.Status)},
			{Path: "version", Value: update.ExpectedVersion + 1},
			{Path: "updatedAt", Value: update.UpdatedAt.UTC()},
		}
		if update.PaymentStatus != "" {
			updates = append(updates, firestore.Update{Path: "paymentStatus", Value: string(update.PaymentStatus)})
		}
		return tx.Update(ref, updates)
	})
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	ref, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

func countQuery(ctx context.Context, q firestore.Query) (int64, error) {
	result, err := q.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.count", err)
	}
	value, ok := result["total"].(*firestorepb.Value)
	if !ok {
		return 0, errors.New("firestore: count aggregation returned no value")
	}
	return value.GetIntegerValue(), nil
}

func toOrders(docs []orderDocument) []domain.Order {
	out := make([]domain.Order, len(docs))
	for i, doc := range docs {
		out[i] = doc.toDomain()
	}
	return out
}
