package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/openshop/api/internal/domain"
	pfirestore "github.com/openshop/api/internal/platform/firestore"
	"github.com/openshop/api/internal/repositories"
)

// CartRepository stores one cart document per user, keyed by user id.
type CartRepository struct {
	provider *pfirestore.Provider
	carts    *pfirestore.Collection[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		provider: provider,
		carts:    pfirestore.NewCollection[cartDocument](provider, cartsCollection),
	}, nil
}

func (r *CartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	doc, err := r.carts.Get(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Cart{UserID: userID}, nil
		}
		return domain.Cart{}, err
	}
	return doc.toDomain(), nil
}

func (r *CartRepository) Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	ref, err := r.carts.Doc(ctx, cart.UserID)
	if err != nil {
		return domain.Cart{}, err
	}

	var saved domain.Cart
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current cartDocument
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if current, err = pfirestore.Decode[cartDocument](snap); err != nil {
				return err
			}
		case pfirestore.IsNotFound(err):
		default:
			return err
		}

		if current.Version != expectedVersion {
			return repositories.NewConflictError("carts.save",
				fmt.Errorf("cart for %s at version %d, expected %d", cart.UserID, current.Version, expectedVersion))
		}
		next := cart
		if current.ID != "" {
			next.ID = current.ID
		}
		if next.ID == "" {
			return errors.New("firestore: new carts require an id")
		}
		next.Version = expectedVersion + 1
		if err := tx.Set(ref, encodeCart(next)); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return saved, nil
}
