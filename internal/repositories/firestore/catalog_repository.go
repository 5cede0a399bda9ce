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

// AddressRepository stores addresses in a top-level collection keyed by address ID.
type AddressRepository struct {
	provider  *pfirestore.Provider
	addresses *pfirestore.Collection[addressDocument]
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{
		provider:  provider,
		addresses: pfirestore.NewCollection[addressDocument](provider, addressesCollection),
	}, nil
}

// FindByID returns the address only when it belongs to userID.
func (r *AddressRepository) FindByID(ctx context.Context, userID, addressID string) (domain.Address, error) {
	doc, err := r.addresses.Get(ctx, addressID)
	if err != nil {
		return domain.Address{}, err
	}
	if doc.UserID != userID {
		return domain.Address{}, repositories.NewNotFoundError("addresses.get", fmt.Errorf("address %s", addressID))
	}
	return domain.Address(doc), nil
}

// Upsert checks ownership and writes in one transaction.
func (r *AddressRepository) Upsert(ctx context.Context, addr domain.Address) (domain.Address, error) {
	if addr.ID == "" || addr.UserID == "" {
		return domain.Address{}, errors.New("firestore: address id and user id are required")
	}
	ref, err := r.addresses.Doc(ctx, addr.ID)
	if err != nil {
		return domain.Address{}, err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case pfirestore.IsNotFound(err):
		case err != nil:
			return err
		default:
			current, err := pfirestore.Decode[addressDocument](snap)
			if err != nil {
				return err
			}
			if current.UserID != addr.UserID {
				return repositories.NewConflictError("addresses.upsert", fmt.Errorf("address %s belongs to another user", addr.ID))
			}
		}
		return tx.Set(ref, addressDocument(addr))
	})
	if err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

func (r *AddressRepository) ListByUser(ctx context.Context, userID string) ([]domain.Address, error) {
	docs, err := r.addresses.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, len(docs))
	for i, doc := range docs {
		out[i] = domain.Address(doc)
	}
	return out, nil
}

func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	ref, err := r.addresses.Doc(ctx, addressID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if pfirestore.IsNotFound(err) {
			return repositories.NewNotFoundError("addresses.delete", fmt.Errorf("address %s", addressID))
		}
		if err != nil {
			return err
		}
		current, err := pfirestore.Decode[addressDocument](snap)
		if err != nil {
			return err
		}
		if current.UserID != userID {
			return repositories.NewNotFoundError("addresses.delete", fmt.Errorf("address %s", addressID))
		}
		return tx.Delete(ref)
	})
}

// VariantRepository reads catalog variants.
type VariantRepository struct {
	provider *pfirestore.Provider
	variants *pfirestore.Collection[variantDocument]
}

// NewVariantRepository constructs a Firestore-backed variant repository.
func NewVariantRepository(provider *pfirestore.Provider) (*VariantRepository, error) {
	if provider == nil {
		return nil, errors.New("variant repository requires firestore provider")
	}
	return &VariantRepository{
		provider: provider,
		variants: pfirestore.NewCollection[variantDocument](provider, variantsCollection),
	}, nil
}

// FindByIDs batches the lookup with GetAll. Missing variants are omitted from the result.
func (r *VariantRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Variant, error) {
	out := make(map[string]domain.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	coll := client.Collection(variantsCollection)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, coll.Doc(id))
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("variants.get_all", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		doc, err := pfirestore.Decode[variantDocument](snap)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = domain.Variant(doc)
	}
	return out, nil
}

func (r *VariantRepository) FindByID(ctx context.Context, id string) (domain.Variant, error) {
	doc, err := r.variants.Get(ctx, id)
	if err != nil {
		return domain.Variant{}, err
	}
	return domain.Variant(doc), nil
}

func (r *VariantRepository) Upsert(ctx context.Context, v domain.Variant) (domain.Variant, error) {
	if v.ID == "" {
		return domain.Variant{}, errors.New("firestore: variant id is required")
	}
	if err := r.variants.Set(ctx, v.ID, variantDocument(v)); err != nil {
		return domain.Variant{}, err
	}
	return v, nil
}
