package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// QueryBuilder narrows a collection query, adding filters, ordering and limits.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection is a typed view over one top-level collection. T is a document struct with
// firestore tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Ref resolves the collection on the shared client.
func (c *Collection[T]) Ref(ctx context.Context) (*firestore.CollectionRef, error) {
	switch {
	case c == nil || c.provider == nil:
		return nil, errors.New("firestore: collection has no provider")
	case c.name == "":
		return nil, errors.New("firestore: collection has no name")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

// Doc resolves a document reference, for use inside transactions.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("firestore: empty %s document id", c.name)
	}
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get loads one document. A missing document is a repositories not-found error.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return zero, WrapError(c.name+".get", err)
	}
	return Decode[T](snap)
}

// Set replaces the whole document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, value)
	return WrapError(c.name+".set", err)
}

// Query decodes every document the built query returns, in query order.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]T, error) {
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	q := coll.Query
	if build != nil {
		q = build(q)
	}

	docs := q.Documents(ctx)
	defer docs.Stop()

	var out []T
	for {
		snap, err := docs.Next()
		switch {
		case errors.Is(err, iterator.Done):
			if out == nil {
				out = []T{}
			}
			return out, nil
		case err != nil:
			return nil, WrapError(c.name+".query", err)
		}
		value, err := Decode[T](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
}

// Decode reads a snapshot into T.
func Decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var value T
	if err := snap.DataTo(&value); err != nil {
		return value, fmt.Errorf("firestore: decode %s/%s: %w", snap.Ref.Parent.ID, snap.Ref.ID, err)
	}
	return value, nil
}
