// Package payments verifies payment references presented for orders.
package payments

import (
	"context"
	"errors"
	"sort"
	"strings"

	domain "github.com/openshop/api/internal/domain"
)

// Verifier confirms a payment reference settles the given order.
type Verifier interface {
	Verify(ctx context.Context, order domain.Order, reference string) (bool, error)
}

// ReferenceVerifier accepts any non-empty reference carrying Prefix. It performs no PSP lookup.
type ReferenceVerifier struct {
	Prefix string
}

func (v ReferenceVerifier) Verify(_ context.Context, _ domain.Order, reference string) (bool, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false, nil
	}
	return strings.HasPrefix(reference, v.Prefix), nil
}

// Router dispatches references to the verifier registered for the longest matching prefix and
// falls back to a default verifier otherwise.
type Router struct {
	fallback Verifier
	routes   []route
}

type route struct {
	prefix   string
	verifier Verifier
}

// RouterOption customises a Router.
type RouterOption func(*Router)

// WithRoute sends references starting with prefix to verifier.
func WithRoute(prefix string, verifier Verifier) RouterOption {
	return func(r *Router) {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" || verifier == nil {
			return
		}
		r.routes = append(r.routes, route{prefix: prefix, verifier: verifier})
	}
}

// NewRouter constructs a Router. fallback is required.
func NewRouter(fallback Verifier, opts ...RouterOption) (*Router, error) {
	if fallback == nil {
		return nil, errors.New("payments: fallback verifier is required")
	}
	r := &Router{fallback: fallback}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].prefix) > len(r.routes[j].prefix)
	})
	return r, nil
}

func (r *Router) Verify(ctx context.Context, order domain.Order, reference string) (bool, error) {
	reference = strings.TrimSpace(reference)
	for _, rt := range r.routes {
		if strings.HasPrefix(reference, rt.prefix) {
			return rt.verifier.Verify(ctx, order, reference)
		}
	}
	return r.fallback.Verify(ctx, order, reference)
}
