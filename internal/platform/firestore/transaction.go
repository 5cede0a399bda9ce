package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is the body of a transaction. Firestore reruns it on contention, so it must not have
// side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises a transaction.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	budget   time.Duration
}

// WithTxAttempts caps how many times the body runs.
func WithTxAttempts(n int) TxOption {
	return func(s *txSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithTxTimeout caps the whole transaction, retries included. A sooner caller deadline wins.
func WithTxTimeout(d time.Duration) TxOption {
	return func(s *txSettings) {
		if d > 0 {
			s.budget = d
		}
	}
}

// RunTransaction runs fn in a read-write transaction on the provider's client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

// RunTransaction runs fn in a read-write transaction on client. Errors come back classified by
// WrapError, so contention that outlasts the attempts surfaces as a repository conflict.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return errors.New("firestore: nil client")
	case fn == nil:
		return errors.New("firestore: nil transaction body")
	}

	s := txSettings{attempts: 5, budget: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	ctx, cancel := withBudget(ctx, s.budget)
	defer cancel()

	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestore.MaxAttempts(s.attempts))
	return WrapError("transaction", err)
}

// withBudget applies budget unless ctx already ends sooner.
func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= budget {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, budget)
}
