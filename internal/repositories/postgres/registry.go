package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openshop/api/internal/repositories"
)

type txKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Registry exposes the Postgres repositories sharing one pool.
type Registry struct {
	db *sql.DB
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps an open database handle.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres: database handle is required")
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return &orderRepository{base{db: r.db}} }
func (r *Registry) Carts() repositories.CartRepository { return &cartRepository{base{db: r.db}} }
func (r *Registry) Addresses() repositories.AddressRepository {
	return &addressRepository{base{db: r.db}}
}
func (r *Registry) Variants() repositories.VariantRepository {
	return &variantRepository{base{db: r.db}}
}
func (r *Registry) UnitOfWork() repositories.UnitOfWork { return base{db: r.db} }
func (r *Registry) Name() string { return "postgres" }

func (r *Registry) Ping(ctx context.Context) error {
	return wrapError("ping", r.db.PingContext(ctx))
}

func (r *Registry) Close(context.Context) error {
	return r.db.Close()
}

type base struct {
	db *sql.DB
}

// conn returns the transaction bound to ctx, falling back to the pool.
func (b base) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return b.db
}

// RunInTx executes fn inside a transaction. Nested calls join the outer transaction.
func (b base) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return fn(ctx)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapError("commit", err)
	}
	return nil
}

// withTx runs fn against the ambient transaction or a fresh one.
func (b base) withTx(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	return b.RunInTx(ctx, func(txCtx context.Context) error {
		return fn(txCtx, b.conn(txCtx))
	})
}

func expectOneRow(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}
