// Package store defines the persistence boundary for payments, orders and
// sub-transactions.
package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/splitpay/internal/model"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a save loses an optimistic version race or
	// violates a uniqueness or referential constraint.
	ErrConflict = errors.New("conflict")
	// ErrTxDone is returned when a Tx is used after Commit or Abort.
	ErrTxDone = errors.New("transaction already committed or aborted")
)

// Reader is the read side shared by Store and Tx.
type Reader interface {
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	// GetSubTransactions returns the payment's sub-transactions ordered by Seq.
	GetSubTransactions(ctx context.Context, paymentID string) ([]*model.SubTransaction, error)
}

// Tx is a single unit of work. Every save made through a Tx becomes visible
// to other readers at Commit, or not at all.
//
// Save methods are upserts keyed by ID with an optimistic Version: Version 0
// inserts, Version n updates the row only if it is still at n. On success the
// entity's Version is advanced in place.
type Tx interface {
	Reader

	SavePayment(ctx context.Context, p *model.Payment) error
	SaveOrder(ctx context.Context, o *model.Order) error
	SaveSubTransaction(ctx context.Context, st *model.SubTransaction) error

	// Commit makes all saves durable. A constraint violation detected at
	// commit time is reported as ErrConflict.
	Commit() error
	// Abort discards all saves. It is idempotent and safe to call after a
	// failed Commit.
	Abort() error
}

// Store is the persistence interface for the payment core.
type Store interface {
	Reader

	// ListPayments returns payments matching filter and the total match count.
	ListPayments(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int, error)

	Begin(ctx context.Context) (Tx, error)

	Ping(ctx context.Context) error
	Close() error
}

// RunInTransaction begins a transaction, calls fn, and commits on success.
// The transaction is always aborted on exit; Abort after Commit is a no-op.
func RunInTransaction(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Abort() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
