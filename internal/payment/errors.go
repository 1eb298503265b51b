package payment

import (
	"errors"

	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/store"
)

// Kind classifies a processor error. Every public Processor operation
// returns either nil or an *Error carrying one of these.
type Kind string

const (
	KindAllocationMismatch Kind = "allocation_mismatch"
	KindInvalidAllocation  Kind = "invalid_allocation"
	KindStorage            Kind = "storage"
	KindCommit             Kind = "commit"
	KindProvider           Kind = "provider"
	KindPublish            Kind = "publish"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
)

// Error is the processor's single error type.
type Error struct {
	Kind      Kind
	Op        string
	PaymentID string
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.PaymentID != "" {
		msg += " (payment " + e.PaymentID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err has kind k. A commit error is also a storage
// error.
func IsKind(err error, k Kind) bool {
	got := KindOf(err)
	if got == k {
		return true
	}
	return k == KindStorage && got == KindCommit
}

func newError(kind Kind, op, paymentID string, err error) *Error {
	return &Error{Kind: kind, Op: op, PaymentID: paymentID, Err: err}
}

// validationError maps a model validation failure to its kind.
func validationError(op string, err error) *Error {
	if errors.Is(err, model.ErrAllocationMismatch) {
		return newError(KindAllocationMismatch, op, "", err)
	}
	return newError(KindInvalidAllocation, op, "", err)
}

// storageError maps a failed lookup, keeping not-found and conflict apart
// from generic storage faults.
func storageError(op, paymentID string, err error) *Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(KindNotFound, op, paymentID, err)
	case errors.Is(err, store.ErrConflict):
		return newError(KindConflict, op, paymentID, err)
	}
	return newError(KindStorage, op, paymentID, err)
}
