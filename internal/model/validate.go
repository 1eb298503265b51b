package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Sentinels wrapped by ValidationError so callers can tell which class of
// input problem they hit.
var (
	ErrInvalidAllocation  = errors.New("invalid allocation")
	ErrAllocationMismatch = errors.New("allocation mismatch")
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Err    error
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	prefix := "validation failed"
	if e.Err != nil {
		prefix = e.Err.Error()
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

// Unwrap exposes the sentinel class of the failure.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateAllocations checks a split-payment request before anything is
// persisted. Per-field problems (non-positive amounts, missing descriptors,
// empty order) are reported first as ErrInvalidAllocation; only a request
// whose allocations are individually valid is checked for the sum, which
// fails with ErrAllocationMismatch.
func ValidateAllocations(orderID string, total int64, allocs []Allocation) error {
	ve := ValidationError{Err: ErrInvalidAllocation}

	if strings.TrimSpace(orderID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "order_id", Message: "is required"})
	}
	if total <= 0 {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "total",
			Message: fmt.Sprintf("must be positive, got %d", total),
		})
	}
	if len(allocs) == 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "allocations", Message: "at least one allocation is required"})
	}

	for i, a := range allocs {
		field := fmt.Sprintf("allocations[%d]", i)
		if a.Amount <= 0 {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   field + ".amount",
				Message: fmt.Sprintf("must be positive, got %d", a.Amount),
			})
		}
		if strings.TrimSpace(a.Method) == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: field + ".method", Message: "is required"})
		}
		if strings.TrimSpace(a.Target) == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: field + ".target", Message: "is required"})
		}
	}

	if ve.HasErrors() {
		return &ve
	}

	var sum int64
	for _, a := range allocs {
		if a.Amount > math.MaxInt64-sum {
			return &ValidationError{
				Err:    ErrAllocationMismatch,
				Errors: []FieldError{{Field: "allocations", Message: "sum overflows"}},
			}
		}
		sum += a.Amount
	}
	if sum != total {
		return &ValidationError{
			Err: ErrAllocationMismatch,
			Errors: []FieldError{{
				Field:   "allocations",
				Message: fmt.Sprintf("sum %d does not equal total %d", sum, total),
			}},
		}
	}
	return nil
}

// CompletedAmount sums the amounts of completed sub-transactions.
func CompletedAmount(subs []*SubTransaction) int64 {
	var sum int64
	for _, s := range subs {
		if s.Status == SubCompleted {
			sum += s.Amount
		}
	}
	return sum
}

// AggregateStatus derives a payment status from the mix of its
// sub-transaction states: any pending keeps the payment processing, all
// completed is completed, all failed is failed, anything else is
// partially_completed.
func AggregateStatus(subs []*SubTransaction) PaymentStatus {
	if len(subs) == 0 {
		return PaymentPending
	}
	var completed, failed int
	for _, s := range subs {
		switch s.Status {
		case SubPending:
			return PaymentProcessing
		case SubCompleted:
			completed++
		case SubFailed:
			failed++
		}
	}
	switch {
	case completed == len(subs):
		return PaymentCompleted
	case failed == len(subs):
		return PaymentFailed
	default:
		return PaymentPartiallyCompleted
	}
}
