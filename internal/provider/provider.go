// Package provider defines the payment provider boundary used to charge a
// single allocation, plus an HTTP client and a deterministic sandbox.
package provider

import (
	"context"
	"fmt"
)

// ChargeRequest asks the provider to move Amount (minor units) using Method
// against Target. IdempotencyKey is the sub-transaction ID.
type ChargeRequest struct {
	IdempotencyKey string `json:"reference_id"`
	PaymentID      string `json:"payment_id"`
	Amount         int64  `json:"amount"`
	Method         string `json:"method"`
	Target         string `json:"target"`
}

// Charge is a charge the provider accepted. Pending charges are settled
// later through a provider webhook.
type Charge struct {
	Reference string
	Pending   bool
}

// Provider charges one allocation.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// Voider is implemented by providers that can reverse an approved charge.
type Voider interface {
	Void(ctx context.Context, reference string) error
}

// Error is returned when the provider rejects a charge or cannot be reached.
type Error struct {
	Code      string
	Message   string
	Declined  bool
	Reference string
}

func (e *Error) Error() string {
	if e.Declined {
		return fmt.Sprintf("provider declined (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error (%s): %s", e.Code, e.Message)
}
