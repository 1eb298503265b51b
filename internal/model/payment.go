package model

import "time"

// PaymentStatus is the aggregate state of a split payment.
type PaymentStatus string

const (
	PaymentPending            PaymentStatus = "pending"
	PaymentProcessing         PaymentStatus = "processing"
	PaymentCompleted          PaymentStatus = "completed"
	PaymentPartiallyCompleted PaymentStatus = "partially_completed"
	PaymentFailed             PaymentStatus = "failed"
)

// String returns the string representation of the payment status.
func (s PaymentStatus) String() string {
	return string(s)
}

// IsValid checks whether the payment status is a known value.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentPartiallyCompleted, PaymentFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition occurs from s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentCompleted, PaymentPartiallyCompleted, PaymentFailed:
		return true
	}
	return false
}

// FulfillmentStatus tracks whether an order has been paid for.
type FulfillmentStatus string

const (
	FulfillmentAwaitingPayment FulfillmentStatus = "awaiting_payment"
	FulfillmentPaid            FulfillmentStatus = "paid"
	FulfillmentPaymentFailed   FulfillmentStatus = "payment_failed"
)

// String returns the string representation of the fulfillment status.
func (s FulfillmentStatus) String() string {
	return string(s)
}

// IsValid checks whether the fulfillment status is a known value.
func (s FulfillmentStatus) IsValid() bool {
	switch s {
	case FulfillmentAwaitingPayment, FulfillmentPaid, FulfillmentPaymentFailed:
		return true
	}
	return false
}

// FulfillmentFor returns the order fulfillment status that is consistent with
// a payment in status s. Only completed payments mark an order paid and only
// failed payments mark it payment_failed.
func FulfillmentFor(s PaymentStatus) FulfillmentStatus {
	switch s {
	case PaymentCompleted:
		return FulfillmentPaid
	case PaymentFailed:
		return FulfillmentPaymentFailed
	default:
		return FulfillmentAwaitingPayment
	}
}

// SubTransactionStatus is the state of a single allocation within a split.
type SubTransactionStatus string

const (
	SubPending   SubTransactionStatus = "pending"
	SubCompleted SubTransactionStatus = "completed"
	SubFailed    SubTransactionStatus = "failed"
)

// String returns the string representation of the sub-transaction status.
func (s SubTransactionStatus) String() string {
	return string(s)
}

// IsValid checks whether the sub-transaction status is a known value.
func (s SubTransactionStatus) IsValid() bool {
	switch s {
	case SubPending, SubCompleted, SubFailed:
		return true
	}
	return false
}

// Allocation is one requested slice of a split payment.
type Allocation struct {
	Amount int64  `json:"amount"`
	Method string `json:"method"`
	Target string `json:"target"`
}

// Payment is a single logical payment for an order, fulfilled by one or more
// sub-transactions. Amounts are in minor currency units.
type Payment struct {
	ID                string        `json:"id"`
	OrderID           string        `json:"order_id"`
	Total             int64         `json:"total"`
	Status            PaymentStatus `json:"status"`
	SubTransactionIDs []string      `json:"sub_transaction_ids"`
	Version           int           `json:"version"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Order is the thing being paid for.
type Order struct {
	ID                string            `json:"id"`
	PaymentID         string            `json:"payment_id,omitempty"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	Version           int               `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// SubTransaction is one allocation of a split payment. Everything except
// Status, ProviderReference and FailureReason is fixed once created.
type SubTransaction struct {
	ID                string               `json:"id"`
	PaymentID         string               `json:"payment_id"`
	Seq               int                  `json:"seq"`
	Amount            int64                `json:"amount"`
	Method            string               `json:"method"`
	Target            string               `json:"target"`
	Status            SubTransactionStatus `json:"status"`
	ProviderReference string               `json:"provider_reference,omitempty"`
	FailureReason     string               `json:"failure_reason,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// PaymentFilter narrows ListPayments results.
type PaymentFilter struct {
	Status  []PaymentStatus
	OrderID string
	Limit   int
	Offset  int
}
