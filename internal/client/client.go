// Package client provides a transport-agnostic interface for the splitpay
// service with HTTP/JSON and gRPC implementations.
package client

import (
	"context"

	"github.com/alfredjeanlab/splitpay/internal/events"
	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/payment"
)

// PaymentClient is the interface the splitpay CLI commands use to talk to
// the server. It is implemented by HTTPClient (default) and GRPCClient.
type PaymentClient interface {
	ProcessSplitPayment(ctx context.Context, req *payment.Request) (*payment.Result, error)
	GetPayment(ctx context.Context, id string) (*payment.PaymentView, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListPayments(ctx context.Context, req *ListPaymentsRequest) (*ListPaymentsResponse, error)
	ApplyProviderStatus(ctx context.Context, paymentID, providerStatus string) (*payment.Result, error)

	// WatchStatus calls fn for every status message until ctx is done, the
	// server closes the stream, or fn returns an error. An empty paymentID
	// watches all payments.
	WatchStatus(ctx context.Context, paymentID string, fn func(events.Message) error) error

	Health(ctx context.Context) (string, error)
	Close() error
}

// ListPaymentsRequest narrows a payment listing.
type ListPaymentsRequest struct {
	Status  []string `json:"status,omitempty"`
	OrderID string   `json:"orderId,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
}

// ListPaymentsResponse is one page of payments.
type ListPaymentsResponse struct {
	Payments []*model.Payment `json:"payments"`
	Total    int              `json:"total"`
}

var (
	_ PaymentClient = (*HTTPClient)(nil)
	_ PaymentClient = (*GRPCClient)(nil)
)
