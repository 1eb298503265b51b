// Package export writes periodic JSONL snapshots of payments to external
// destinations.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/store"
)

// Source is the committed state an export reads.
type Source interface {
	store.Reader
	ListPayments(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int, error)
}

// header is the first JSONL record written by WriteJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	PaymentCount int       `json:"payment_count"`
}

// paymentRecord is one payment with its order and sub-transactions.
type paymentRecord struct {
	Payment         *model.Payment          `json:"payment"`
	Order           *model.Order            `json:"order"`
	SubTransactions []*model.SubTransaction `json:"sub_transactions"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WriteJSONL writes every committed payment from src as JSONL to w: a header
// line, then one record per payment sorted by ID.
func WriteJSONL(ctx context.Context, src Source, w io.Writer, now time.Time) error {
	payments, _, err := src.ListPayments(ctx, model.PaymentFilter{})
	if err != nil {
		return fmt.Errorf("list payments: %w", err)
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].ID < payments[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    now.UTC(),
		PaymentCount: len(payments),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, p := range payments {
		order, err := src.GetOrder(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("get order for %s: %w", p.ID, err)
		}
		subs, err := src.GetSubTransactions(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("get sub-transactions for %s: %w", p.ID, err)
		}
		if subs == nil {
			subs = []*model.SubTransaction{}
		}
		rec := record{Type: "payment", Data: paymentRecord{Payment: p, Order: order, SubTransactions: subs}}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode payment %s: %w", p.ID, err)
		}
	}

	return nil
}
