package payment

import (
	"context"

	"github.com/alfredjeanlab/splitpay/internal/model"
)

// PaymentView is the durable state of a payment. Clients that missed a live
// notification re-fetch it from here.
type PaymentView struct {
	Payment         *model.Payment          `json:"payment"`
	Order           *model.Order            `json:"order"`
	SubTransactions []*model.SubTransaction `json:"subTransactions"`
	CompletedAmount int64                   `json:"completedAmount"`
}

// GetPayment returns the committed state of a payment with its order and
// sub-transactions.
func (p *Processor) GetPayment(ctx context.Context, id string) (*PaymentView, error) {
	const op = "get payment"
	pay, err := p.store.GetPayment(ctx, id)
	if err != nil {
		return nil, storageError(op, id, err)
	}
	order, err := p.store.GetOrder(ctx, pay.OrderID)
	if err != nil {
		return nil, storageError(op, id, err)
	}
	subs, err := p.store.GetSubTransactions(ctx, id)
	if err != nil {
		return nil, storageError(op, id, err)
	}
	if subs == nil {
		subs = []*model.SubTransaction{}
	}
	return &PaymentView{
		Payment:         pay,
		Order:           order,
		SubTransactions: subs,
		CompletedAmount: model.CompletedAmount(subs),
	}, nil
}

// GetOrder returns the committed state of an order.
func (p *Processor) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	order, err := p.store.GetOrder(ctx, id)
	if err != nil {
		return nil, storageError("get order", "", err)
	}
	return order, nil
}

// ListPayments returns committed payments matching filter and the total
// number of matches.
func (p *Processor) ListPayments(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int, error) {
	payments, total, err := p.store.ListPayments(ctx, filter)
	if err != nil {
		return nil, 0, storageError("list payments", "", err)
	}
	return payments, total, nil
}

// Ping checks the store.
func (p *Processor) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return newError(KindStorage, "ping", "", err)
	}
	return nil
}
