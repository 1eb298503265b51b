package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/store"
)

// ParseProviderStatus maps a provider webhook status onto the status its
// pending sub-transactions settle to.
func ParseProviderStatus(s string) (model.SubTransactionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "paid", "completed", "settled":
		return model.SubCompleted, nil
	case "failed", "declined", "expired", "canceled", "cancelled":
		return model.SubFailed, nil
	}
	return "", fmt.Errorf("unknown provider status %q", s)
}

// ApplyProviderStatus settles the pending sub-transactions of a processing
// payment. A payment that is no longer processing is returned unchanged and
// nothing is published, so repeated webhooks are harmless.
func (p *Processor) ApplyProviderStatus(ctx context.Context, paymentID, providerStatus string) (*Result, error) {
	const op = "apply provider status"

	settled, err := ParseProviderStatus(providerStatus)
	if err != nil {
		return nil, newError(KindInvalidAllocation, op, paymentID, err)
	}

	current, err := p.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, storageError(op, paymentID, err)
	}
	unlock, err := p.locker.Lock(ctx, lockKey(current.OrderID))
	if err != nil {
		return nil, newError(KindConflict, op, paymentID, fmt.Errorf("acquiring order lock: %w", err))
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "payment.ApplyProviderStatus", trace.WithAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("provider.status", providerStatus),
	))
	defer span.End()

	var (
		res     *Result
		changed bool
		voids   []string
	)
	err = store.RunInTransaction(ctx, p.store, func(tx store.Tx) error {
		pay, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		order, err := tx.GetOrder(ctx, pay.OrderID)
		if err != nil {
			return err
		}
		subs, err := tx.GetSubTransactions(ctx, paymentID)
		if err != nil {
			return err
		}
		if pay.Status != model.PaymentProcessing {
			res = resultFrom(pay, order, subs)
			return nil
		}

		now := p.now()
		for _, st := range subs {
			if st.Status != model.SubPending {
				continue
			}
			st.Status = settled
			if settled == model.SubFailed {
				st.FailureReason = "provider reported " + providerStatus
			}
			st.UpdatedAt = now
			if err := tx.SaveSubTransaction(ctx, st); err != nil {
				return err
			}
		}

		pay.Status = p.policy.outcome(subs)
		pay.UpdatedAt = now
		if err := tx.SavePayment(ctx, pay); err != nil {
			return err
		}
		if order.PaymentID == pay.ID {
			order.FulfillmentStatus = model.FulfillmentFor(pay.Status)
			order.UpdatedAt = now
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
		}
		if pay.Status == model.PaymentFailed {
			// Charges that settled before the failure are voided and
			// no longer count toward the payment.
			for _, st := range subs {
				if st.Status != model.SubCompleted {
					continue
				}
				if st.ProviderReference != "" {
					voids = append(voids, st.ProviderReference)
				}
				st.Status = model.SubFailed
				st.FailureReason = "voided: payment failed"
				st.UpdatedAt = now
				if err := tx.SaveSubTransaction(ctx, st); err != nil {
					return err
				}
			}
		}
		res = resultFrom(pay, order, subs)
		changed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, webhookError(op, paymentID, err)
	}
	if !changed {
		return res, nil
	}

	p.voidCharges(ctx, &run{charged: voids})
	p.metrics.IncrementOutcome(string(res.Status))
	p.publishRun(ctx, res)
	p.logger.Info("provider status applied",
		"payment_id", paymentID,
		"provider_status", providerStatus,
		"status", res.Status,
	)
	return res, nil
}

// webhookError classifies a failure from the settle transaction.
func webhookError(op, paymentID string, err error) *Error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return storageError(op, paymentID, err)
	}
	return newError(KindStorage, op, paymentID, err)
}

func resultFrom(pay *model.Payment, order *model.Order, subs []*model.SubTransaction) *Result {
	res := &Result{
		PaymentID:         pay.ID,
		OrderID:           pay.OrderID,
		Total:             pay.Total,
		Status:            pay.Status,
		FulfillmentStatus: order.FulfillmentStatus,
		CompletedAmount:   model.CompletedAmount(subs),
		SubTransactions:   make([]SubTransactionResult, 0, len(subs)),
	}
	if order.PaymentID != pay.ID {
		// The order has since moved on to another payment.
		res.FulfillmentStatus = model.FulfillmentFor(pay.Status)
	}
	for _, st := range subs {
		res.SubTransactions = append(res.SubTransactions, SubTransactionResult{
			Seq:               st.Seq,
			ID:                st.ID,
			Amount:            st.Amount,
			Method:            st.Method,
			Target:            st.Target,
			Status:            st.Status,
			ProviderReference: st.ProviderReference,
			Error:             st.FailureReason,
		})
	}
	return res
}
