// Package payment implements the split-payment processor: it validates an
// allocation set, applies it to the payment, order and sub-transactions in
// one transaction, and publishes the outcome once it is durable.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfredjeanlab/splitpay/internal/events"
	"github.com/alfredjeanlab/splitpay/internal/idgen"
	"github.com/alfredjeanlab/splitpay/internal/lock"
	"github.com/alfredjeanlab/splitpay/internal/metrics"
	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/provider"
	"github.com/alfredjeanlab/splitpay/internal/store"
)

// StatusPublisher receives one event per durable state transition.
type StatusPublisher interface {
	Publish(ctx context.Context, ev events.StatusEvent)
}

// Request is a validated split-payment request from the transport layer.
type Request struct {
	OrderID     string             `json:"orderId"`
	Total       int64              `json:"total"`
	Allocations []model.Allocation `json:"allocations"`
}

// SubTransactionResult is the outcome of one allocation.
type SubTransactionResult struct {
	Seq               int                        `json:"seq"`
	ID                string                     `json:"id"`
	Amount            int64                      `json:"amount"`
	Method            string                     `json:"method"`
	Target            string                     `json:"target"`
	Status            model.SubTransactionStatus `json:"status"`
	ProviderReference string                     `json:"providerReference,omitempty"`
	Error             string                     `json:"error,omitempty"`
	// RolledBack is set when the allocation was attempted but the run's
	// writes were discarded.
	RolledBack bool `json:"rolledBack,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	PaymentID         string                  `json:"paymentId"`
	OrderID           string                  `json:"orderId"`
	Total             int64                   `json:"total"`
	Status            model.PaymentStatus     `json:"status"`
	FulfillmentStatus model.FulfillmentStatus `json:"fulfillmentStatus"`
	CompletedAmount   int64                   `json:"completedAmount"`
	SubTransactions   []SubTransactionResult  `json:"subTransactions"`
}

// Processor runs split payments. It is safe for concurrent use.
type Processor struct {
	store    store.Store
	provider provider.Provider
	pub      StatusPublisher

	policy   Policy
	progress bool
	locker   lock.Locker
	ids      idgen.Generator
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// Option configures a Processor.
type Option func(*Processor)

// WithPolicy sets the partial-failure policy. The default is strict.
func WithPolicy(p Policy) Option {
	return func(pr *Processor) { pr.policy = p }
}

// WithProgressEvents enables one event per completed sub-transaction ahead
// of the terminal event.
func WithProgressEvents(enabled bool) Option {
	return func(pr *Processor) { pr.progress = enabled }
}

// WithLocker serializes runs per order. The default does not lock.
func WithLocker(l lock.Locker) Option {
	return func(pr *Processor) {
		if l != nil {
			pr.locker = l
		}
	}
}

// WithIDGenerator overrides entity ID generation.
func WithIDGenerator(g idgen.Generator) Option {
	return func(pr *Processor) {
		if g != nil {
			pr.ids = g
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(pr *Processor) {
		if now != nil {
			pr.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(pr *Processor) {
		if logger != nil {
			pr.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(pr *Processor) { pr.metrics = m }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(pr *Processor) {
		if tp != nil {
			pr.tracer = tp.Tracer(tracerName)
		}
	}
}

const tracerName = "github.com/alfredjeanlab/splitpay/internal/payment"

// subRolledBack labels sub-transactions discarded with their payment.
const subRolledBack = "rolled_back"

// NewProcessor builds a Processor. pub may be nil to disable notifications.
func NewProcessor(s store.Store, p provider.Provider, pub StatusPublisher, opts ...Option) *Processor {
	pr := &Processor{
		store:    s,
		provider: p,
		pub:      pub,
		policy:   PolicyStrict,
		locker:   lock.Noop{},
		ids:      idgen.Nanoid{},
		now:      time.Now,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(pr)
		}
	}
	return pr
}

// Policy returns the configured partial-failure policy.
func (p *Processor) Policy() Policy { return p.policy }

// run carries the state of one ProcessSplitPayment invocation.
type run struct {
	req     Request
	payment *model.Payment
	order   *model.Order
	subs    []*model.SubTransaction
	// charged holds references of charges the provider accepted.
	charged []string
	// errs holds the provider failure for each sub, keyed by Seq.
	errs map[int]error
}

// ProcessSplitPayment validates req, applies it in one transaction and
// publishes the outcome. Provider failures are resolved by the policy and
// reported in the Result; storage failures return an *Error of kind storage
// or commit after the failure has been recorded.
func (p *Processor) ProcessSplitPayment(ctx context.Context, req Request) (*Result, error) {
	const op = "process split payment"

	if err := model.ValidateAllocations(req.OrderID, req.Total, req.Allocations); err != nil {
		perr := validationError(op, err)
		p.metrics.IncrementRejected(string(perr.Kind))
		return nil, perr
	}

	unlock, err := p.locker.Lock(ctx, lockKey(req.OrderID))
	if err != nil {
		return nil, newError(KindConflict, op, "", fmt.Errorf("acquiring order lock: %w", err))
	}
	defer unlock()

	// Past validation a run always reaches a terminal state.
	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "payment.ProcessSplitPayment", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Int64("payment.total", req.Total),
		attribute.Int("payment.allocations", len(req.Allocations)),
		attribute.String("payment.policy", string(p.policy)),
	))
	defer span.End()
	start := p.now()

	res, err := p.process(ctx, req)
	p.metrics.ObserveProcessLatency(p.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		p.metrics.IncrementRejected(string(KindOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("payment.id", res.PaymentID),
		attribute.String("payment.status", string(res.Status)),
	)
	p.metrics.IncrementOutcome(string(res.Status))
	return res, nil
}

func (p *Processor) process(ctx context.Context, req Request) (*Result, error) {
	const op = "process split payment"

	paymentID, err := p.ids.PaymentID()
	if err != nil {
		return nil, newError(KindStorage, op, "", err)
	}
	r := &run{req: req, errs: make(map[int]error)}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, p.failRun(ctx, r, paymentID, newError(KindStorage, op, paymentID, err))
	}
	defer tx.Abort() //nolint:errcheck

	if err := p.allocate(ctx, tx, r, paymentID); err != nil {
		var perr *Error
		if errors.As(err, &perr) && perr.Kind == KindConflict {
			return nil, perr
		}
		_ = tx.Abort()
		return nil, p.failRun(ctx, r, paymentID, newError(KindStorage, op, paymentID, err))
	}

	status := p.policy.outcome(r.subs)
	if status == model.PaymentFailed && p.policy.stopOnFailure() {
		if err := tx.Abort(); err != nil {
			p.logger.Warn("abort after failed allocation", "payment_id", paymentID, "err", err)
		}
		return p.failStrict(ctx, r, paymentID)
	}

	now := p.now()
	r.payment.Status = status
	r.payment.UpdatedAt = now
	r.order.FulfillmentStatus = model.FulfillmentFor(status)
	r.order.UpdatedAt = now
	if err := tx.SavePayment(ctx, r.payment); err != nil {
		_ = tx.Abort()
		return nil, p.failRun(ctx, r, paymentID, newError(KindStorage, op, paymentID, err))
	}
	if err := tx.SaveOrder(ctx, r.order); err != nil {
		_ = tx.Abort()
		return nil, p.failRun(ctx, r, paymentID, newError(KindStorage, op, paymentID, err))
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Abort()
		return nil, p.failRun(ctx, r, paymentID, newError(KindCommit, op, paymentID, err))
	}

	for _, st := range r.subs {
		p.metrics.IncrementSubTransaction(string(st.Status))
	}
	res := p.result(r, false)
	p.publishRun(ctx, res)
	p.logger.Info("split payment processed",
		"payment_id", paymentID,
		"order_id", req.OrderID,
		"status", status,
		"policy", p.policy,
	)
	return res, nil
}

// allocate loads or creates the order, creates the payment and walks the
// allocations in index order. Only storage failures and order conflicts are
// returned; provider failures are recorded on the sub-transaction.
func (p *Processor) allocate(ctx context.Context, tx store.Tx, r *run, paymentID string) error {
	const op = "process split payment"
	now := p.now()

	order, err := tx.GetOrder(ctx, r.req.OrderID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		order = &model.Order{
			ID:                r.req.OrderID,
			FulfillmentStatus: model.FulfillmentAwaitingPayment,
			CreatedAt:         now,
		}
	case err != nil:
		return fmt.Errorf("loading order %s: %w", r.req.OrderID, err)
	}
	if err := p.checkOrderOpen(ctx, tx, order); err != nil {
		return newError(KindConflict, op, "", err)
	}

	r.order = order
	r.payment = &model.Payment{
		ID:        paymentID,
		OrderID:   order.ID,
		Total:     r.req.Total,
		Status:    model.PaymentProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.SavePayment(ctx, r.payment); err != nil {
		return fmt.Errorf("saving payment: %w", err)
	}
	order.PaymentID = paymentID
	order.FulfillmentStatus = model.FulfillmentAwaitingPayment
	order.UpdatedAt = now
	if err := tx.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("saving order: %w", err)
	}

	for seq, alloc := range r.req.Allocations {
		st, err := p.charge(ctx, tx, r, seq, alloc)
		if err != nil {
			return err
		}
		if st.Status == model.SubFailed && p.policy.stopOnFailure() {
			break
		}
	}
	return nil
}

// checkOrderOpen rejects a run for an order that is already paid or has a
// payment still in flight.
func (p *Processor) checkOrderOpen(ctx context.Context, tx store.Tx, order *model.Order) error {
	if order.FulfillmentStatus == model.FulfillmentPaid {
		return fmt.Errorf("order %s is already paid", order.ID)
	}
	if order.PaymentID == "" {
		return nil
	}
	prev, err := tx.GetPayment(ctx, order.PaymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if prev.Status == model.PaymentProcessing || prev.Status == model.PaymentPending {
		return fmt.Errorf("order %s has payment %s in flight", order.ID, prev.ID)
	}
	return nil
}

// charge creates the sub-transaction for one allocation, calls the provider
// and saves the outcome.
func (p *Processor) charge(ctx context.Context, tx store.Tx, r *run, seq int, alloc model.Allocation) (*model.SubTransaction, error) {
	id, err := p.ids.SubTransactionID()
	if err != nil {
		return nil, err
	}
	now := p.now()
	st := &model.SubTransaction{
		ID:        id,
		PaymentID: r.payment.ID,
		Seq:       seq,
		Amount:    alloc.Amount,
		Method:    alloc.Method,
		Target:    alloc.Target,
		Status:    model.SubPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.SaveSubTransaction(ctx, st); err != nil {
		return nil, fmt.Errorf("saving sub-transaction %d: %w", seq, err)
	}
	r.subs = append(r.subs, st)

	ch, err := p.provider.Charge(ctx, provider.ChargeRequest{
		IdempotencyKey: st.ID,
		PaymentID:      r.payment.ID,
		Amount:         st.Amount,
		Method:         st.Method,
		Target:         st.Target,
	})
	switch {
	case err != nil:
		st.Status = model.SubFailed
		st.FailureReason = err.Error()
		var perr *provider.Error
		if errors.As(err, &perr) {
			st.ProviderReference = perr.Reference
		}
		r.errs[seq] = err
		p.logger.Warn("allocation failed",
			"payment_id", r.payment.ID,
			"seq", seq,
			"amount", st.Amount,
			"err", err,
		)
	case ch.Pending:
		st.ProviderReference = ch.Reference
		r.charged = append(r.charged, ch.Reference)
	default:
		st.Status = model.SubCompleted
		st.ProviderReference = ch.Reference
		r.charged = append(r.charged, ch.Reference)
	}
	st.UpdatedAt = p.now()

	if err := tx.SaveSubTransaction(ctx, st); err != nil {
		return nil, fmt.Errorf("saving sub-transaction %d: %w", seq, err)
	}
	return st, nil
}

// failStrict records a strict-mode failure after the run transaction has
// been aborted: the payment is failed with no sub-transactions and any
// accepted charges are voided.
func (p *Processor) failStrict(ctx context.Context, r *run, paymentID string) (*Result, error) {
	p.voidCharges(ctx, r)
	if err := p.recordFailure(ctx, r, paymentID); err != nil {
		return nil, newError(KindStorage, "record failed payment", paymentID, err)
	}
	for range r.subs {
		p.metrics.IncrementSubTransaction(subRolledBack)
	}
	res := p.result(r, true)
	p.publishRun(ctx, res)
	p.logger.Info("split payment failed",
		"payment_id", paymentID,
		"order_id", r.req.OrderID,
		"policy", p.policy,
	)
	return res, nil
}

// failRun handles a storage or commit failure: charges are voided, the
// failure is recorded in a fresh transaction and, only if that succeeds,
// a failed event is published. cause is returned.
func (p *Processor) failRun(ctx context.Context, r *run, paymentID string, cause *Error) error {
	p.logger.Error("split payment aborted",
		"payment_id", paymentID,
		"order_id", r.req.OrderID,
		"kind", cause.Kind,
		"err", cause.Err,
	)
	p.voidCharges(ctx, r)
	if err := p.recordFailure(ctx, r, paymentID); err != nil {
		p.logger.Error("failed to record payment failure",
			"payment_id", paymentID,
			"err", err,
		)
		return cause
	}
	res := p.result(r, true)
	p.publishRun(ctx, res)
	return cause
}

// recordFailure persists a failed payment with no sub-transactions and marks
// its order payment_failed. An order another run has since claimed is left
// alone; only the failed payment is written.
func (p *Processor) recordFailure(ctx context.Context, r *run, paymentID string) error {
	now := p.now()
	return store.RunInTransaction(ctx, p.store, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, r.req.OrderID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			order = &model.Order{ID: r.req.OrderID, CreatedAt: now}
		case err != nil:
			return fmt.Errorf("loading order %s: %w", r.req.OrderID, err)
		}
		claimed, err := claimedByOther(ctx, tx, order, paymentID)
		if err != nil {
			return err
		}
		pay := &model.Payment{
			ID:        paymentID,
			OrderID:   r.req.OrderID,
			Total:     r.req.Total,
			Status:    model.PaymentFailed,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.SavePayment(ctx, pay); err != nil {
			return fmt.Errorf("saving failed payment: %w", err)
		}
		if claimed {
			p.logger.Warn("order claimed by another payment",
				"order_id", order.ID,
				"payment_id", paymentID,
				"current_payment_id", order.PaymentID,
			)
		} else {
			order.PaymentID = paymentID
			order.FulfillmentStatus = model.FulfillmentPaymentFailed
			order.UpdatedAt = now
			if err := tx.SaveOrder(ctx, order); err != nil {
				return fmt.Errorf("saving order: %w", err)
			}
		}
		r.payment = pay
		r.order = order
		return nil
	})
}

// claimedByOther reports whether order now points at a payment other than
// paymentID that has not failed.
func claimedByOther(ctx context.Context, tx store.Tx, order *model.Order, paymentID string) (bool, error) {
	if order.PaymentID == "" || order.PaymentID == paymentID {
		return false, nil
	}
	if order.FulfillmentStatus == model.FulfillmentPaid {
		return true, nil
	}
	cur, err := tx.GetPayment(ctx, order.PaymentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("loading payment %s: %w", order.PaymentID, err)
	}
	return cur.Status != model.PaymentFailed, nil
}

func (p *Processor) voidCharges(ctx context.Context, r *run) {
	if len(r.charged) == 0 {
		return
	}
	v, ok := p.provider.(provider.Voider)
	if !ok {
		p.logger.Warn("provider cannot void charges", "charges", len(r.charged))
		return
	}
	for _, ref := range r.charged {
		if err := v.Void(ctx, ref); err != nil {
			p.logger.Warn("failed to void charge", "reference", ref, "err", err)
		}
	}
}

// result builds the run Result. rolledBack marks every attempted
// sub-transaction as discarded.
func (p *Processor) result(r *run, rolledBack bool) *Result {
	res := &Result{
		PaymentID:         r.payment.ID,
		OrderID:           r.req.OrderID,
		Total:             r.req.Total,
		Status:            r.payment.Status,
		FulfillmentStatus: r.order.FulfillmentStatus,
		SubTransactions:   make([]SubTransactionResult, 0, len(r.subs)),
	}
	if r.order.PaymentID != r.payment.ID {
		res.FulfillmentStatus = model.FulfillmentFor(r.payment.Status)
	}
	if !rolledBack {
		res.CompletedAmount = model.CompletedAmount(r.subs)
	}
	for _, st := range r.subs {
		sr := SubTransactionResult{
			Seq:               st.Seq,
			ID:                st.ID,
			Amount:            st.Amount,
			Method:            st.Method,
			Target:            st.Target,
			Status:            st.Status,
			ProviderReference: st.ProviderReference,
			RolledBack:        rolledBack,
		}
		if err := r.errs[st.Seq]; err != nil {
			sr.Error = err.Error()
		}
		res.SubTransactions = append(res.SubTransactions, sr)
	}
	return res
}

// publishRun emits the run's events. It must only be called after the
// run's transaction has committed or been aborted and the failure recorded.
func (p *Processor) publishRun(ctx context.Context, res *Result) {
	if p.pub == nil {
		return
	}
	if p.progress && res.Status != model.PaymentFailed {
		for _, sr := range res.SubTransactions {
			if sr.Status != model.SubCompleted {
				continue
			}
			p.pub.Publish(ctx, events.StatusEvent{
				PaymentID: res.PaymentID,
				Status:    events.StatusSubTransactionCompleted,
				Details: map[string]any{
					"seq":               sr.Seq,
					"subTransactionId":  sr.ID,
					"amount":            sr.Amount,
					"providerReference": sr.ProviderReference,
				},
				EmittedAt: p.now(),
			})
		}
	}
	p.pub.Publish(ctx, events.StatusEvent{
		PaymentID: res.PaymentID,
		Status:    string(res.Status),
		Details:   details(res, p.policy),
		EmittedAt: p.now(),
	})
}

func details(res *Result, policy Policy) map[string]any {
	subs := make([]map[string]any, 0, len(res.SubTransactions))
	for _, sr := range res.SubTransactions {
		d := map[string]any{
			"seq":    sr.Seq,
			"amount": sr.Amount,
			"method": sr.Method,
			"status": string(sr.Status),
		}
		if sr.ProviderReference != "" {
			d["providerReference"] = sr.ProviderReference
		}
		if sr.Error != "" {
			d["error"] = sr.Error
		}
		if sr.RolledBack {
			d["rolledBack"] = true
		}
		subs = append(subs, d)
	}
	return map[string]any{
		"orderId":           res.OrderID,
		"total":             res.Total,
		"completedAmount":   res.CompletedAmount,
		"fulfillmentStatus": string(res.FulfillmentStatus),
		"policy":            string(policy),
		"subTransactions":   subs,
	}
}

func lockKey(orderID string) string { return "order:" + orderID }
