package payment

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/alfredjeanlab/splitpay/internal/events"
	"github.com/alfredjeanlab/splitpay/internal/lock"
	"github.com/alfredjeanlab/splitpay/internal/metrics"
	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/store"
	"github.com/alfredjeanlab/splitpay/internal/store/memory"
)

type ProcessorSuite struct {
	suite.Suite
	ctx   context.Context
	store *faultyStore
	prov  *fakeProvider
	pub   *recordingPublisher
	ids   *seqIDs
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &faultyStore{Store: memory.New()}
	s.prov = &fakeProvider{}
	s.pub = &recordingPublisher{}
	s.ids = &seqIDs{}
}

func (s *ProcessorSuite) processor(opts ...Option) *Processor {
	base := []Option{WithIDGenerator(s.ids)}
	return NewProcessor(s.store, s.prov, s.pub, append(base, opts...)...)
}

func allocs(targets map[int]string, amounts ...int64) []model.Allocation {
	out := make([]model.Allocation, len(amounts))
	for i, a := range amounts {
		target := "card_ok"
		if t, ok := targets[i]; ok {
			target = t
		}
		out[i] = model.Allocation{Amount: a, Method: "card", Target: target}
	}
	return out
}

func (s *ProcessorSuite) paymentCount() int {
	_, total, err := s.store.ListPayments(s.ctx, model.PaymentFilter{})
	s.Require().NoError(err)
	return total
}

func (s *ProcessorSuite) TestAllAllocationsSucceed() {
	p := s.processor()

	res, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 40, 60)})
	s.Require().NoError(err)
	s.Equal(model.PaymentCompleted, res.Status)
	s.Equal(model.FulfillmentPaid, res.FulfillmentStatus)
	s.Equal(int64(100), res.CompletedAmount)
	s.Require().Len(res.SubTransactions, 2)

	pay, err := s.store.GetPayment(s.ctx, res.PaymentID)
	s.Require().NoError(err)
	s.Equal(model.PaymentCompleted, pay.Status)
	s.Equal([]string{"sub-1", "sub-2"}, pay.SubTransactionIDs)

	order, err := s.store.GetOrder(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(model.FulfillmentPaid, order.FulfillmentStatus)
	s.Equal(res.PaymentID, order.PaymentID)

	subs, err := s.store.GetSubTransactions(s.ctx, res.PaymentID)
	s.Require().NoError(err)
	for _, st := range subs {
		s.Equal(model.SubCompleted, st.Status)
		s.Equal("ch_"+st.ID, st.ProviderReference)
	}

	evs := s.pub.all()
	s.Require().Len(evs, 1)
	s.Equal(res.PaymentID, evs[0].PaymentID)
	s.Equal("completed", evs[0].Status)
	s.Equal(int64(100), evs[0].Details["completedAmount"])
}

func (s *ProcessorSuite) TestNegativeAllocationRejectedBeforeAnyWrite() {
	p := s.processor()

	res, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, -10, 110)})
	s.Nil(res)
	s.True(IsKind(err, KindInvalidAllocation), "got %v", err)
	s.True(errors.Is(err, model.ErrInvalidAllocation))

	s.Zero(s.paymentCount())
	_, err = s.store.GetOrder(s.ctx, "ord-1")
	s.ErrorIs(err, store.ErrNotFound)
	s.Empty(s.pub.all())
	s.Empty(s.prov.targets())
	s.Empty(s.store.journal(), "no transaction may be opened")
}

func (s *ProcessorSuite) TestMismatchedSumRejected() {
	p := s.processor()

	_, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 30, 60)})
	s.Equal(KindAllocationMismatch, KindOf(err))
	s.True(errors.Is(err, model.ErrAllocationMismatch))
	s.Zero(s.paymentCount())
	s.Empty(s.pub.all())
}

// A provider failure on the second allocation, strict.
func (s *ProcessorSuite) TestStrictRollsBackOnProviderFailure() {
	p := s.processor(WithPolicy(PolicyStrict))

	res, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{1: "decline_card"}, 50, 50),
	})
	s.Require().NoError(err)
	s.Equal(model.PaymentFailed, res.Status)
	s.Equal(model.FulfillmentPaymentFailed, res.FulfillmentStatus)
	s.Zero(res.CompletedAmount)
	s.Require().Len(res.SubTransactions, 2)
	for _, sr := range res.SubTransactions {
		s.True(sr.RolledBack)
	}
	s.NotEmpty(res.SubTransactions[1].Error)

	pay, err := s.store.GetPayment(s.ctx, res.PaymentID)
	s.Require().NoError(err)
	s.Equal(model.PaymentFailed, pay.Status)
	s.Empty(pay.SubTransactionIDs)

	subs, err := s.store.GetSubTransactions(s.ctx, res.PaymentID)
	s.Require().NoError(err)
	s.Empty(subs, "sub-transactions must be rolled back")

	order, err := s.store.GetOrder(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(model.FulfillmentPaymentFailed, order.FulfillmentStatus)

	s.Equal([]string{"failed"}, s.pub.statuses())
	s.Equal([]string{"ch_sub-1"}, s.prov.voided)
}

// The same failure under best effort.
func (s *ProcessorSuite) TestBestEffortRecordsMix() {
	p := s.processor(WithPolicy(PolicyBestEffort))

	res, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{1: "decline_card"}, 50, 50),
	})
	s.Require().NoError(err)
	s.Equal(model.PaymentPartiallyCompleted, res.Status)
	s.Equal(model.FulfillmentAwaitingPayment, res.FulfillmentStatus)
	s.Equal(int64(50), res.CompletedAmount)

	subs, err := s.store.GetSubTransactions(s.ctx, res.PaymentID)
	s.Require().NoError(err)
	s.Require().Len(subs, 2)
	s.Equal(model.SubCompleted, subs[0].Status)
	s.Equal(model.SubFailed, subs[1].Status)
	s.Contains(subs[1].FailureReason, "declined")

	evs := s.pub.all()
	s.Require().Len(evs, 1)
	s.Equal("partially_completed", evs[0].Status)
	details, ok := evs[0].Details["subTransactions"].([]map[string]any)
	s.Require().True(ok)
	s.Require().Len(details, 2)
	s.Equal("completed", details[0]["status"])
	s.Equal("failed", details[1]["status"])
	s.NotEmpty(details[1]["error"])
	s.Empty(s.prov.voided)
}

func (s *ProcessorSuite) TestBestEffortAllFailed() {
	p := s.processor(WithPolicy(PolicyBestEffort))

	res, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{0: "decline_a", 1: "decline_b"}, 50, 50),
	})
	s.Require().NoError(err)
	s.Equal(model.PaymentFailed, res.Status)
	s.Equal(model.FulfillmentPaymentFailed, res.FulfillmentStatus)

	subs, err := s.store.GetSubTransactions(s.ctx, res.PaymentID)
	s.Require().NoError(err)
	s.Len(subs, 2, "best effort keeps failed sub-transactions")
}

func (s *ProcessorSuite) TestStrictStopsAtFirstFailure() {
	p := s.processor()

	_, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 90,
		Allocations: allocs(map[int]string{0: "decline_first"}, 30, 30, 30),
	})
	s.Require().NoError(err)
	s.Equal([]string{"decline_first"}, s.prov.targets())
}

func (s *ProcessorSuite) TestAllocationsChargedInIndexOrder() {
	p := s.processor(WithPolicy(PolicyBestEffort))
	req := Request{OrderID: "ord-1", Total: 60, Allocations: []model.Allocation{
		{Amount: 10, Method: "card", Target: "c"},
		{Amount: 20, Method: "wallet", Target: "a"},
		{Amount: 30, Method: "bank", Target: "b"},
	}}

	res, err := p.ProcessSplitPayment(s.ctx, req)
	s.Require().NoError(err)
	s.Equal([]string{"c", "a", "b"}, s.prov.targets())
	for i, sr := range res.SubTransactions {
		s.Equal(i, sr.Seq)
		s.Equal(req.Allocations[i].Amount, sr.Amount)
	}
}

func (s *ProcessorSuite) TestProgressEventsPrecedeTerminal() {
	p := s.processor(WithProgressEvents(true))

	_, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 40, 60)})
	s.Require().NoError(err)
	s.Equal([]string{
		events.StatusSubTransactionCompleted,
		events.StatusSubTransactionCompleted,
		"completed",
	}, s.pub.statuses())
}

func (s *ProcessorSuite) TestNoProgressEventsForStrictFailure() {
	p := s.processor(WithProgressEvents(true))

	_, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{1: "decline"}, 50, 50),
	})
	s.Require().NoError(err)
	s.Equal([]string{"failed"}, s.pub.statuses())
}

func (s *ProcessorSuite) TestPaidOrderRejected() {
	p := s.processor()
	_, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 100)})
	s.Require().NoError(err)

	_, err = p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 100)})
	s.Equal(KindConflict, KindOf(err))
	s.Equal(1, s.paymentCount())
	s.Len(s.pub.all(), 1)
}

func (s *ProcessorSuite) TestRetryAfterFailedPayment() {
	p := s.processor()
	first, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{0: "decline"}, 100),
	})
	s.Require().NoError(err)
	s.Equal(model.PaymentFailed, first.Status)

	second, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 100)})
	s.Require().NoError(err)
	s.Equal(model.PaymentCompleted, second.Status)

	order, err := s.store.GetOrder(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(second.PaymentID, order.PaymentID)
	s.Equal(model.FulfillmentPaid, order.FulfillmentStatus)

	prev, err := s.store.GetPayment(s.ctx, first.PaymentID)
	s.Require().NoError(err)
	s.Equal(model.PaymentFailed, prev.Status)
}

func (s *ProcessorSuite) TestStorageFailureMidRun() {
	s.store.failSubSave = 3 // insert sub 0, update sub 0, insert sub 1 fails
	p := s.processor()

	res, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 50, 50)})
	s.Nil(res)
	s.Equal(KindStorage, KindOf(err))
	s.ErrorIs(err, errInjected)

	var perr *Error
	s.Require().ErrorAs(err, &perr)
	pay, err := s.store.GetPayment(s.ctx, perr.PaymentID)
	s.Require().NoError(err)
	s.Equal(model.PaymentFailed, pay.Status)
	subs, err := s.store.GetSubTransactions(s.ctx, perr.PaymentID)
	s.Require().NoError(err)
	s.Empty(subs)

	order, err := s.store.GetOrder(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(model.FulfillmentPaymentFailed, order.FulfillmentStatus)

	s.Equal([]string{"failed"}, s.pub.statuses())
	s.Equal([]string{"ch_sub-1"}, s.prov.voided)
}

func (s *ProcessorSuite) TestCommitFailureIsStorageKind() {
	s.store.failCommit = 1
	p := s.processor()

	_, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 40, 60)})
	s.Equal(KindCommit, KindOf(err))
	s.True(IsKind(err, KindStorage))
	s.ErrorIs(err, store.ErrConflict)

	order, err := s.store.GetOrder(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(model.FulfillmentPaymentFailed, order.FulfillmentStatus)
	s.Equal([]string{"failed"}, s.pub.statuses())
	s.Len(s.prov.voided, 2)
}

func (s *ProcessorSuite) TestNothingPublishedWhenFailureCannotBeRecorded() {
	s.store.failBegin = 2
	p := s.processor()

	_, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 100)})
	s.Equal(KindStorage, KindOf(err))
	s.Empty(s.pub.all())
	s.Zero(s.paymentCount())
}

// Every event must reference state that is already committed.
func (s *ProcessorSuite) TestPublishAfterDurability() {
	s.pub.onPublish = func(ev events.StatusEvent) {
		s.store.record("publish")
		if ev.Status == events.StatusSubTransactionCompleted {
			return
		}
		pay, err := s.store.Store.GetPayment(s.ctx, ev.PaymentID)
		if s.NoError(err, "payment must be visible when %s is published", ev.Status) {
			s.Equal(ev.Status, string(pay.Status))
		}
	}

	cases := []struct {
		name   string
		policy Policy
		setup  func()
		req    Request
	}{
		{"completed", PolicyStrict, nil, Request{OrderID: "ord-a", Total: 100, Allocations: allocs(nil, 40, 60)}},
		{"strict failure", PolicyStrict, nil, Request{OrderID: "ord-b", Total: 100, Allocations: allocs(map[int]string{1: "decline"}, 50, 50)}},
		{"partial", PolicyBestEffort, nil, Request{OrderID: "ord-c", Total: 100, Allocations: allocs(map[int]string{0: "decline"}, 50, 50)}},
		{"commit failure", PolicyStrict, func() { s.store.failCommit = 1 }, Request{OrderID: "ord-d", Total: 100, Allocations: allocs(nil, 100)}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.store.log = nil
			if tc.setup != nil {
				tc.setup()
			}
			p := s.processor(WithPolicy(tc.policy), WithProgressEvents(true))
			_, _ = p.ProcessSplitPayment(s.ctx, tc.req)

			j := s.store.journal()
			pub := slices.Index(j, "publish")
			s.Require().NotEqual(-1, pub, "journal %v", j)
			s.Contains(j[:pub], "commit", "journal %v", j)
		})
	}
}

func (s *ProcessorSuite) TestPendingChargeSettledByWebhook() {
	p := s.processor()

	res, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{1: "pending_bank"}, 40, 60),
	})
	s.Require().NoError(err)
	s.Equal(model.PaymentProcessing, res.Status)
	s.Equal(model.FulfillmentAwaitingPayment, res.FulfillmentStatus)
	s.Equal(int64(40), res.CompletedAmount)

	// A second run is refused while the first is in flight.
	_, err = p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(nil, 100)})
	s.Equal(KindConflict, KindOf(err))

	settled, err := p.ApplyProviderStatus(s.ctx, res.PaymentID, "succeeded")
	s.Require().NoError(err)
	s.Equal(model.PaymentCompleted, settled.Status)
	s.Equal(model.FulfillmentPaid, settled.FulfillmentStatus)
	s.Equal(int64(100), settled.CompletedAmount)

	order, err := s.store.GetOrder(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(model.FulfillmentPaid, order.FulfillmentStatus)
	s.Equal([]string{"processing", "completed"}, s.pub.statuses())

	again, err := p.ApplyProviderStatus(s.ctx, res.PaymentID, "succeeded")
	s.Require().NoError(err)
	s.Equal(model.PaymentCompleted, again.Status)
	s.Len(s.pub.all(), 2, "repeated webhook publishes nothing")
}

func (s *ProcessorSuite) TestWebhookFailureUnderStrictFailsPayment() {
	p := s.processor()

	res, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{1: "pending_bank"}, 40, 60),
	})
	s.Require().NoError(err)

	settled, err := p.ApplyProviderStatus(s.ctx, res.PaymentID, "declined")
	s.Require().NoError(err)
	s.Equal(model.PaymentFailed, settled.Status)
	s.Equal(model.FulfillmentPaymentFailed, settled.FulfillmentStatus)
	s.Equal([]string{"ch_sub-1"}, s.prov.voided)
	s.Zero(settled.CompletedAmount)
	for _, sr := range settled.SubTransactions {
		s.Equal(model.SubFailed, sr.Status, "seq %d", sr.Seq)
	}

	subs, err := s.store.GetSubTransactions(s.ctx, res.PaymentID)
	s.Require().NoError(err)
	s.Require().Len(subs, 2)
	for _, st := range subs {
		s.Equal(model.SubFailed, st.Status, "seq %d", st.Seq)
	}
	s.Equal("voided: payment failed", subs[0].FailureReason)
	s.Zero(model.CompletedAmount(subs))

	view, err := p.GetPayment(s.ctx, res.PaymentID)
	s.Require().NoError(err)
	s.Zero(view.CompletedAmount)
}

func (s *ProcessorSuite) TestWebhookFailureUnderBestEffortIsPartial() {
	p := s.processor(WithPolicy(PolicyBestEffort))

	res, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{1: "pending_bank"}, 40, 60),
	})
	s.Require().NoError(err)

	settled, err := p.ApplyProviderStatus(s.ctx, res.PaymentID, "expired")
	s.Require().NoError(err)
	s.Equal(model.PaymentPartiallyCompleted, settled.Status)
	s.Equal(model.FulfillmentAwaitingPayment, settled.FulfillmentStatus)
	s.Empty(s.prov.voided)
}

func (s *ProcessorSuite) TestWebhookErrors() {
	p := s.processor()

	_, err := p.ApplyProviderStatus(s.ctx, "pay-missing", "succeeded")
	s.Equal(KindNotFound, KindOf(err))

	_, err = p.ApplyProviderStatus(s.ctx, "pay-missing", "weird")
	s.Equal(KindInvalidAllocation, KindOf(err))
	s.Empty(s.pub.all())
}

func (s *ProcessorSuite) TestGetPaymentView() {
	p := s.processor(WithPolicy(PolicyBestEffort))
	res, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{0: "decline"}, 30, 70),
	})
	s.Require().NoError(err)

	view, err := p.GetPayment(s.ctx, res.PaymentID)
	s.Require().NoError(err)
	s.Equal(res.PaymentID, view.Payment.ID)
	s.Equal("ord-1", view.Order.ID)
	s.Len(view.SubTransactions, 2)
	s.Equal(int64(70), view.CompletedAmount)

	_, err = p.GetPayment(s.ctx, "nope")
	s.Equal(KindNotFound, KindOf(err))

	_, err = p.GetOrder(s.ctx, "nope")
	s.Equal(KindNotFound, KindOf(err))

	list, total, err := p.ListPayments(s.ctx, model.PaymentFilter{OrderID: "ord-1"})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Len(list, 1)
}

func (s *ProcessorSuite) TestSumOfCompletedNeverExceedsTotal() {
	p := s.processor(WithPolicy(PolicyBestEffort))
	for i, targets := range []map[int]string{
		nil,
		{0: "decline"},
		{1: "decline", 2: "pending"},
		{0: "decline", 1: "decline", 2: "decline"},
	} {
		res, err := p.ProcessSplitPayment(s.ctx, Request{
			OrderID:     "ord-" + string(rune('a'+i)),
			Total:       90,
			Allocations: allocs(targets, 30, 30, 30),
		})
		s.Require().NoError(err)
		subs, err := s.store.GetSubTransactions(s.ctx, res.PaymentID)
		s.Require().NoError(err)
		s.LessOrEqual(model.CompletedAmount(subs), int64(90))
		order, err := s.store.GetOrder(s.ctx, res.OrderID)
		s.Require().NoError(err)
		s.Equal(res.Status == model.PaymentCompleted, order.FulfillmentStatus == model.FulfillmentPaid)
	}
}

func (s *ProcessorSuite) TestMetrics() {
	m := metrics.New(prometheus.NewRegistry())
	p := s.processor(WithMetrics(m), WithPolicy(PolicyBestEffort))

	_, err := p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-1", Total: 100, Allocations: allocs(map[int]string{1: "decline"}, 50, 50)})
	s.Require().NoError(err)
	_, _ = p.ProcessSplitPayment(s.ctx, Request{OrderID: "ord-2", Total: 100, Allocations: allocs(nil, 10)})

	s.Equal(1.0, testutil.ToFloat64(m.PaymentOutcome.WithLabelValues("partially_completed")))
	s.Equal(1.0, testutil.ToFloat64(m.SubTransactionOutcome.WithLabelValues("completed")))
	s.Equal(1.0, testutil.ToFloat64(m.SubTransactionOutcome.WithLabelValues("failed")))
	s.Equal(1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("allocation_mismatch")))
}

func (s *ProcessorSuite) TestStrictFailureCountsSubsAsRolledBack() {
	m := metrics.New(prometheus.NewRegistry())
	p := s.processor(WithMetrics(m))

	res, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{1: "decline"}, 50, 50),
	})
	s.Require().NoError(err)
	s.Equal(model.PaymentFailed, res.Status)

	s.Equal(2.0, testutil.ToFloat64(m.SubTransactionOutcome.WithLabelValues("rolled_back")))
	s.Zero(testutil.ToFloat64(m.SubTransactionOutcome.WithLabelValues("completed")))
	s.Zero(testutil.ToFloat64(m.SubTransactionOutcome.WithLabelValues("failed")))
}

func (s *ProcessorSuite) TestLosingRunLeavesClaimedOrderAlone() {
	s.prov.entered = make(chan struct{})
	s.prov.release = make(chan struct{})
	p := s.processor()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.ProcessSplitPayment(s.ctx, Request{
			OrderID: "ord-1", Total: 100,
			Allocations: allocs(map[int]string{0: "hold"}, 100),
		})
		done <- outcome{res, err}
	}()
	<-s.prov.entered

	winner, err := p.ProcessSplitPayment(s.ctx, Request{
		OrderID: "ord-1", Total: 100,
		Allocations: allocs(map[int]string{0: "pending_bank"}, 100),
	})
	s.Require().NoError(err)
	s.Equal(model.PaymentProcessing, winner.Status)

	close(s.prov.release)
	lost := <-done
	s.Nil(lost.res)
	s.Equal(KindCommit, KindOf(lost.err))
	s.ErrorIs(lost.err, store.ErrConflict)

	var perr *Error
	s.Require().ErrorAs(lost.err, &perr)
	s.NotEqual(winner.PaymentID, perr.PaymentID)
	loser, err := s.store.GetPayment(s.ctx, perr.PaymentID)
	s.Require().NoError(err)
	s.Equal(model.PaymentFailed, loser.Status)

	order, err := s.store.GetOrder(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(winner.PaymentID, order.PaymentID)
	s.Equal(model.FulfillmentAwaitingPayment, order.FulfillmentStatus)

	settled, err := p.ApplyProviderStatus(s.ctx, winner.PaymentID, "succeeded")
	s.Require().NoError(err)
	s.Equal(model.PaymentCompleted, settled.Status)
	s.Equal(model.FulfillmentPaid, settled.FulfillmentStatus)

	order, err = s.store.GetOrder(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(model.FulfillmentPaid, order.FulfillmentStatus)

	var sawLoser bool
	for _, ev := range s.pub.all() {
		if ev.PaymentID == perr.PaymentID {
			sawLoser = true
			s.Equal("failed", ev.Status)
		}
	}
	s.True(sawLoser)
}

func TestSameOrderSerializedWithLocker(t *testing.T) {
	st := memory.New()
	prov := &fakeProvider{}
	pub := &recordingPublisher{}
	p := NewProcessor(st, prov, pub, WithLocker(lock.NewKeyedMutex()))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.ProcessSplitPayment(context.Background(), Request{
				OrderID: "ord-1", Total: 100,
				Allocations: []model.Allocation{{Amount: 100, Method: "card", Target: "ok"}},
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case IsKind(err, KindConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, conflicts)
	assert.Equal(t, []string{"completed"}, pub.statuses())

	order, err := st.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, model.FulfillmentPaid, order.FulfillmentStatus)
}

func TestConcurrentRunsOnDifferentOrders(t *testing.T) {
	st := memory.New()
	pub := &recordingPublisher{}
	p := NewProcessor(st, &fakeProvider{}, pub)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.ProcessSplitPayment(context.Background(), Request{
				OrderID: "ord-" + time.Duration(i).String(),
				Total:   100,
				Allocations: []model.Allocation{
					{Amount: 25, Method: "card", Target: "a"},
					{Amount: 75, Method: "card", Target: "b"},
				},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, total, err := st.ListPayments(context.Background(), model.PaymentFilter{Status: []model.PaymentStatus{model.PaymentCompleted}})
	require.NoError(t, err)
	assert.Equal(t, 20, total)
	assert.Len(t, pub.all(), 20)
}

func TestRunIgnoresCallerCancellationAfterValidation(t *testing.T) {
	st := memory.New()
	pub := &recordingPublisher{}
	p := NewProcessor(st, &fakeProvider{}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := p.ProcessSplitPayment(ctx, Request{
		OrderID: "ord-1", Total: 10,
		Allocations: []model.Allocation{{Amount: 10, Method: "card", Target: "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, res.Status)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyStrict, "strict": PolicyStrict, "best_effort": PolicyBestEffort} {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("yolo")
	assert.Error(t, err)
}

func TestParseProviderStatus(t *testing.T) {
	for _, in := range []string{"succeeded", "PAID", " completed "} {
		got, err := ParseProviderStatus(in)
		require.NoError(t, err)
		assert.Equal(t, model.SubCompleted, got)
	}
	for _, in := range []string{"failed", "declined", "expired", "canceled"} {
		got, err := ParseProviderStatus(in)
		require.NoError(t, err)
		assert.Equal(t, model.SubFailed, got)
	}
	_, err := ParseProviderStatus("refunded")
	assert.Error(t, err)
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := &Error{Kind: KindStorage, Op: "process split payment", PaymentID: "pay-1", Err: cause}
	assert.Equal(t, "process split payment: storage (payment pay-1): disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Kind(""), KindOf(cause))
	assert.False(t, IsKind(err, KindCommit))
	assert.True(t, IsKind(&Error{Kind: KindCommit}, KindStorage))
}
