package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alfredjeanlab/splitpay/internal/events"
	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/provider"
	"github.com/alfredjeanlab/splitpay/internal/store"
	"github.com/alfredjeanlab/splitpay/internal/store/memory"
)

// seqIDs hands out predictable IDs.
type seqIDs struct {
	mu      sync.Mutex
	payment int
	sub     int
}

func (g *seqIDs) PaymentID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payment++
	return fmt.Sprintf("pay-%d", g.payment), nil
}

func (g *seqIDs) SubTransactionID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sub++
	return fmt.Sprintf("sub-%d", g.sub), nil
}

// fakeProvider decides outcomes from the target prefix and records calls.
//
//	decline*  declined
//	pending*  accepted, settled later
//	hold*     signals entered, then succeeds once release is closed
//	anything else succeeds
type fakeProvider struct {
	mu     sync.Mutex
	calls  []provider.ChargeRequest
	voided []string

	entered chan struct{}
	release chan struct{}
}

func (f *fakeProvider) Charge(_ context.Context, req provider.ChargeRequest) (*provider.Charge, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	ref := "ch_" + req.IdempotencyKey
	switch {
	case strings.HasPrefix(req.Target, "decline"):
		return nil, &provider.Error{Code: "card_declined", Message: "insufficient funds", Declined: true}
	case strings.HasPrefix(req.Target, "pending"):
		return &provider.Charge{Reference: ref, Pending: true}, nil
	case strings.HasPrefix(req.Target, "hold"):
		f.entered <- struct{}{}
		<-f.release
	}
	return &provider.Charge{Reference: ref}, nil
}

func (f *fakeProvider) Void(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voided = append(f.voided, ref)
	return nil
}

func (f *fakeProvider) targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Target
	}
	return out
}

// recordingPublisher captures events. onPublish, when set, runs before the
// event is recorded.
type recordingPublisher struct {
	mu        sync.Mutex
	events    []events.StatusEvent
	onPublish func(ev events.StatusEvent)
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.StatusEvent) {
	if r.onPublish != nil {
		r.onPublish(ev)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) all() []events.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.StatusEvent(nil), r.events...)
}

func (r *recordingPublisher) statuses() []string {
	var out []string
	for _, ev := range r.all() {
		out = append(out, ev.Status)
	}
	return out
}

var errInjected = errors.New("injected storage failure")

// faultyStore wraps the memory store with injectable failures. Counters are
// consumed in order: failBegin fails the next n Begin calls, failSubSave
// fails the nth sub-transaction save of the next tx, failCommit fails the
// next n commits.
type faultyStore struct {
	*memory.Store

	mu          sync.Mutex
	failBegin   int
	failSubSave int
	failCommit  int
	log         []string
}

func (f *faultyStore) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, s)
}

func (f *faultyStore) journal() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *faultyStore) Begin(ctx context.Context) (store.Tx, error) {
	f.mu.Lock()
	if f.failBegin > 0 {
		f.failBegin--
		f.mu.Unlock()
		f.record("begin-error")
		return nil, errInjected
	}
	failSub := f.failSubSave
	f.failSubSave = 0
	f.mu.Unlock()

	tx, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	f.record("begin")
	return &faultyTx{Tx: tx, s: f, failSub: failSub}, nil
}

type faultyTx struct {
	store.Tx
	s       *faultyStore
	failSub int
	subs    int
}

func (t *faultyTx) SaveSubTransaction(ctx context.Context, st *model.SubTransaction) error {
	t.subs++
	if t.failSub > 0 && t.subs == t.failSub {
		return errInjected
	}
	return t.Tx.SaveSubTransaction(ctx, st)
}

func (t *faultyTx) Commit() error {
	t.s.mu.Lock()
	fail := t.s.failCommit > 0
	if fail {
		t.s.failCommit--
	}
	t.s.mu.Unlock()
	if fail {
		t.s.record("commit-error")
		return fmt.Errorf("commit: %w", store.ErrConflict)
	}
	if err := t.Tx.Commit(); err != nil {
		return err
	}
	t.s.record("commit")
	return nil
}

func (t *faultyTx) Abort() error {
	t.s.record("abort")
	return t.Tx.Abort()
}
