package memory

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/store"
)

// staged is a pending write plus the version the entity had in the
// committed state when this tx first wrote it (0 for an insert).
type staged[T any] struct {
	val  *T
	base int
}

// tx stages writes until Commit. It is not safe for concurrent use.
type tx struct {
	s    *Store
	done bool

	payments map[string]staged[model.Payment]
	orders   map[string]staged[model.Order]
	subs     map[string]*model.SubTransaction
}

// Compile-time check that tx implements store.Tx.
var _ store.Tx = (*tx)(nil)

func (t *tx) GetPayment(_ context.Context, id string) (*model.Payment, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if sp, ok := t.payments[id]; ok {
		return t.s.withSubIDs(sp.val, t.subs), nil
	}
	p, ok := t.s.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.s.withSubIDs(p, t.subs), nil
}

func (t *tx) GetOrder(_ context.Context, id string) (*model.Order, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	if so, ok := t.orders[id]; ok {
		c := *so.val
		return &c, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	o, ok := t.s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (t *tx) GetSubTransactions(_ context.Context, paymentID string) ([]*model.SubTransaction, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return collectSubs(paymentID, t.s.subs, t.subs), nil
}

func (t *tx) SavePayment(_ context.Context, p *model.Payment) error {
	if t.done {
		return store.ErrTxDone
	}
	t.s.mu.RLock()
	cur, exists := t.paymentVersion(p.ID)
	t.s.mu.RUnlock()
	if err := checkVersion("payment", p.ID, p.Version, cur, exists); err != nil {
		return err
	}

	base := p.Version
	if prev, ok := t.payments[p.ID]; ok {
		base = prev.base
	}
	c := *p
	c.SubTransactionIDs = nil
	c.Version = p.Version + 1
	t.payments[p.ID] = staged[model.Payment]{val: &c, base: base}
	p.Version++
	return nil
}

func (t *tx) SaveOrder(_ context.Context, o *model.Order) error {
	if t.done {
		return store.ErrTxDone
	}
	t.s.mu.RLock()
	cur, exists := t.orderVersion(o.ID)
	t.s.mu.RUnlock()
	if err := checkVersion("order", o.ID, o.Version, cur, exists); err != nil {
		return err
	}

	base := o.Version
	if prev, ok := t.orders[o.ID]; ok {
		base = prev.base
	}
	c := *o
	c.Version = o.Version + 1
	t.orders[o.ID] = staged[model.Order]{val: &c, base: base}
	o.Version++
	return nil
}

// SaveSubTransaction inserts a sub-transaction or updates its mutable fields.
func (t *tx) SaveSubTransaction(_ context.Context, st *model.SubTransaction) error {
	if t.done {
		return store.ErrTxDone
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	existing, ok := t.subs[st.ID]
	if !ok {
		existing, ok = t.s.subs[st.ID]
	}
	if ok {
		c := *existing
		c.Status = st.Status
		c.ProviderReference = st.ProviderReference
		c.FailureReason = st.FailureReason
		c.UpdatedAt = st.UpdatedAt
		t.subs[st.ID] = &c
		return nil
	}

	if other := seqOwner(st.PaymentID, st.Seq, t.s.subs, t.subs); other != "" && other != st.ID {
		return fmt.Errorf("save sub-transaction %s: %w: seq %d already used by %s", st.ID, store.ErrConflict, st.Seq, other)
	}
	c := *st
	t.subs[st.ID] = &c
	return nil
}

// Commit validates versions and references against the committed state and
// applies every staged write under the store lock.
func (t *tx) Commit() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if err := t.validate(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for id, sp := range t.payments {
		t.s.payments[id] = sp.val
	}
	for id, so := range t.orders {
		t.s.orders[id] = so.val
	}
	for id, st := range t.subs {
		t.s.subs[id] = st
	}
	return nil
}

// Abort drops staged writes. It is idempotent.
func (t *tx) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	t.payments = nil
	t.orders = nil
	t.subs = nil
	return nil
}

// validate runs with the store write lock held.
func (t *tx) validate() error {
	for id, sp := range t.payments {
		var v int
		p, ok := t.s.payments[id]
		if ok {
			v = p.Version
		}
		if err := checkBase("payment", id, sp.base, ok, v); err != nil {
			return err
		}
	}
	for id, so := range t.orders {
		var v int
		o, ok := t.s.orders[id]
		if ok {
			v = o.Version
		}
		if err := checkBase("order", id, so.base, ok, v); err != nil {
			return err
		}
	}

	orderExists := func(id string) bool {
		_, staged := t.orders[id]
		_, committed := t.s.orders[id]
		return staged || committed
	}
	paymentExists := func(id string) bool {
		_, staged := t.payments[id]
		_, committed := t.s.payments[id]
		return staged || committed
	}

	for id, sp := range t.payments {
		if !orderExists(sp.val.OrderID) {
			return fmt.Errorf("%w: payment %s references missing order %s", store.ErrConflict, id, sp.val.OrderID)
		}
	}
	for id, so := range t.orders {
		if so.val.PaymentID != "" && !paymentExists(so.val.PaymentID) {
			return fmt.Errorf("%w: order %s references missing payment %s", store.ErrConflict, id, so.val.PaymentID)
		}
	}
	for id, st := range t.subs {
		if !paymentExists(st.PaymentID) {
			return fmt.Errorf("%w: sub-transaction %s references missing payment %s", store.ErrConflict, id, st.PaymentID)
		}
		for cid, c := range t.s.subs {
			if _, shadowed := t.subs[cid]; shadowed {
				continue
			}
			if c.PaymentID == st.PaymentID && c.Seq == st.Seq {
				return fmt.Errorf("%w: sub-transaction %s seq %d already used by %s", store.ErrConflict, id, st.Seq, cid)
			}
		}
	}
	return nil
}

// paymentVersion returns the version visible to this tx. Caller holds the read lock.
func (t *tx) paymentVersion(id string) (int, bool) {
	if sp, ok := t.payments[id]; ok {
		return sp.val.Version, true
	}
	if p, ok := t.s.payments[id]; ok {
		return p.Version, true
	}
	return 0, false
}

func (t *tx) orderVersion(id string) (int, bool) {
	if so, ok := t.orders[id]; ok {
		return so.val.Version, true
	}
	if o, ok := t.s.orders[id]; ok {
		return o.Version, true
	}
	return 0, false
}

func checkVersion(kind, id string, want, cur int, exists bool) error {
	switch {
	case want == 0 && exists:
		return fmt.Errorf("insert %s %s: %w: already exists", kind, id, store.ErrConflict)
	case want != 0 && !exists:
		return fmt.Errorf("update %s %s: %w", kind, id, store.ErrNotFound)
	case want != 0 && cur != want:
		return fmt.Errorf("update %s %s at version %d: %w: current version %d", kind, id, want, store.ErrConflict, cur)
	}
	return nil
}

func checkBase(kind, id string, base int, exists bool, cur int) error {
	if base == 0 && exists {
		return fmt.Errorf("%w: %s %s inserted concurrently", store.ErrConflict, kind, id)
	}
	if base != 0 && cur != base {
		return fmt.Errorf("%w: %s %s changed concurrently (version %d, expected %d)", store.ErrConflict, kind, id, cur, base)
	}
	return nil
}

// seqOwner returns the ID of the sub-transaction holding (paymentID, seq),
// preferring staged entries, or "" if none does.
func seqOwner(paymentID string, seq int, committed, overlay map[string]*model.SubTransaction) string {
	for id, st := range overlay {
		if st.PaymentID == paymentID && st.Seq == seq {
			return id
		}
	}
	for id, st := range committed {
		if _, shadowed := overlay[id]; shadowed {
			continue
		}
		if st.PaymentID == paymentID && st.Seq == seq {
			return id
		}
	}
	return ""
}
