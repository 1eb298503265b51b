// Package memory implements store.Store in process memory. Writes made
// through a Tx are staged and only applied, all at once, when the Tx
// commits; readers never observe staged state.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu       sync.RWMutex
	payments map[string]*model.Payment
	orders   map[string]*model.Order
	subs     map[string]*model.SubTransaction
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		payments: make(map[string]*model.Payment),
		orders:   make(map[string]*model.Order),
		subs:     make(map[string]*model.SubTransaction),
	}
}

func (s *Store) GetPayment(_ context.Context, id string) (*model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.withSubIDs(p, nil), nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (s *Store) GetSubTransactions(_ context.Context, paymentID string) ([]*model.SubTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collectSubs(paymentID, s.subs, nil), nil
}

// ListPayments returns payments newest first.
func (s *Store) ListPayments(_ context.Context, filter model.PaymentFilter) ([]*model.Payment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Payment
	for _, p := range s.payments {
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, p.Status) {
			continue
		}
		if filter.OrderID != "" && p.OrderID != filter.OrderID {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*model.Payment, len(matched))
	for i, p := range matched {
		out[i] = s.withSubIDs(p, nil)
	}
	return out, total, nil
}

// Begin starts a staged transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &tx{
		s:        s,
		payments: make(map[string]staged[model.Payment]),
		orders:   make(map[string]staged[model.Order]),
		subs:     make(map[string]*model.SubTransaction),
	}, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// withSubIDs copies p and fills SubTransactionIDs from committed and, when
// given, staged sub-transactions. Caller holds at least a read lock.
func (s *Store) withSubIDs(p *model.Payment, overlay map[string]*model.SubTransaction) *model.Payment {
	c := *p
	subs := collectSubs(p.ID, s.subs, overlay)
	c.SubTransactionIDs = make([]string, len(subs))
	for i, st := range subs {
		c.SubTransactionIDs[i] = st.ID
	}
	return &c
}

// collectSubs returns copies of the sub-transactions of paymentID ordered by
// Seq, with overlay entries replacing committed ones of the same ID.
func collectSubs(paymentID string, committed, overlay map[string]*model.SubTransaction) []*model.SubTransaction {
	out := []*model.SubTransaction{}
	for id, st := range committed {
		if st.PaymentID != paymentID {
			continue
		}
		if _, shadowed := overlay[id]; shadowed {
			continue
		}
		c := *st
		out = append(out, &c)
	}
	for _, st := range overlay {
		if st.PaymentID != paymentID {
			continue
		}
		c := *st
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
