package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/alfredjeanlab/splitpay/internal/idgen"
)

// Sandbox is an in-process provider for development. Outcomes are driven by
// the allocation target:
//
//	decline*  declined
//	error*    provider error
//	pending*  accepted, settled later by webhook
//	anything else succeeds
type Sandbox struct {
	mu     sync.Mutex
	voided []string
}

var (
	_ Provider = (*Sandbox)(nil)
	_ Voider   = (*Sandbox)(nil)
)

// NewSandbox returns a sandbox provider.
func NewSandbox() *Sandbox { return &Sandbox{} }

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Code: "canceled", Message: err.Error()}
	}
	ref, err := idgen.GenerateWithPrefix("ch_")
	if err != nil {
		return nil, &Error{Code: "internal", Message: err.Error()}
	}

	target := strings.ToLower(req.Target)
	switch {
	case strings.HasPrefix(target, "decline"):
		return nil, &Error{Code: "card_declined", Message: "insufficient funds", Declined: true, Reference: ref}
	case strings.HasPrefix(target, "error"):
		return nil, &Error{Code: "gateway_error", Message: "upstream gateway unavailable"}
	case strings.HasPrefix(target, "pending"):
		return &Charge{Reference: ref, Pending: true}, nil
	}
	return &Charge{Reference: ref}, nil
}

func (s *Sandbox) Void(_ context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voided = append(s.voided, reference)
	return nil
}

// Voided returns the references voided so far.
func (s *Sandbox) Voided() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.voided...)
}
