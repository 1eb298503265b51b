package payment

import (
	"fmt"

	"github.com/alfredjeanlab/splitpay/internal/model"
)

// Policy decides what a per-allocation provider failure does to the run.
type Policy string

const (
	// PolicyStrict stops at the first failed allocation and rolls back every
	// sub-transaction of the run. The payment is recorded as failed.
	PolicyStrict Policy = "strict"
	// PolicyBestEffort attempts every allocation and commits the mix. The
	// payment status is the aggregate of its sub-transactions.
	PolicyBestEffort Policy = "best_effort"
)

func (p Policy) String() string { return string(p) }

// ParsePolicy parses a policy name. The empty string is strict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyBestEffort:
		return PolicyBestEffort, nil
	}
	return "", fmt.Errorf("unknown partial-failure policy %q (want %q or %q)", s, PolicyStrict, PolicyBestEffort)
}

// stopOnFailure reports whether the allocation loop ends at the first failure.
func (p Policy) stopOnFailure() bool { return p != PolicyBestEffort }

// outcome returns the payment status for subs under p. Under strict any
// failure fails the whole payment.
func (p Policy) outcome(subs []*model.SubTransaction) model.PaymentStatus {
	if p.stopOnFailure() {
		for _, st := range subs {
			if st.Status == model.SubFailed {
				return model.PaymentFailed
			}
		}
	}
	return model.AggregateStatus(subs)
}
