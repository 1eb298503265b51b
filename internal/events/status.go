package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/splitpay/internal/broadcast"
	"github.com/alfredjeanlab/splitpay/internal/metrics"
)

// Broadcaster delivers an encoded message to live clients.
type Broadcaster interface {
	Publish(ctx context.Context, msg []byte) broadcast.Report
}

// PublishError describes a status message that could not be emitted. It is
// logged and counted, never returned to the payment caller.
type PublishError struct {
	Stage     string // "marshal" or "bus"
	PaymentID string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s for payment %s: %v", e.Stage, e.PaymentID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// StatusPublisher translates status events to wire messages and hands them
// to the live-client registry and then the bus. It never fails the caller.
type StatusPublisher struct {
	registry Broadcaster
	bus      Publisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// StatusOption configures a StatusPublisher.
type StatusOption func(*StatusPublisher)

// WithLogger sets the logger for swallowed failures.
func WithLogger(logger *slog.Logger) StatusOption {
	return func(p *StatusPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) StatusOption {
	return func(p *StatusPublisher) { p.metrics = m }
}

// WithClock overrides the time source used to stamp EmittedAt.
func WithClock(now func() time.Time) StatusOption {
	return func(p *StatusPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewStatusPublisher builds the adapter. Either registry or bus may be nil.
func NewStatusPublisher(registry Broadcaster, bus Publisher, opts ...StatusOption) *StatusPublisher {
	p := &StatusPublisher{
		registry: registry,
		bus:      bus,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Publish emits ev. Failures are logged and counted as PublishError.
func (p *StatusPublisher) Publish(ctx context.Context, ev StatusEvent) {
	msg := NewMessage(ev, p.now())
	data, err := json.Marshal(msg)
	if err != nil {
		p.fail(&PublishError{Stage: "marshal", PaymentID: ev.PaymentID, Err: err}, ev.Status)
		return
	}

	if p.registry != nil {
		rep := p.registry.Publish(ctx, data)
		p.logger.Debug("status broadcast",
			"payment_id", ev.PaymentID,
			"status", ev.Status,
			"recipients", rep.Recipients,
			"delivered", rep.Delivered,
			"failed", rep.Failed,
		)
	}

	if p.bus != nil {
		if err := p.bus.Publish(ctx, TopicFor(ev.Status), Envelope{Key: ev.PaymentID, Payload: data}); err != nil {
			p.fail(&PublishError{Stage: "bus", PaymentID: ev.PaymentID, Err: err}, ev.Status)
		}
	}
}

func (p *StatusPublisher) fail(err *PublishError, status string) {
	p.metrics.IncrementPublishError(err.Stage)
	p.logger.Warn("failed to publish status event",
		"payment_id", err.PaymentID,
		"topic", TopicFor(status),
		"stage", err.Stage,
		"err", err.Err,
	)
}
