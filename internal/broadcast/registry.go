// Package broadcast fans payment status messages out to the live clients
// currently connected to this process.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/splitpay/internal/metrics"
)

// DefaultSendTimeout bounds a single connection's send during Publish.
const DefaultSendTimeout = 2 * time.Second

// Conn is a live client connection. Send must return once ctx is done.
type Conn interface {
	Open() bool
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Handle identifies a registration. Handles are never reused.
type Handle string

// Report summarizes one Publish. Recipients is the snapshot size.
type Report struct {
	Recipients int
	Delivered  int
	Skipped    int
	Failed     int
}

// Registry is the set of connected live clients. It is safe for concurrent
// use; Publish works on a snapshot, so Register and Unregister may run while
// a publish is in flight.
type Registry struct {
	mu    sync.RWMutex
	conns map[Handle]Conn

	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithSendTimeout sets the per-connection send bound.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		conns:       make(map[Handle]Conn),
		sendTimeout: DefaultSendTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register adds c and returns its handle. It never fails.
func (r *Registry) Register(c Conn) Handle {
	h := Handle(uuid.NewString())
	r.mu.Lock()
	r.conns[h] = c
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetLiveClients(n)
	r.logger.Debug("live client registered", "handle", h, "clients", n)
	return h
}

// Unregister removes and closes the connection for h. Unknown or already
// removed handles are ignored.
func (r *Registry) Unregister(h Handle) {
	if c, ok := r.remove(h); ok {
		_ = c.Close()
		r.logger.Debug("live client unregistered", "handle", h)
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown closes and removes every registered connection.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[Handle]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	r.metrics.SetLiveClients(0)
}

type member struct {
	h Handle
	c Conn
}

// Publish sends msg to every open member of the current membership
// snapshot. Sends run concurrently, each bounded by the send timeout. A
// member that is not open or whose send fails is removed and closed; other
// members are unaffected. With no members Publish is a no-op that is only
// counted and logged.
func (r *Registry) Publish(ctx context.Context, msg []byte) Report {
	r.mu.RLock()
	snapshot := make([]member, 0, len(r.conns))
	for h, c := range r.conns {
		snapshot = append(snapshot, member{h: h, c: c})
	}
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		r.metrics.IncrementBroadcastNoop()
		r.logger.Debug("broadcast with no live clients")
		return Report{}
	}

	var delivered, skipped, failed atomic.Int64
	var wg sync.WaitGroup
	for _, m := range snapshot {
		if !m.c.Open() {
			skipped.Add(1)
			r.drop(m.h, nil)
			continue
		}
		wg.Add(1)
		go func(m member) {
			defer wg.Done()
			if err := r.send(ctx, m.c, msg); err != nil {
				failed.Add(1)
				r.drop(m.h, err)
				return
			}
			delivered.Add(1)
		}(m)
	}
	wg.Wait()

	rep := Report{
		Recipients: len(snapshot),
		Delivered:  int(delivered.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
	}
	r.metrics.AddBroadcastSends(rep.Delivered, rep.Skipped, rep.Failed)
	return rep
}

// send bounds c.Send by the send timeout even if c ignores its context.
func (r *Registry) send(ctx context.Context, c Conn, msg []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Send(sendCtx, msg) }()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return sendCtx.Err()
	}
}

// drop removes h if it is still registered and closes its connection.
func (r *Registry) drop(h Handle, cause error) {
	c, ok := r.remove(h)
	if !ok {
		return
	}
	_ = c.Close()
	if cause != nil {
		r.logger.Warn("dropping live client after failed send", "handle", h, "err", cause)
	} else {
		r.logger.Debug("dropping closed live client", "handle", h)
	}
}

func (r *Registry) remove(h Handle) (Conn, bool) {
	r.mu.Lock()
	c, ok := r.conns[h]
	if ok {
		delete(r.conns, h)
	}
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.metrics.SetLiveClients(n)
	}
	return c, ok
}
