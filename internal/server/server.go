// Package server exposes the payment processor over HTTP and gRPC and
// attaches live clients (SSE, WebSocket, gRPC streams) to the broadcast
// registry.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alfredjeanlab/splitpay/internal/broadcast"
	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/payment"
)

// Service is the payment core as seen by the transports.
type Service interface {
	ProcessSplitPayment(ctx context.Context, req payment.Request) (*payment.Result, error)
	ApplyProviderStatus(ctx context.Context, paymentID, providerStatus string) (*payment.Result, error)
	GetPayment(ctx context.Context, id string) (*payment.PaymentView, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListPayments(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int, error)
	Ping(ctx context.Context) error
}

// Server holds the collaborators shared by the HTTP and gRPC transports.
type Server struct {
	svc      Service
	registry *broadcast.Registry
	logger   *slog.Logger
	gatherer prometheus.Gatherer

	authToken  string
	clientBuf  int
	wsUpgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGatherer serves the given registry at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithAuthToken requires a bearer token on every request except health.
func WithAuthToken(token string) Option {
	return func(s *Server) { s.authToken = token }
}

// WithClientBuffer sets the per-client queue size for streamed messages.
func WithClientBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.clientBuf = n
		}
	}
}

// New returns a Server. The registry is shared with the status publisher
// so that anything published reaches the clients attached here.
func New(svc Service, registry *broadcast.Registry, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		registry:  registry,
		logger:    slog.Default(),
		gatherer:  prometheus.DefaultGatherer,
		clientBuf: 64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.wsUpgrader = newWSUpgrader()
	return s
}

// attach registers c with the registry and returns a func that detaches it.
func (s *Server) attach(c broadcast.Conn) func() {
	h := s.registry.Register(c)
	return func() { s.registry.Unregister(h) }
}

// statusFor maps a processor error kind to an HTTP status.
func statusFor(err error) int {
	switch payment.KindOf(err) {
	case payment.KindAllocationMismatch, payment.KindInvalidAllocation:
		return http.StatusBadRequest
	case payment.KindNotFound:
		return http.StatusNotFound
	case payment.KindConflict:
		return http.StatusConflict
	case payment.KindProvider:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
