// Package metrics holds the Prometheus collectors for payment processing and
// status broadcast. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the payment core.
type Metrics struct {
	// Terminal outcomes of split-payment runs by status
	PaymentOutcome *prometheus.CounterVec

	// Requests rejected before any state was touched, by error kind
	Rejected *prometheus.CounterVec

	// Sub-transaction outcomes by status
	SubTransactionOutcome *prometheus.CounterVec

	// Full run latency including commit
	ProcessLatency prometheus.Histogram

	// Per-connection broadcast results: delivered, skipped, failed
	BroadcastSends *prometheus.CounterVec

	// Publishes with no registered live clients
	BroadcastNoop prometheus.Counter

	// Currently registered live clients
	LiveClients prometheus.Gauge

	// Publish failures by stage: marshal, bus
	PublishErrors *prometheus.CounterVec

	// Export runs by result
	ExportRuns *prometheus.CounterVec
}

// New registers all collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		PaymentOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_payment_outcomes_total",
			Help: "Total split-payment runs by terminal status",
		}, []string{"status"}),

		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_payment_rejected_total",
			Help: "Total split-payment requests rejected by error kind",
		}, []string{"kind"}),

		SubTransactionOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_sub_transaction_outcomes_total",
			Help: "Total sub-transactions by final status, rolled_back when discarded with their payment",
		}, []string{"status"}),

		ProcessLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitpay_process_duration_seconds",
			Help:    "Duration of a split-payment run including commit",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		BroadcastSends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_broadcast_sends_total",
			Help: "Per-connection broadcast results",
		}, []string{"result"}),

		BroadcastNoop: f.NewCounter(prometheus.CounterOpts{
			Name: "splitpay_broadcast_noop_total",
			Help: "Publishes that found no registered live clients",
		}),

		LiveClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "splitpay_live_clients",
			Help: "Currently registered live clients",
		}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_publish_errors_total",
			Help: "Status publish failures by stage",
		}, []string{"stage"}),

		ExportRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_export_runs_total",
			Help: "Payment export runs by result",
		}, []string{"result"}),
	}
}

// IncrementOutcome records a terminal payment status.
func (m *Metrics) IncrementOutcome(status string) {
	if m != nil {
		m.PaymentOutcome.WithLabelValues(status).Inc()
	}
}

// IncrementRejected records a request rejected with the given error kind.
func (m *Metrics) IncrementRejected(kind string) {
	if m != nil {
		m.Rejected.WithLabelValues(kind).Inc()
	}
}

// IncrementSubTransaction records a sub-transaction outcome.
func (m *Metrics) IncrementSubTransaction(status string) {
	if m != nil {
		m.SubTransactionOutcome.WithLabelValues(status).Inc()
	}
}

// ObserveProcessLatency records the duration of a run.
func (m *Metrics) ObserveProcessLatency(d time.Duration) {
	if m != nil {
		m.ProcessLatency.Observe(d.Seconds())
	}
}

// AddBroadcastSends records per-connection broadcast results.
func (m *Metrics) AddBroadcastSends(delivered, skipped, failed int) {
	if m != nil {
		m.BroadcastSends.WithLabelValues("delivered").Add(float64(delivered))
		m.BroadcastSends.WithLabelValues("skipped").Add(float64(skipped))
		m.BroadcastSends.WithLabelValues("failed").Add(float64(failed))
	}
}

// IncrementBroadcastNoop records a publish with no registered clients.
func (m *Metrics) IncrementBroadcastNoop() {
	if m != nil {
		m.BroadcastNoop.Inc()
	}
}

// SetLiveClients sets the live client gauge.
func (m *Metrics) SetLiveClients(n int) {
	if m != nil {
		m.LiveClients.Set(float64(n))
	}
}

// IncrementPublishError records a publish failure at stage.
func (m *Metrics) IncrementPublishError(stage string) {
	if m != nil {
		m.PublishErrors.WithLabelValues(stage).Inc()
	}
}

// IncrementExportRun records an export run result.
func (m *Metrics) IncrementExportRun(result string) {
	if m != nil {
		m.ExportRuns.WithLabelValues(result).Inc()
	}
}
