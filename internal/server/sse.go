package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alfredjeanlab/splitpay/internal/broadcast"
	"github.com/alfredjeanlab/splitpay/internal/events"
)

// sseKeepaliveInterval is how often keepalive comments are sent to prevent
// connection timeouts.
const sseKeepaliveInterval = 15 * time.Second

// filterConn passes on only messages for one payment. Other messages are
// accepted and dropped so the client is not treated as failed.
type filterConn struct {
	broadcast.Conn
	paymentID string
}

func (f *filterConn) Send(ctx context.Context, msg []byte) error {
	if !matchesPayment(msg, f.paymentID) {
		return nil
	}
	return f.Conn.Send(ctx, msg)
}

func matchesPayment(msg []byte, paymentID string) bool {
	if paymentID == "" {
		return true
	}
	var m struct {
		PaymentID string `json:"paymentId"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return false
	}
	return m.PaymentID == paymentID
}

// wrapFilter applies an optional payment filter to c.
func wrapFilter(c broadcast.Conn, paymentID string) broadcast.Conn {
	if paymentID == "" {
		return c
	}
	return &filterConn{Conn: c, paymentID: paymentID}
}

// handleEventStream handles GET /v1/events/stream (SSE endpoint). The
// optional payment_id query parameter limits the stream to one payment.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := broadcast.NewQueueConn(s.clientBuf)
	detach := s.attach(wrapFilter(q, r.URL.Query().Get("payment_id")))
	defer detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.Done():
			// Dropped by the registry after a failed send.
			return
		case msg := <-q.Messages():
			seq++
			writeSSEEvent(w, seq, msg)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the writer.
func writeSSEEvent(w http.ResponseWriter, id uint64, data []byte) {
	fmt.Fprintf(w, "id:%d\n", id)
	fmt.Fprintf(w, "event:%s\n", events.TypePaymentStatus)
	fmt.Fprintf(w, "data:%s\n\n", data)
}
