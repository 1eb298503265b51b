package broadcast

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send on a closed connection.
var ErrClosed = errors.New("connection closed")

// QueueConn is a Conn backed by a buffered channel. Transport handlers
// (SSE, gRPC streams) drain Messages and watch Done.
type QueueConn struct {
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

var _ Conn = (*QueueConn)(nil)

// NewQueueConn returns a connection buffering up to size messages.
func NewQueueConn(size int) *QueueConn {
	if size < 0 {
		size = 0
	}
	return &QueueConn{
		ch:     make(chan []byte, size),
		closed: make(chan struct{}),
	}
}

func (q *QueueConn) Open() bool {
	select {
	case <-q.closed:
		return false
	default:
		return true
	}
}

// Send enqueues msg, waiting for buffer space until ctx is done.
func (q *QueueConn) Send(ctx context.Context, msg []byte) error {
	if !q.Open() {
		return ErrClosed
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the connection closed. It is idempotent.
func (q *QueueConn) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

// Messages returns the delivery channel. It is never closed; select on Done.
func (q *QueueConn) Messages() <-chan []byte { return q.ch }

// Done is closed when the connection is closed.
func (q *QueueConn) Done() <-chan struct{} { return q.closed }
