package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/splitpay/internal/metrics"
)

// fakeConn records sends and can be told to fail, block, or report closed.
type fakeConn struct {
	mu      sync.Mutex
	got     [][]byte
	sendErr error
	block   bool // ignore ctx and never return until released
	release chan struct{}
	closed  atomic.Bool
	onSend  func()
}

func newFakeConn() *fakeConn { return &fakeConn{release: make(chan struct{})} }

func (f *fakeConn) Open() bool { return !f.closed.Load() }

func (f *fakeConn) Send(ctx context.Context, msg []byte) error {
	if f.onSend != nil {
		f.onSend()
	}
	if f.block {
		<-f.release
		return nil
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeConn) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.got...)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublish_FailingConnIsolated(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	ctx := context.Background()

	var good []*fakeConn
	for i := 0; i < 4; i++ {
		c := newFakeConn()
		good = append(good, c)
		r.Register(c)
	}
	bad := newFakeConn()
	bad.sendErr = errors.New("broken pipe")
	r.Register(bad)

	rep := r.Publish(ctx, []byte(`{"status":"completed"}`))
	assert.Equal(t, Report{Recipients: 5, Delivered: 4, Failed: 1}, rep)
	assert.Equal(t, 4, r.Len(), "failed connection removed")
	assert.True(t, bad.closed.Load(), "failed connection closed")

	for _, c := range good {
		require.Len(t, c.messages(), 1)
		assert.JSONEq(t, `{"status":"completed"}`, string(c.messages()[0]))
	}

	// Later publishes still reach every healthy member.
	rep = r.Publish(ctx, []byte(`{}`))
	assert.Equal(t, 4, rep.Delivered)
}

func TestPublish_SlowConnBoundedAndRemoved(t *testing.T) {
	r := New(WithLogger(quietLogger()), WithSendTimeout(30*time.Millisecond))
	slow := newFakeConn()
	slow.block = true
	defer close(slow.release)
	fast := newFakeConn()
	r.Register(slow)
	r.Register(fast)

	start := time.Now()
	rep := r.Publish(context.Background(), []byte("m"))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "publish must not wait on a stuck connection")
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, r.Len())
	assert.Len(t, fast.messages(), 1)
}

func TestPublish_NoMembersIsCountedNoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := New(WithLogger(quietLogger()), WithMetrics(m))

	rep := r.Publish(context.Background(), []byte("m"))
	assert.Equal(t, Report{}, rep)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastNoop))
}

func TestPublish_SkipsClosedMembers(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	closed := newFakeConn()
	closed.closed.Store(true)
	open := newFakeConn()
	r.Register(closed)
	r.Register(open)

	rep := r.Publish(context.Background(), []byte("m"))
	assert.Equal(t, Report{Recipients: 2, Delivered: 1, Skipped: 1}, rep)
	assert.Equal(t, 1, r.Len())
}

func TestPublish_SnapshotExcludesLateRegistrations(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	late := newFakeConn()
	trigger := newFakeConn()
	var once sync.Once
	trigger.onSend = func() { once.Do(func() { r.Register(late) }) }
	r.Register(trigger)

	rep := r.Publish(context.Background(), []byte("first"))
	assert.Equal(t, 1, rep.Recipients)
	assert.Empty(t, late.messages(), "connection registered mid-publish is not in the snapshot")
	assert.Equal(t, 2, r.Len())

	r.Publish(context.Background(), []byte("second"))
	assert.Len(t, late.messages(), 1)
}

func TestUnregister_Idempotent(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	c := newFakeConn()
	h := r.Register(c)

	r.Unregister(h)
	r.Unregister(h)
	r.Unregister(Handle("never-registered"))

	assert.Equal(t, 0, r.Len())
	assert.True(t, c.closed.Load())
}

func TestRegister_HandlesUnique(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	seen := map[Handle]bool{}
	for i := 0; i < 100; i++ {
		h := r.Register(newFakeConn())
		require.False(t, seen[h], "duplicate handle %s", h)
		seen[h] = true
	}
}

// Exercised under -race: membership changes concurrent with publishes.
func TestRegistry_ConcurrentUse(t *testing.T) {
	r := New(WithLogger(quietLogger()), WithSendTimeout(50*time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h := r.Register(newFakeConn())
				if j%2 == 0 {
					r.Unregister(h)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Publish(ctx, []byte("m"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8*25, r.Len())
}

func TestShutdown_ClosesAll(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	a, b := newFakeConn(), newFakeConn()
	r.Register(a)
	r.Register(b)

	r.Shutdown()
	assert.Equal(t, 0, r.Len())
	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
}

func TestQueueConn(t *testing.T) {
	q := NewQueueConn(1)
	ctx := context.Background()

	require.True(t, q.Open())
	require.NoError(t, q.Send(ctx, []byte("a")))

	// Buffer full: Send waits until ctx expires.
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Send(short, []byte("b")), context.DeadlineExceeded)

	assert.Equal(t, []byte("a"), <-q.Messages())

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.False(t, q.Open())
	assert.ErrorIs(t, q.Send(ctx, []byte("c")), ErrClosed)

	select {
	case <-q.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestQueueConn_ThroughRegistry(t *testing.T) {
	r := New(WithLogger(quietLogger()), WithSendTimeout(20*time.Millisecond))
	q := NewQueueConn(0)
	r.Register(q)

	// Unbuffered and nobody reading: the send times out and the conn is dropped.
	rep := r.Publish(context.Background(), []byte("m"))
	assert.Equal(t, 1, rep.Failed)
	assert.False(t, q.Open())
}
