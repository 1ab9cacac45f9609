package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakePort serves bytes pushed by the test and fails once told to.
type fakePort struct {
	mu      sync.Mutex
	pending []byte
	err     error
	closed  int
	reads   int
}

func (p *fakePort) push(s string) {
	p.mu.Lock()
	p.pending = append(p.pending, s...)
	p.mu.Unlock()
}

func (p *fakePort) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *fakePort) Available() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) > 0 {
		return len(p.pending), nil
	}
	return 0, p.err
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return errors.New("already gone")
}

func (p *fakePort) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

const (
	waitFor = time.Second
	tick    = time.Millisecond
)

func startMonitor(t *testing.T, port Port, opts ...Option) *Monitor {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	m := NewMonitor(port, opts...)
	t.Cleanup(func() { m.Stop() })
	return m
}

func TestMonitor_DuplicateFrameNotifiesOnce(t *testing.T) {
	port := &fakePort{}
	m := startMonitor(t, port)

	var fired atomic.Int32
	m.SetFrameHandler(func() {
		fired.Add(1)
		m.Ack()
	})
	require.NoError(t, m.Start(context.Background()))

	port.push("\nA\n")
	require.Eventually(t, func() bool { return fired.Load() == 1 }, waitFor, tick)

	port.push("A\n")
	require.Eventually(t, func() bool { return m.Stats().Duplicates == 1 }, waitFor, tick)
	require.EqualValues(t, 1, fired.Load())
	require.Equal(t, []byte("A"), m.LatestFrame())
}

func TestMonitor_AtMostOneNotificationInFlight(t *testing.T) {
	port := &fakePort{}
	m := startMonitor(t, port)

	var fired atomic.Int32
	m.SetFrameHandler(func() { fired.Add(1) })
	require.NoError(t, m.Start(context.Background()))

	port.push("\nA\n")
	require.Eventually(t, func() bool { return m.Stats().FramesExtracted == 1 }, waitFor, tick)
	port.push("B\n")
	require.Eventually(t, func() bool { return m.Stats().FramesExtracted == 2 }, waitFor, tick)
	port.push("C\n")
	require.Eventually(t, func() bool { return m.Stats().FramesExtracted == 3 }, waitFor, tick)

	require.EqualValues(t, 1, fired.Load(), "unacknowledged notification blocks further ones")
	require.EqualValues(t, 2, m.Stats().Superseded)
	require.Equal(t, []byte("C"), m.LatestFrame())

	m.Ack()
	port.push("D\n")
	require.Eventually(t, func() bool { return fired.Load() == 2 }, waitFor, tick)
	require.Equal(t, []byte("D"), m.LatestFrame())

	port.push("E\n")
	require.Eventually(t, func() bool { return m.Stats().FramesExtracted == 5 }, waitFor, tick)
	require.EqualValues(t, 2, fired.Load())
}

func TestMonitor_LatestWinsWithinOneRead(t *testing.T) {
	port := &fakePort{}
	port.push("\nA\nB\nC\n")
	m := startMonitor(t, port)

	frames := make(chan []byte, 4)
	m.SetFrameHandler(func() {
		frames <- m.LatestFrame()
		m.Ack()
	})
	require.NoError(t, m.Start(context.Background()))

	select {
	case f := <-frames:
		require.Equal(t, []byte("C"), f)
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for frame")
	}
	require.EqualValues(t, 1, m.Stats().FramesExtracted)
	require.Empty(t, frames)
}

func TestMonitor_WithoutHandlerTracksFrames(t *testing.T) {
	port := &fakePort{}
	m := startMonitor(t, port)
	require.NoError(t, m.Start(context.Background()))

	port.push("\nhello\n")
	require.Eventually(t, func() bool { return m.Stats().FramesExtracted == 1 }, waitFor, tick)
	require.Equal(t, []byte("hello"), m.LatestFrame())
	require.Zero(t, m.Stats().Notifications)

	var fired atomic.Int32
	m.SetFrameHandler(func() { fired.Add(1) })
	port.push("world\n")
	require.Eventually(t, func() bool { return fired.Load() == 1 }, waitFor, tick)
}

func TestMonitor_DisconnectFiresOnce(t *testing.T) {
	port := &fakePort{}
	m := startMonitor(t, port)

	disconnects := make(chan error, 2)
	m.SetDisconnectHandler(func(err error) { disconnects <- err })
	require.NoError(t, m.Start(context.Background()))

	port.fail(io.ErrUnexpectedEOF)

	select {
	case err := <-disconnects:
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for disconnect")
	}

	<-m.Done()
	require.Equal(t, 1, port.closeCount(), "close errors are swallowed")

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	require.ErrorIs(t, m.Start(context.Background()), ErrMonitorClosed)
	require.Empty(t, disconnects)
}

func TestMonitor_StopFromDisconnectHandler(t *testing.T) {
	port := &fakePort{}
	m := startMonitor(t, port)

	stopped := make(chan error, 1)
	m.SetDisconnectHandler(func(error) { stopped <- m.Stop() })
	require.NoError(t, m.Start(context.Background()))

	port.fail(ErrDisconnected)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Stop blocked inside disconnect handler")
	}
}

func TestMonitor_StopIsSynchronous(t *testing.T) {
	port := &fakePort{}
	m := startMonitor(t, port)

	var fired atomic.Int32
	m.SetFrameHandler(func() {
		fired.Add(1)
		m.Ack()
	})
	disconnects := make(chan error, 1)
	m.SetDisconnectHandler(func(err error) { disconnects <- err })

	require.NoError(t, m.Stop(), "stop before start is a no-op")
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()), "second start is a no-op")
	require.NotEmpty(t, m.SessionID())

	port.push("\nA\n")
	require.Eventually(t, func() bool { return fired.Load() == 1 }, waitFor, tick)

	require.NoError(t, m.Stop())
	require.Equal(t, 1, port.closeCount())
	reads := port.readCount()

	port.push("B\n")
	port.fail(io.EOF)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, reads, port.readCount())
	require.EqualValues(t, 1, fired.Load())
	require.Empty(t, disconnects, "stopping is not a disconnect")
	require.NoError(t, m.Stop())
}

func TestMonitor_ContextCancelEndsSession(t *testing.T) {
	port := &fakePort{}
	m := startMonitor(t, port)

	var disconnected atomic.Bool
	m.SetDisconnectHandler(func(error) { disconnected.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()

	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not exit after cancel")
	}
	require.False(t, disconnected.Load())
	require.ErrorIs(t, m.Start(context.Background()), ErrMonitorClosed)
}

func TestMonitor_BufferOverflow(t *testing.T) {
	port := &fakePort{}
	m := startMonitor(t, port, WithMaxBufferSize(4), WithIdleSleep(time.Millisecond))

	var fired atomic.Int32
	m.SetFrameHandler(func() {
		fired.Add(1)
		m.Ack()
	})
	require.NoError(t, m.Start(context.Background()))

	port.push("abcdefgh")
	require.Eventually(t, func() bool { return m.Stats().Overflows == 1 }, waitFor, tick)

	port.push("\nX\n")
	require.Eventually(t, func() bool { return fired.Load() == 1 }, waitFor, tick)
	require.Equal(t, []byte("X"), m.LatestFrame())
}

func TestMonitor_ExecutorDelivery(t *testing.T) {
	exec := NewExecutor()
	t.Cleanup(exec.Close)

	port := &fakePort{}
	m := startMonitor(t, port, WithDispatcher(exec))

	frames := make(chan []byte, 8)
	m.SetFrameHandler(func() {
		f := m.LatestFrame()
		m.Ack()
		frames <- f
	})
	require.NoError(t, m.Start(context.Background()))

	port.push("\none\n")
	select {
	case f := <-frames:
		require.Equal(t, []byte("one"), f)
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for frame")
	}

	port.push("two\n")
	select {
	case f := <-frames:
		require.Equal(t, []byte("two"), f)
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for frame")
	}
}

func TestMonitor_StopWhileHandlerBusy(t *testing.T) {
	exec := NewExecutor()
	t.Cleanup(exec.Close)

	port := &fakePort{}
	m := startMonitor(t, port, WithDispatcher(exec))

	entered := make(chan struct{})
	release := make(chan struct{})
	m.SetFrameHandler(func() {
		close(entered)
		<-release
		m.Ack()
	})
	require.NoError(t, m.Start(context.Background()))

	port.push("\nA\n")
	<-entered
	port.push("B\n")

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop waited on a busy consumer")
	}
	close(release)
}

func TestMonitor_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)

	port := &fakePort{}
	m := startMonitor(t, port, WithMetrics(metrics))
	m.SetFrameHandler(func() {})
	require.NoError(t, m.Start(context.Background()))

	port.push("\nA\n")
	require.Eventually(t, func() bool { return m.Stats().FramesExtracted == 1 }, waitFor, tick)
	port.push("A\n")
	require.Eventually(t, func() bool { return m.Stats().FramesExtracted == 2 }, waitFor, tick)
	port.push("B\n")
	require.Eventually(t, func() bool { return m.Stats().FramesExtracted == 3 }, waitFor, tick)
	port.fail(ErrDisconnected)
	<-m.Done()
	require.Eventually(t, func() bool { return testutil.ToFloat64(metrics.Disconnects) == 1 }, waitFor, tick)

	require.Equal(t, float64(7), testutil.ToFloat64(metrics.BytesRead))
	require.Equal(t, float64(3), testutil.ToFloat64(metrics.FramesExtracted))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FramesDuplicate))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FramesDropped))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Notifications))
}
