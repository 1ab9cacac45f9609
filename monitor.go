package serial

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMonitorClosed is returned by Start once the monitor's session has ended.
// A Monitor runs a single session; build a new one to reconnect.
var ErrMonitorClosed = errors.New("serial: monitor session ended")

// Stats is a snapshot of a Monitor's counters.
type Stats struct {
	BytesRead       uint64
	FramesExtracted uint64
	Duplicates      uint64
	Superseded      uint64
	Notifications   uint64
	Overflows       uint64
}

// Monitor reads a Port on a dedicated goroutine, keeps the newest complete
// frame and tells a single consumer when a different frame is available.
//
// At most one notification is undelivered at any time: after a frame
// handler fires, no other fires until Ack is called. Frames arriving in the
// meantime replace the held frame instead of queueing.
type Monitor struct {
	port Port
	opts options
	slot latestSlot

	handlerMu    sync.RWMutex
	onFrame      func()
	onDisconnect func(error)

	// runMu serializes Start and Stop; stateMu guards the fields below and
	// is never held while waiting.
	runMu     sync.Mutex
	stateMu   sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	sessionID string

	stopRequested  atomic.Bool
	disconnectOnce sync.Once

	bytesRead     atomic.Uint64
	extracted     atomic.Uint64
	duplicates    atomic.Uint64
	superseded    atomic.Uint64
	notifications atomic.Uint64
	overflows     atomic.Uint64
}

// NewMonitor creates a Monitor over port. The monitor takes ownership of
// port and closes it when the session ends.
func NewMonitor(port Port, opts ...Option) *Monitor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Monitor{port: port, opts: o}
}

// SetFrameHandler registers fn to be dispatched when a new frame is
// available. The handler carries no payload: pull it with LatestFrame and
// call Ack once done. A nil fn removes the handler; without one frames are
// still tracked but nothing is dispatched.
func (m *Monitor) SetFrameHandler(fn func()) {
	m.handlerMu.Lock()
	m.onFrame = fn
	m.handlerMu.Unlock()
}

// SetDisconnectHandler registers fn to be called at most once when reading
// fails. It runs on the transport goroutine after the loop has exited, so it
// may call Stop.
func (m *Monitor) SetDisconnectHandler(fn func(error)) {
	m.handlerMu.Lock()
	m.onDisconnect = fn
	m.handlerMu.Unlock()
}

func (m *Monitor) frameHandler() func() {
	m.handlerMu.RLock()
	defer m.handlerMu.RUnlock()
	return m.onFrame
}

func (m *Monitor) disconnectHandler() func(error) {
	m.handlerMu.RLock()
	defer m.handlerMu.RUnlock()
	return m.onDisconnect
}

// Start launches the transport goroutine. Calling Start on a running
// monitor is a no-op; calling it after the session ended returns
// ErrMonitorClosed. Cancelling ctx stops the loop without a disconnect.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if done := m.Done(); done != nil {
		select {
		case <-done:
			return ErrMonitorClosed
		default:
			return nil
		}
	}

	m.slot.reset()
	id := uuid.NewString()
	log := m.opts.logger.With(
		zap.String("component", "serial-monitor"),
		zap.String("session", id),
	)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.stateMu.Lock()
	m.sessionID = id
	m.cancel = cancel
	m.done = done
	m.stateMu.Unlock()
	go m.run(runCtx, done, log)

	log.Debug("monitor started")
	return nil
}

// Stop asks the transport goroutine to exit and waits until it has. No read
// or notification happens after Stop returns. Safe to call repeatedly and
// after the session ended on its own.
func (m *Monitor) Stop() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.stateMu.Lock()
	cancel, done := m.cancel, m.done
	m.stateMu.Unlock()
	if cancel == nil {
		return nil
	}
	m.stopRequested.Store(true)
	cancel()
	<-done
	return nil
}

// Done is closed once the transport goroutine has exited.
// It is nil before Start.
func (m *Monitor) Done() <-chan struct{} {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.done
}

// LatestFrame returns a copy of the newest distinct frame, or nil before
// the first one arrives.
func (m *Monitor) LatestFrame() []byte {
	return m.slot.latest()
}

// Ack tells the monitor the last notification has been handled, allowing
// the next distinct frame to fire again.
func (m *Monitor) Ack() {
	m.slot.release()
}

// SessionID identifies the current session in logs. Empty before Start.
func (m *Monitor) SessionID() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.sessionID
}

// Stats returns a snapshot of the monitor's counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		BytesRead:       m.bytesRead.Load(),
		FramesExtracted: m.extracted.Load(),
		Duplicates:      m.duplicates.Load(),
		Superseded:      m.superseded.Load(),
		Notifications:   m.notifications.Load(),
		Overflows:       m.overflows.Load(),
	}
}

func (m *Monitor) run(ctx context.Context, done chan struct{}, log *zap.Logger) {
	err := m.loop(ctx, log)

	if cerr := m.port.Close(); cerr != nil {
		log.Debug("close port", zap.Error(cerr))
	}
	disconnected := err != nil && !m.stopRequested.Load()
	if disconnected {
		log.Warn("device read failed, session ended", zap.Error(err))
	} else {
		log.Debug("monitor stopped")
	}
	close(done)

	if disconnected {
		m.raiseDisconnect(err)
	}
}

func (m *Monitor) loop(ctx context.Context, log *zap.Logger) error {
	var (
		buf     frameBuffer
		scratch []byte
	)
	ex := newExtractor(m.opts.delimiter)

	for ctx.Err() == nil {
		got, err := m.poll(ctx, &buf, ex, &scratch, log)
		if err != nil {
			return err
		}
		runtime.Gosched()
		if !got && m.opts.idleSleep > 0 {
			time.Sleep(m.opts.idleSleep)
		}
	}
	return nil
}

// poll performs one transport iteration. got reports whether any bytes
// were read.
func (m *Monitor) poll(ctx context.Context, buf *frameBuffer, ex *extractor, scratch *[]byte, log *zap.Logger) (got bool, err error) {
	n, err := m.port.Available()
	if err != nil {
		return false, err
	}
	if n <= 0 {
		return false, nil
	}
	if cap(*scratch) < n {
		*scratch = make([]byte, n)
	}
	p := (*scratch)[:n]
	k, err := m.port.Read(p)
	if err != nil {
		return false, err
	}
	if k == 0 {
		return false, nil
	}
	m.bytesRead.Add(uint64(k))
	if mt := m.opts.metrics; mt != nil {
		mt.BytesRead.Add(float64(k))
	}

	buf.Write(p[:k])
	frame, ok := ex.extract(buf)
	if !ok {
		if limit := m.opts.maxBufferSize; limit > 0 && buf.Len() > limit {
			log.Warn("receive buffer overflow, dropping bytes",
				zap.Int("buffered", buf.Len()),
				zap.Int("limit", limit),
			)
			buf.Reset()
			ex.reset()
			m.overflows.Add(1)
			if mt := m.opts.metrics; mt != nil {
				mt.BufferOverflows.Inc()
			}
		}
		return true, nil
	}

	m.extracted.Add(1)
	if mt := m.opts.metrics; mt != nil {
		mt.FramesExtracted.Inc()
	}
	m.offer(ctx, frame, log)
	return true, nil
}

func (m *Monitor) offer(ctx context.Context, frame []byte, log *zap.Logger) {
	handler := m.frameHandler()

	switch m.slot.offer(frame, handler != nil) {
	case offerDuplicate:
		m.duplicates.Add(1)
		if mt := m.opts.metrics; mt != nil {
			mt.FramesDuplicate.Inc()
		}
	case offerSuperseded:
		m.superseded.Add(1)
		if mt := m.opts.metrics; mt != nil {
			mt.FramesDropped.Inc()
		}
	case offerNotify:
		m.notifications.Add(1)
		if mt := m.opts.metrics; mt != nil {
			mt.Notifications.Inc()
		}
		if err := m.opts.dispatcher.Dispatch(ctx, handler); err != nil {
			m.slot.release()
			log.Debug("frame notification not delivered", zap.Error(err))
		}
	}
}

func (m *Monitor) raiseDisconnect(err error) {
	m.disconnectOnce.Do(func() {
		if mt := m.opts.metrics; mt != nil {
			mt.Disconnects.Inc()
		}
		if fn := m.disconnectHandler(); fn != nil {
			fn(err)
		}
	})
}
