package serial

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Decoder turns a raw frame into a consumer state. ok is false when the
// frame does not describe a valid state; such frames are acknowledged but
// not reported.
type Decoder[S any] func(frame []byte) (state S, ok bool)

// Reader delivers decoded frames from a Monitor to a single consumer.
//
// Callbacks run on the monitor's dispatcher. Each notification pulls the
// newest frame at handling time, so a slow consumer always sees current
// data rather than a backlog.
type Reader[S any] struct {
	monitor *Monitor
	decode  Decoder[S]
	log     *zap.Logger

	mu             sync.RWMutex
	onState        func(S)
	onDisconnected func(error)

	finishOnce sync.Once
}

// NewReader wraps port in a Monitor configured with opts.
func NewReader[S any](port Port, decode Decoder[S], opts ...Option) *Reader[S] {
	m := NewMonitor(port, opts...)
	r := &Reader[S]{
		monitor: m,
		decode:  decode,
		log:     m.opts.logger.With(zap.String("component", "serial-reader")),
	}
	m.SetFrameHandler(r.handleFrame)
	m.SetDisconnectHandler(r.handleDisconnect)
	return r
}

// OnStateChanged registers the consumer of decoded states.
func (r *Reader[S]) OnStateChanged(fn func(S)) {
	r.mu.Lock()
	r.onState = fn
	r.mu.Unlock()
}

// OnDisconnected registers fn to run once when the device goes away.
// The reader is already finished when fn runs.
func (r *Reader[S]) OnDisconnected(fn func(error)) {
	r.mu.Lock()
	r.onDisconnected = fn
	r.mu.Unlock()
}

// Monitor exposes the underlying monitor.
func (r *Reader[S]) Monitor() *Monitor { return r.monitor }

// Start begins reading.
func (r *Reader[S]) Start(ctx context.Context) error {
	return r.monitor.Start(ctx)
}

// Finish stops reading and releases the device. Safe to call repeatedly.
// With InlineDispatcher it must not be called from a state callback.
func (r *Reader[S]) Finish() {
	r.finishOnce.Do(func() {
		if err := r.monitor.Stop(); err != nil {
			r.log.Debug("stop monitor", zap.Error(err))
		}
	})
}

func (r *Reader[S]) handleFrame() {
	defer r.monitor.Ack()

	r.mu.RLock()
	onState := r.onState
	r.mu.RUnlock()
	if onState == nil {
		return
	}

	frame := r.monitor.LatestFrame()
	state, ok := r.decode(frame)
	if !ok {
		r.log.Debug("frame rejected by decoder", zap.Int("len", len(frame)))
		return
	}
	onState(state)
}

func (r *Reader[S]) handleDisconnect(err error) {
	r.Finish()

	r.mu.RLock()
	fn := r.onDisconnected
	r.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
