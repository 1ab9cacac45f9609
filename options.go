package serial

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Monitor.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	metrics       *Metrics
	dispatcher    Dispatcher
	delimiter     byte
	maxBufferSize int
	idleSleep     time.Duration
}

func defaultOptions() options {
	return options{
		logger:     zap.NewNop(),
		dispatcher: InlineDispatcher{},
		delimiter:  DefaultDelimiter,
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics attaches counters updated by the transport loop.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDispatcher sets the context frame notifications are delivered on.
// Defaults to InlineDispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// WithDelimiter sets the frame delimiter byte. Defaults to '\n'.
func WithDelimiter(b byte) Option {
	return func(o *options) { o.delimiter = b }
}

// WithMaxBufferSize drops buffered bytes once more than n accumulate
// without a complete frame. Zero disables the limit.
func WithMaxBufferSize(n int) Option {
	return func(o *options) { o.maxBufferSize = n }
}

// WithIdleSleep makes the transport loop sleep for d after an empty poll
// instead of only yielding the processor.
func WithIdleSleep(d time.Duration) Option {
	return func(o *options) { o.idleSleep = d }
}
