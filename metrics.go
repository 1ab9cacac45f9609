package serial

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts transport and throttle activity of a Monitor.
type Metrics struct {
	BytesRead       prometheus.Counter
	FramesExtracted prometheus.Counter
	FramesDuplicate prometheus.Counter
	FramesDropped   prometheus.Counter
	Notifications   prometheus.Counter
	BufferOverflows prometheus.Counter
	Disconnects     prometheus.Counter
}

// NewMetrics creates the collectors under namespace and registers them with
// reg. A nil reg leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		BytesRead:       counter("bytes_read_total", "Raw bytes read from the device."),
		FramesExtracted: counter("frames_extracted_total", "Complete frames extracted from the stream."),
		FramesDuplicate: counter("frames_duplicate_total", "Frames identical to the previous one."),
		FramesDropped:   counter("frames_superseded_total", "Distinct frames stored while a notification was in flight."),
		Notifications:   counter("notifications_total", "Frame-available notifications dispatched."),
		BufferOverflows: counter("buffer_overflows_total", "Times the receive buffer was dropped for exceeding its limit."),
		Disconnects:     counter("disconnects_total", "Sessions terminated by a read failure."),
	}
	if reg != nil {
		reg.MustRegister(
			m.BytesRead,
			m.FramesExtracted,
			m.FramesDuplicate,
			m.FramesDropped,
			m.Notifications,
			m.BufferOverflows,
			m.Disconnects,
		)
	}
	return m
}
