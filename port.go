package serial

import (
	"errors"
	"time"
)

// DefaultDelimiter terminates every frame on the wire.
const DefaultDelimiter byte = '\n'

// ErrDisconnected is returned by a Port once the underlying device is gone.
var ErrDisconnected = errors.New("serial: device disconnected")

// Port is the raw byte source consumed by a Monitor.
//
// Available must not block: it reports how many bytes a subsequent Read can
// return immediately. Any error from Available or Read is terminal for the
// session.
type Port interface {
	Available() (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device      string
	BaudRate    int
	Delimiter   byte // default '\n'
	ReadTimeout time.Duration
}

func (c Config) delimiter() byte {
	if c.Delimiter == 0 {
		return DefaultDelimiter
	}
	return c.Delimiter
}
