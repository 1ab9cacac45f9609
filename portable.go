package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bugst "go.bug.st/serial"
)

// defaultPortableTimeout bounds how long Available may wait on drivers that
// cannot report their input queue size.
const defaultPortableTimeout = time.Millisecond

// PortablePort adapts a go.bug.st/serial port to Port on any platform.
//
// The underlying driver has no input-queue query, so Available performs a
// short timed read into a pending chunk which the next Read drains.
type PortablePort struct {
	port      bugst.Port
	name      string
	pending   []byte
	chunk     []byte
	closeOnce sync.Once
}

// OpenPortable opens cfg.Device with 8N1 framing at cfg.BaudRate.
// cfg.ReadTimeout caps each availability probe (default 1ms).
func OpenPortable(cfg Config) (*PortablePort, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 115200
	}
	p, err := bugst.Open(cfg.Device, &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultPortableTimeout
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("reset input buffer: %w", err)
	}
	return newPortablePort(p, cfg.Device), nil
}

func newPortablePort(p bugst.Port, name string) *PortablePort {
	return &PortablePort{
		port:  p,
		name:  name,
		chunk: make([]byte, 4096),
	}
}

// ListPorts returns the serial devices visible to the driver.
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	return ports, nil
}

// Available reports bytes already pulled from the driver, probing it once
// when nothing is pending.
func (p *PortablePort) Available() (int, error) {
	if len(p.pending) > 0 {
		return len(p.pending), nil
	}
	n, err := p.port.Read(p.chunk)
	if err != nil {
		var perr *bugst.PortError
		if errors.As(err, &perr) && perr.Code() == bugst.PortClosed {
			return 0, ErrDisconnected
		}
		return 0, fmt.Errorf("read %s: %w", p.name, err)
	}
	p.pending = p.chunk[:n]
	return n, nil
}

// Read drains the pending chunk.
func (p *PortablePort) Read(b []byte) (int, error) {
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Write writes raw bytes to the device.
func (p *PortablePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the port. Safe to call multiple times.
func (p *PortablePort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.port.Close()
	})
	return err
}
