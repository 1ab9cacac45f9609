//go:build !linux

package serial

import (
	"errors"
)

// TTY is only available on Linux. Use OpenPortable elsewhere.
type TTY struct{}

// Open always fails on non-Linux platforms.
func Open(cfg Config) (*TTY, error) {
	return nil, errors.New("serial: raw termios devices are only supported on linux")
}

func (s *TTY) Available() (int, error)   { return 0, ErrDisconnected }
func (s *TTY) Read(p []byte) (int, error) { return 0, ErrDisconnected }
func (s *TTY) Write(p []byte) (int, error) {
	return 0, ErrDisconnected
}
func (s *TTY) WriteLine(line string) error { return ErrDisconnected }
func (s *TTY) Close() error                { return nil }
