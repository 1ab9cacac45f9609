package serial

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// TTY is a Linux serial device in raw mode. It implements Port.
type TTY struct {
	fd        int
	file      *os.File
	closeOnce sync.Once
	config    Config
}

// Open opens a serial port using the provided Config and returns a TTY.
// The port is configured for raw, low-latency, non-buffered operation.
func Open(cfg Config) (*TTY, error) {
	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baudToUnix(cfg.BaudRate)

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	// Reads only happen after Available reported queued bytes, so blocking
	// mode never actually blocks the transport loop.
	syscall.SetNonblock(fd, false)

	return &TTY{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		config: cfg,
	}, nil
}

// Available reports the number of bytes waiting in the kernel input queue.
// It never blocks. A hung-up or failed device with nothing left to read
// yields ErrDisconnected.
func (s *TTY) Available() (int, error) {
	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(pfd, 0); err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poll: %w", err)
	}
	if pfd[0].Revents&unix.POLLNVAL != 0 {
		return 0, ErrDisconnected
	}

	queued, err := unix.IoctlGetInt(s.fd, unix.TIOCINQ)
	if err != nil {
		return 0, fmt.Errorf("query input queue: %w", err)
	}
	if queued > 0 {
		return queued, nil
	}
	if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		return 0, ErrDisconnected
	}
	return 0, nil
}

// Read reads raw bytes from the device. A zero-byte read means the other
// end hung up and is reported as ErrDisconnected.
func (s *TTY) Read(p []byte) (int, error) {
	n, err := s.file.Read(p)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", s.config.Device, err)
	}
	if n == 0 && len(p) > 0 {
		return 0, ErrDisconnected
	}
	return n, nil
}

// Write writes raw bytes to the device.
func (s *TTY) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// WriteLine writes line followed by the configured delimiter.
func (s *TTY) WriteLine(line string) error {
	_, err := s.file.WriteString(line + string(s.config.delimiter()))
	return err
}

// Close closes the serial port.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *TTY) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.file.Close()
	})
	return err
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	default:
		return unix.B115200 // fallback
	}
}
