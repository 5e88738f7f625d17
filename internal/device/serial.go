package device

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	serial "go.bug.st/serial"
)

// SerialDevice implements Device using go.bug.st/serial.
// Reads must come from a single goroutine; Write and Close may be called from any.
type SerialDevice struct {
	mu   sync.Mutex
	port serial.Port
	dev  string
	baud int

	readTimeout  time.Duration
	writeTimeout time.Duration

	pending []byte
	writing chan struct{}
}

// OpenSerial opens dev at baud, discards stale input and applies the timeouts.
// A zero writeTimeout makes writes block until the driver accepts them.
func OpenSerial(dev string, baud int, readTimeout, writeTimeout time.Duration) (*SerialDevice, error) {
	p, err := serial.Open(dev, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial %s: %w", dev, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("flush serial %s: %w", dev, err)
	}
	return newSerialDevice(p, dev, baud, readTimeout, writeTimeout), nil
}

func newSerialDevice(p serial.Port, dev string, baud int, readTimeout, writeTimeout time.Duration) *SerialDevice {
	return &SerialDevice{
		port:         p,
		dev:          dev,
		baud:         baud,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		writing:      make(chan struct{}, 1),
	}
}

// Name returns the port path.
func (s *SerialDevice) Name() string { return s.dev }

func (s *SerialDevice) current() serial.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// ReadLine returns the next '\n'-terminated line. Partial lines are kept for
// the next call. timeout <= 0 uses the device read timeout.
func (s *SerialDevice) ReadLine(timeout time.Duration) (string, error) {
	if line, ok := s.takeLine(); ok {
		return line, nil
	}
	port := s.current()
	if port == nil {
		return "", ErrNotOpen
	}
	if timeout <= 0 {
		timeout = s.readTimeout
	}
	if timeout <= 0 {
		timeout = serial.NoTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return "", fmt.Errorf("set read timeout: %w", err)
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", ErrReadTimeout
		}
		s.pending = append(s.pending, buf[:n]...)
		if line, ok := s.takeLine(); ok {
			return line, nil
		}
		if timeout != serial.NoTimeout && time.Now().After(deadline) {
			return "", ErrReadTimeout
		}
	}
}

func (s *SerialDevice) takeLine() (string, bool) {
	i := bytes.IndexByte(s.pending, '\n')
	if i < 0 {
		return "", false
	}
	line := string(s.pending[:i+1])
	s.pending = s.pending[i+1:]
	return line, true
}

// Read reads raw bytes with the device read timeout. Zero bytes is ErrReadTimeout.
func (s *SerialDevice) Read(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, ErrNotOpen
	}
	if s.readTimeout > 0 {
		if err := port.SetReadTimeout(s.readTimeout); err != nil {
			return 0, fmt.Errorf("set read timeout: %w", err)
		}
	}
	n, err := port.Read(p)
	if err == nil && n == 0 {
		return 0, ErrReadTimeout
	}
	return n, err
}

// Write sends b. With a write timeout set, a write still in flight from an
// earlier call makes this one fail fast with ErrWriteBusy and nothing is
// written. A write that outlives the timeout returns ErrWriteInFlight; its
// bytes still reach the port.
func (s *SerialDevice) Write(b []byte) error {
	port := s.current()
	if port == nil {
		return ErrNotOpen
	}
	if s.writeTimeout <= 0 {
		_, err := port.Write(b)
		return err
	}

	select {
	case s.writing <- struct{}{}:
	default:
		return ErrWriteBusy
	}
	done := make(chan error, 1)
	go func() {
		defer func() { <-s.writing }()
		_, err := port.Write(b)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(s.writeTimeout):
		return ErrWriteInFlight
	}
}

// WriteLine writes a single line followed by '\n' to the serial port.
func (s *SerialDevice) WriteLine(line string) error {
	return s.Write(append([]byte(line), '\n'))
}

// Close closes the underlying serial connection. Safe to call more than once.
func (s *SerialDevice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
