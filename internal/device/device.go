// Package device defines the byte/line interface the link workers talk to and
// its serial port implementation.
package device

import (
	"errors"
	"time"
)

var (
	// ErrReadTimeout means no complete line arrived within the read timeout.
	ErrReadTimeout = errors.New("read timeout")
	// ErrWriteTimeout means a write did not complete and nothing was written.
	ErrWriteTimeout = errors.New("write timeout")
	// ErrWriteBusy means an earlier write still occupies the port; nothing was written.
	ErrWriteBusy = errors.New("write busy")
	// ErrWriteInFlight means the bytes were handed to the driver but the write
	// had not returned within the write timeout. The frame still goes out.
	ErrWriteInFlight = errors.New("write in flight")
	// ErrNotOpen is returned by any operation on a closed device.
	ErrNotOpen = errors.New("device not open")
)

// Device is a half-duplex link carrying binary frames out and text lines in.
type Device interface {
	// ReadLine reads a single line terminated by '\n'.
	// It returns ErrReadTimeout if no full line arrives within timeout.
	ReadLine(timeout time.Duration) (string, error)

	// Write sends raw bytes, bounded by the device write timeout.
	Write(b []byte) error

	// WriteLine writes s followed by '\n' to the device.
	WriteLine(s string) error

	// Close closes the device and releases underlying resources.
	Close() error
}

// IsTransient reports whether err is an expected timeout that the caller should
// ignore and retry on the next pass. ErrWriteInFlight is not transient: the
// write happened.
func IsTransient(err error) bool {
	return errors.Is(err, ErrReadTimeout) || errors.Is(err, ErrWriteTimeout) || errors.Is(err, ErrWriteBusy)
}
