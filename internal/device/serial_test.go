package device

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	serial "go.bug.st/serial"
)

// slowPort accepts every write after delay and records it.
type slowPort struct {
	serial.Port

	delay  time.Duration
	mu     sync.Mutex
	writes [][]byte
}

func (p *slowPort) Write(b []byte) (int, error) {
	time.Sleep(p.delay)
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.mu.Unlock()
	return len(b), nil
}

func (p *slowPort) Close() error { return nil }

func (p *slowPort) seen() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

func TestSerialWriteOutlivingTimeoutStillSends(t *testing.T) {
	port := &slowPort{delay: 20 * time.Millisecond}
	dev := newSerialDevice(port, "/dev/fake", 115200, 10*time.Millisecond, time.Millisecond)

	err := dev.Write([]byte{127, 1, 2, 3})
	assert.ErrorIs(t, err, ErrWriteInFlight)
	assert.False(t, IsTransient(err))

	// the port is still busy with the first frame
	err = dev.Write([]byte{125})
	assert.ErrorIs(t, err, ErrWriteBusy)
	assert.True(t, IsTransient(err))

	require.Eventually(t, func() bool { return len(port.seen()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{{127, 1, 2, 3}}, port.seen())

	// once the port is free the retried frame goes out
	require.Eventually(t, func() bool {
		return !errors.Is(dev.Write([]byte{125}), ErrWriteBusy)
	}, time.Second, 25*time.Millisecond)
	require.Eventually(t, func() bool { return len(port.seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{{127, 1, 2, 3}, {125}}, port.seen())
}

func TestSerialWriteWithinTimeout(t *testing.T) {
	port := &slowPort{}
	dev := newSerialDevice(port, "/dev/fake", 115200, 10*time.Millisecond, 100*time.Millisecond)

	require.NoError(t, dev.Write([]byte{126}))
	assert.Equal(t, [][]byte{{126}}, port.seen())

	require.NoError(t, dev.Close())
	assert.ErrorIs(t, dev.Write([]byte{126}), ErrNotOpen)
}
