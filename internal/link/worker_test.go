package link

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShapeBot/internal/device"
	"ShapeBot/internal/model"
	"ShapeBot/internal/protocol"
	"ShapeBot/internal/util"
)

// fakeDevice serves queued lines and records writes.
type fakeDevice struct {
	mu       sync.Mutex
	lines    []string
	writes   [][]byte
	writeErr error
	closed   bool
	block    chan struct{}
	closes   int
}

func (f *fakeDevice) ReadLine(timeout time.Duration) (string, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return "", device.ErrNotOpen
	}
	if len(f.lines) > 0 {
		line := f.lines[0]
		f.lines = f.lines[1:]
		f.mu.Unlock()
		return line, nil
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
		return "", device.ErrNotOpen
	}
	time.Sleep(time.Millisecond)
	return "", device.ErrReadTimeout
}

func (f *fakeDevice) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return device.ErrNotOpen
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), b...))
	return nil
}

func (f *fakeDevice) WriteLine(s string) error { return f.Write(append([]byte(s), '\n')) }

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if !f.closed && f.block != nil {
		close(f.block)
	}
	f.closed = true
	return nil
}

func (f *fakeDevice) push(lines ...string) {
	f.mu.Lock()
	f.lines = append(f.lines, lines...)
	f.mu.Unlock()
}

func (f *fakeDevice) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func (f *fakeDevice) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeDevice) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func openWith(dev device.Device) Option {
	return WithOpener(func(string, int, time.Duration, time.Duration) (device.Device, error) {
		return dev, nil
	})
}

func cooperative(t *testing.T, framer Framer, dev *fakeDevice) *Worker {
	t.Helper()
	w := NewWorker(Config{Name: "test", Device: "/dev/fake", Mode: Cooperative}, framer, openWith(dev))
	require.NoError(t, w.Open())
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestSubmitCoalescesSameKind(t *testing.T) {
	dev := &fakeDevice{}
	w := cooperative(t, DisplayFramer{}, dev)

	first := []float64{0.01, 0.01}
	second := []float64{0.02, 0.03}
	require.NoError(t, w.Submit(HeightField(first)))
	require.NoError(t, w.Submit(HeightField(second)))

	require.NoError(t, w.Step())
	require.NoError(t, w.Step())

	writes := dev.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, protocol.EncodeHeightField(second), writes[0])
	assert.Equal(t, uint64(1), w.Status().Sent)
}

func TestSubmitCopiesField(t *testing.T) {
	dev := &fakeDevice{}
	w := cooperative(t, DisplayFramer{}, dev)

	field := []float64{0.005, 0.006}
	require.NoError(t, w.Submit(HeightField(field)))
	field[0] = 0.04
	require.NoError(t, w.Step())

	assert.Equal(t, []byte{127, 5, 6}, dev.Writes()[0])
}

func TestDrainOrder(t *testing.T) {
	dev := &fakeDevice{}
	w := cooperative(t, DisplayFramer{}, dev)

	require.NoError(t, w.Submit(SlaveConfig([]model.SlaveConfigEntry{{SlaveID: 7, ParamCode: protocol.ParamKp, Pin: 3, Value: 50}})))
	require.NoError(t, w.Submit(Request{Kind: Stop}))
	require.NoError(t, w.Submit(Request{Kind: Reset}))
	require.NoError(t, w.Submit(HeightField([]float64{0})))

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Step())
	}
	assert.Equal(t, [][]byte{
		{127, 0},
		{126},
		{125},
		{124, 7, 253, 3, 50},
	}, dev.Writes())
}

func TestCancelDropsPending(t *testing.T) {
	dev := &fakeDevice{}
	w := cooperative(t, DisplayFramer{}, dev)

	require.NoError(t, w.Submit(HeightField([]float64{0.01})))
	assert.True(t, w.Pending(SendHeightField))
	w.Cancel(SendHeightField)
	assert.False(t, w.Pending(SendHeightField))
	require.NoError(t, w.Step())
	assert.Empty(t, dev.Writes())
}

func TestUnsupportedKind(t *testing.T) {
	w := NewWorker(Config{Mode: Cooperative}, DisplayFramer{})
	assert.ErrorIs(t, w.Submit(RobotCommand(model.RobotCommand{Speed: 1})), ErrUnsupported)

	r := NewWorker(Config{}, RobotFramer{})
	assert.ErrorIs(t, r.Submit(HeightField(nil)), ErrUnsupported)
	assert.ErrorIs(t, r.Step(), ErrUnsupported)
}

func TestMissingDeviceLogsNotFoundOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewWorker(Config{Name: "display", Mode: Cooperative}, DisplayFramer{},
		WithEnumerator(func() ([]string, error) { return nil, nil }),
		WithLogger(util.NewLoggerTo(&buf, "link")),
	)

	err := w.Open()
	require.ErrorIs(t, err, ErrNoDevice)
	assert.Equal(t, Disabled, w.State())
	assert.NoError(t, w.Step())
	assert.NoError(t, w.Submit(HeightField([]float64{0.01})))
	assert.NoError(t, w.Close())

	assert.Equal(t, 1, strings.Count(buf.String(), "not found"))
}

func TestProbedDeviceIsOpened(t *testing.T) {
	var opened string
	w := NewWorker(Config{Mode: Cooperative}, RobotFramer{},
		WithEnumerator(func() ([]string, error) { return []string{"/dev/ttyS0", "/dev/ttyUSB0"}, nil }),
		WithOpener(func(dev string, _ int, _, _ time.Duration) (device.Device, error) {
			opened = dev
			return &fakeDevice{}, nil
		}),
	)
	w.goos = "linux"
	require.NoError(t, w.Open())
	defer w.Close()
	assert.Equal(t, "/dev/ttyUSB0", opened)
	assert.Equal(t, "/dev/ttyUSB0", w.Status().Device)
}

func TestCloseIsIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	w := NewWorker(Config{Device: "/dev/fake"}, DisplayFramer{}, openWith(dev))
	require.NoError(t, w.Open())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.True(t, dev.isClosed())
	assert.Equal(t, 1, dev.closes)
	assert.Equal(t, Closed, w.State())
	assert.ErrorIs(t, w.Submit(HeightField(nil)), ErrClosed)
}

func TestCloseReleasesBlockedLoop(t *testing.T) {
	dev := &fakeDevice{block: make(chan struct{})}
	w := NewWorker(Config{Device: "/dev/fake", JoinTimeout: 20 * time.Millisecond}, DisplayFramer{}, openWith(dev))
	require.NoError(t, w.Open())

	done := make(chan struct{})
	go func() {
		_ = w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, dev.isClosed())
}

func TestThreadedWorkerSends(t *testing.T) {
	dev := &fakeDevice{}
	w := NewWorker(Config{Name: "robot", Device: "/dev/fake"}, RobotFramer{}, openWith(dev))
	require.NoError(t, w.Open())
	defer w.Close()

	cmd := model.RobotCommand{Speed: 3, Heading: 45}
	require.NoError(t, w.Submit(RobotCommand(cmd)))
	require.Eventually(t, func() bool { return len(dev.Writes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.EncodeRobotCommand(cmd), dev.Writes()[0])

	require.NoError(t, w.Submit(Request{Kind: StopRobot}))
	require.NoError(t, w.Submit(RobotCommand(cmd)))
	require.Eventually(t, func() bool { return len(dev.Writes()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{protocol.RobotStop}, dev.Writes()[1])
}

func TestInboundListenersAndEvents(t *testing.T) {
	dev := &fakeDevice{}
	w := cooperative(t, DisplayFramer{}, dev)

	var got []model.InboundEvent
	unsubscribe := w.Subscribe(ListenerFunc(func(ev model.InboundEvent) { got = append(got, ev) }))
	events, cancel := w.Events(1)
	defer cancel()

	dev.push("field,576,12,564\n", "\r\n")
	require.NoError(t, w.Step())
	require.NoError(t, w.Step())

	require.Len(t, got, 1)
	assert.Equal(t, "test", got[0].Link)
	assert.Equal(t, []string{"field", "576", "12", "564"}, got[0].Fields)
	select {
	case ev := <-events:
		assert.Equal(t, "field,576,12,564", ev.Raw)
	default:
		t.Fatal("no event on channel")
	}

	unsubscribe()
	unsubscribe()
	dev.push("reset,ok\n", "stop,ok\n")
	require.NoError(t, w.Step())
	require.NoError(t, w.Step())
	assert.Len(t, got, 1)

	st := w.Status()
	assert.Equal(t, uint64(3), st.Received)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, 1, st.Listeners)
}

func TestTransientWriteErrorRetriesRequest(t *testing.T) {
	dev := &fakeDevice{writeErr: device.ErrWriteTimeout}
	w := cooperative(t, DisplayFramer{}, dev)

	require.NoError(t, w.Submit(Request{Kind: Stop}))
	require.NoError(t, w.Step())

	assert.Equal(t, Running, w.State())
	assert.True(t, w.Pending(Stop), "request kept for the next pass")
	assert.Equal(t, uint64(1), w.Status().Failed)
	assert.Empty(t, dev.Writes())

	dev.setWriteErr(nil)
	require.NoError(t, w.Step())

	assert.False(t, w.Pending(Stop))
	assert.Equal(t, [][]byte{{protocol.CmdStop}}, dev.Writes())
	assert.Equal(t, uint64(1), w.Status().Sent)
}

func TestRetryYieldsToNewerRequest(t *testing.T) {
	dev := &fakeDevice{writeErr: device.ErrWriteBusy}
	w := cooperative(t, DisplayFramer{}, dev)

	require.NoError(t, w.Submit(HeightField([]float64{0.01})))
	require.NoError(t, w.Step())
	require.True(t, w.Pending(SendHeightField))

	// a field submitted before the retry replaces the deferred one
	require.NoError(t, w.Submit(HeightField([]float64{0.02})))
	dev.setWriteErr(nil)
	require.NoError(t, w.Step())

	assert.Equal(t, [][]byte{{protocol.CmdHeightField, 20}}, dev.Writes())
}

func TestWriteInFlightCountsAsSent(t *testing.T) {
	dev := &fakeDevice{writeErr: device.ErrWriteInFlight}
	w := cooperative(t, DisplayFramer{}, dev)

	require.NoError(t, w.Submit(Request{Kind: Reset}))
	require.NoError(t, w.Step())

	assert.Equal(t, Running, w.State())
	assert.False(t, w.Pending(Reset))
	assert.Equal(t, uint64(1), w.Status().Sent)
	assert.Equal(t, uint64(0), w.Status().Failed)
}

func TestWriteFailureDisablesUntilReopen(t *testing.T) {
	dev := &fakeDevice{}
	dev.setWriteErr(errors.New("unplugged"))
	next := &fakeDevice{}
	devs := []*fakeDevice{dev, next}
	w := NewWorker(Config{Device: "/dev/fake", Mode: Cooperative}, DisplayFramer{},
		WithOpener(func(string, int, time.Duration, time.Duration) (device.Device, error) {
			d := devs[0]
			devs = devs[1:]
			return d, nil
		}),
	)
	require.NoError(t, w.Open())
	defer w.Close()

	require.NoError(t, w.Submit(Request{Kind: Stop}))
	require.NoError(t, w.Step())
	assert.Equal(t, Disabled, w.State())
	assert.True(t, dev.isClosed())
	assert.Equal(t, "unplugged", w.Status().LastError)

	require.NoError(t, w.Reopen(""))
	assert.Equal(t, Running, w.State())
	require.NoError(t, w.Submit(Request{Kind: Stop}))
	require.NoError(t, w.Step())
	assert.Equal(t, [][]byte{{125}}, next.Writes())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Cooperative")
	require.NoError(t, err)
	assert.Equal(t, Cooperative, m)
	_, err = ParseMode("fibers")
	assert.Error(t, err)
}
