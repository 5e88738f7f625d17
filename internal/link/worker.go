package link

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ShapeBot/internal/device"
	"ShapeBot/internal/model"
	"ShapeBot/internal/parser"
	"ShapeBot/internal/util"
)

// Mode selects who drives the read-then-send pass.
type Mode int

const (
	// Threaded runs the pass on a dedicated goroutine.
	Threaded Mode = iota
	// Cooperative leaves the pass to the caller through Step.
	Cooperative
)

func (m Mode) String() string {
	if m == Cooperative {
		return "cooperative"
	}
	return "threaded"
}

// ParseMode maps "threaded"/"cooperative" to a Mode; empty means Threaded.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "threaded", "thread":
		return Threaded, nil
	case "cooperative", "step":
		return Cooperative, nil
	}
	return 0, fmt.Errorf("unknown link mode %q", s)
}

// State is the lifecycle state of a worker.
type State int

const (
	// Idle means not opened yet.
	Idle State = iota
	// Running means the device is open and passes run.
	Running
	// Disabled means no device was found or an I/O error stopped the link until Reopen.
	Disabled
	// Closed means Close was called; Submit is refused.
	Closed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Disabled:
		return "disabled"
	case Closed:
		return "closed"
	}
	return "idle"
}

// Config describes one link.
type Config struct {
	Name         string
	Device       string // empty = probe
	Baud         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Separator    string
	Mode         Mode
	JoinTimeout  time.Duration
}

// Opener opens a device by name.
type Opener func(dev string, baud int, readTimeout, writeTimeout time.Duration) (device.Device, error)

// Enumerator lists candidate device names.
type Enumerator func() ([]string, error)

// Option customizes a Worker.
type Option func(*Worker)

// WithOpener replaces the serial port opener.
func WithOpener(o Opener) Option { return func(w *Worker) { w.open = o } }

// WithEnumerator replaces the platform port enumeration.
func WithEnumerator(e Enumerator) Option { return func(w *Worker) { w.enumerate = e } }

// WithLogger replaces the worker logger.
func WithLogger(l *util.Logger) Option { return func(w *Worker) { w.log = l } }

// Status is a point-in-time view of a worker.
type Status struct {
	Name      string `json:"name"`
	Device    string `json:"device"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
	Sent      uint64 `json:"sent"`
	Received  uint64 `json:"received"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
	Listeners int    `json:"listeners"`
	LastError string `json:"last_error,omitempty"`
}

// Worker owns one device. Exactly one goroutine performs I/O on it: the
// worker's own in Threaded mode, the caller of Step in Cooperative mode.
type Worker struct {
	cfg       Config
	framer    Framer
	supported map[Kind]bool
	open      Opener
	enumerate Enumerator
	goos      string
	log       *util.Logger

	listeners registry
	dropped   atomic.Uint64

	life sync.Mutex // serializes Open/Close/Reopen

	mu       sync.Mutex
	pending  map[Kind]Request
	dev      device.Device
	devName  string
	state    State
	lastErr  error
	sent     uint64
	received uint64
	failed   uint64
	stop     chan struct{}
	done     chan struct{}
}

// NewWorker creates an idle worker. Call Open to attach the device.
func NewWorker(cfg Config, framer Framer, opts ...Option) *Worker {
	if cfg.Name == "" {
		cfg.Name = "link"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Millisecond
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 500 * time.Millisecond
	}
	if cfg.Separator == "" {
		cfg.Separator = parser.DefaultSeparator
	}
	w := &Worker{
		cfg:       cfg,
		framer:    framer,
		supported: make(map[Kind]bool),
		open: func(dev string, baud int, rt, wt time.Duration) (device.Device, error) {
			return device.OpenSerial(dev, baud, rt, wt)
		},
		enumerate: device.ListPorts,
		goos:      runtime.GOOS,
		log:       util.NewLogger("link").With(cfg.Name),
		pending:   make(map[Kind]Request),
	}
	for _, k := range framer.Kinds() {
		w.supported[k] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the link name.
func (w *Worker) Name() string { return w.cfg.Name }

// Mode returns who drives the pass.
func (w *Worker) Mode() Mode { return w.cfg.Mode }

// Open resolves and opens the device and, in Threaded mode, starts the loop.
// A missing device disables the worker and returns ErrNoDevice; callers treat
// that as a normal condition.
func (w *Worker) Open() error {
	w.life.Lock()
	defer w.life.Unlock()
	return w.openLocked()
}

func (w *Worker) openLocked() error {
	w.mu.Lock()
	if w.state == Running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	name, err := w.resolve()
	if err != nil {
		w.setDisabled(err)
		return err
	}
	dev, err := w.open(name, w.cfg.Baud, w.cfg.ReadTimeout, w.cfg.WriteTimeout)
	if err != nil {
		w.log.Errorf("open %s failed: %v", name, err)
		w.setDisabled(err)
		return err
	}

	w.mu.Lock()
	w.dev, w.devName, w.state, w.lastErr = dev, name, Running, nil
	if w.cfg.Mode == Threaded {
		w.stop, w.done = make(chan struct{}), make(chan struct{})
		go w.run(dev, w.stop, w.done)
	}
	w.mu.Unlock()

	w.log.Infof("opened %s at %d baud (%s)", name, w.cfg.Baud, w.cfg.Mode)
	return nil
}

func (w *Worker) resolve() (string, error) {
	if w.cfg.Device != "" {
		return w.cfg.Device, nil
	}
	names, err := w.enumerate()
	if err != nil {
		w.log.Warnf("port enumeration failed: %v", err)
	}
	name, ok := device.PickPort(names, w.goos)
	if !ok {
		w.log.Warnf("serial device not found, %s link disabled", w.cfg.Name)
		return "", ErrNoDevice
	}
	w.log.Infof("probed %s from %d candidate(s)", name, len(names))
	return name, nil
}

func (w *Worker) setDisabled(err error) {
	w.mu.Lock()
	w.state, w.lastErr = Disabled, err
	w.mu.Unlock()
}

// Reopen closes the link and opens it again, optionally on a different device.
func (w *Worker) Reopen(dev string) error {
	w.life.Lock()
	defer w.life.Unlock()
	if err := w.closeLocked(); err != nil {
		w.log.Warnf("close before reopen: %v", err)
	}
	if dev != "" {
		w.cfg.Device = dev
	}
	return w.openLocked()
}

// Close stops the loop, waiting at most JoinTimeout, then closes the device.
// A loop still blocked in I/O after the join timeout is released by closing
// the device under it. Close is idempotent.
func (w *Worker) Close() error {
	w.life.Lock()
	defer w.life.Unlock()
	return w.closeLocked()
}

func (w *Worker) closeLocked() error {
	w.mu.Lock()
	if w.state == Closed {
		w.mu.Unlock()
		return nil
	}
	w.state = Closed
	w.pending = make(map[Kind]Request)
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	w.mu.Unlock()

	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-time.After(w.cfg.JoinTimeout):
			w.log.Warnf("loop did not stop within %v, closing device", w.cfg.JoinTimeout)
		}
	}

	w.mu.Lock()
	dev := w.dev
	w.dev = nil
	w.mu.Unlock()

	var err error
	if dev != nil {
		err = dev.Close()
		w.log.Infof("closed")
	}
	return err
}

// Submit stores r as the pending request of its kind, replacing any unsent
// one. Slices are copied before Submit returns.
func (w *Worker) Submit(r Request) error {
	if !w.supported[r.Kind] {
		return fmt.Errorf("%w: %s on %s", ErrUnsupported, r.Kind, w.cfg.Name)
	}
	r = r.clone()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Closed {
		return ErrClosed
	}
	w.pending[r.Kind] = r
	return nil
}

// Cancel drops the pending request of kind k, if any.
func (w *Worker) Cancel(k Kind) {
	w.mu.Lock()
	delete(w.pending, k)
	w.mu.Unlock()
}

// Pending reports whether a request of kind k is waiting to be sent.
func (w *Worker) Pending(k Kind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[k]
	return ok
}

// Step runs one read-then-send pass. Only valid in Cooperative mode; a
// disabled or unopened link makes it a no-op.
func (w *Worker) Step() error {
	if w.cfg.Mode == Threaded {
		return ErrUnsupported
	}
	w.mu.Lock()
	dev, state := w.dev, w.state
	w.mu.Unlock()
	if dev == nil || state != Running {
		return nil
	}
	w.pass(dev, nil)
	return nil
}

func (w *Worker) run(dev device.Device, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !w.pass(dev, stop) {
			return
		}
	}
}

// pass reads one line, then writes at most one request. It returns false once
// the link is no longer usable.
func (w *Worker) pass(dev device.Device, stop <-chan struct{}) bool {
	line, err := dev.ReadLine(w.cfg.ReadTimeout)
	switch {
	case err == nil:
		w.deliver(line)
	case device.IsTransient(err):
	default:
		return w.fail(dev, stop, "read", err)
	}

	req, ok := w.take()
	if !ok {
		return true
	}
	frame, err := w.framer.Frame(req)
	if err != nil {
		w.log.Errorf("frame %s: %v", req.Kind, err)
		return true
	}
	if err := dev.Write(frame); err != nil {
		switch {
		case errors.Is(err, device.ErrWriteInFlight):
			w.log.Debugf("%s still in flight after write timeout", req.Kind)
		case device.IsTransient(err):
			w.requeue(req)
			w.log.Debugf("%s deferred to next pass: %v", req.Kind, err)
			return true
		default:
			return w.fail(dev, stop, "write "+req.Kind.String(), err)
		}
	}

	w.mu.Lock()
	w.sent++
	w.mu.Unlock()
	w.log.Debugf("sent %s (%d bytes)", req.Kind, len(frame))
	return true
}

func (w *Worker) deliver(line string) {
	ev := parser.ParseLine(w.cfg.Name, line, w.cfg.Separator)
	if len(ev.Fields) == 0 {
		return
	}
	w.mu.Lock()
	w.received++
	w.mu.Unlock()
	w.log.Debugf("recv: %s", ev.Raw)
	w.listeners.emit(ev)
}

// requeue puts back a request whose write did not happen, unless a newer one
// of the same kind was submitted meanwhile or the worker was closed.
func (w *Worker) requeue(r Request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failed++
	if w.state == Closed {
		return
	}
	if _, ok := w.pending[r.Kind]; !ok {
		w.pending[r.Kind] = r
	}
}

func (w *Worker) take() (Request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, k := range w.framer.Kinds() {
		if r, ok := w.pending[k]; ok {
			delete(w.pending, k)
			return r, true
		}
	}
	return Request{}, false
}

// fail disables the link after a non-transient I/O error. Errors raised while
// the loop is being stopped are expected and ignored.
func (w *Worker) fail(dev device.Device, stop <-chan struct{}, op string, err error) bool {
	select {
	case <-stop:
		return false
	default:
	}

	if errors.Is(err, device.ErrNotOpen) {
		w.log.Warnf("%s skipped: %v", op, err)
	} else {
		w.log.Errorf("%s failed, link disabled until reopen: %v", op, err)
	}

	w.mu.Lock()
	owned := w.dev == dev
	if owned {
		w.dev = nil
		w.state, w.lastErr = Disabled, err
	}
	w.mu.Unlock()

	if owned {
		if cerr := dev.Close(); cerr != nil {
			w.log.Warnf("close after failure: %v", cerr)
		}
	}
	return false
}

// Subscribe registers l for inbound events and returns its removal function.
func (w *Worker) Subscribe(l Listener) (unsubscribe func()) {
	return w.listeners.add(l)
}

// Events returns a bounded channel of inbound events for callers that poll once
// per tick. Events are dropped when the channel is full. The channel is never
// closed; call cancel to stop delivery.
func (w *Worker) Events(size int) (<-chan model.InboundEvent, func()) {
	ch := make(chan model.InboundEvent, size)
	cancel := w.listeners.add(channelListener{ch: ch, dropped: &w.dropped})
	return ch, cancel
}

// Status returns counters and the lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		Name:      w.cfg.Name,
		Device:    w.devName,
		Mode:      w.cfg.Mode.String(),
		State:     w.state.String(),
		Sent:      w.sent,
		Received:  w.received,
		Failed:    w.failed,
		Dropped:   w.dropped.Load(),
		Pending:   len(w.pending),
		Listeners: w.listeners.len(),
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}

// State returns the lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
