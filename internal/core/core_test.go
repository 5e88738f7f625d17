package core

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShapeBot/internal/control"
	"ShapeBot/internal/device"
	"ShapeBot/internal/link"
	"ShapeBot/internal/model"
	"ShapeBot/internal/pinfield"
	"ShapeBot/internal/protocol"
	"ShapeBot/internal/robot"
)

type fakeDevice struct {
	mu     sync.Mutex
	lines  []string
	writes [][]byte
	closed bool
	// readWait makes an empty read wait out its timeout like a real port.
	readWait bool
}

func (f *fakeDevice) ReadLine(timeout time.Duration) (string, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return "", device.ErrNotOpen
	}
	if len(f.lines) == 0 {
		wait := f.readWait
		f.mu.Unlock()
		if wait {
			time.Sleep(timeout)
		}
		return "", device.ErrReadTimeout
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	f.mu.Unlock()
	return line, nil
}

func (f *fakeDevice) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return device.ErrNotOpen
	}
	f.writes = append(f.writes, append([]byte(nil), b...))
	return nil
}

func (f *fakeDevice) WriteLine(s string) error { return f.Write(append([]byte(s), '\n')) }

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func opener(dev *fakeDevice) link.Option {
	return link.WithOpener(func(string, int, time.Duration, time.Duration) (device.Device, error) {
		return dev, nil
	})
}

func noPorts() link.Option {
	return link.WithEnumerator(func() ([]string, error) { return nil, nil })
}

func newEngine(t *testing.T) *pinfield.Engine {
	t.Helper()
	e, err := pinfield.NewEngine(pinfield.DefaultConfig(), pinfield.Flat{Level: 0.03})
	require.NoError(t, err)
	return e
}

func TestDisplayAutoRefreshAtRate(t *testing.T) {
	w := link.NewWorker(link.Config{Name: "display"}, link.DisplayFramer{})
	d := NewDisplay(newEngine(t), w, nil, 50*time.Millisecond, true, false)

	d.Tick(0.02)
	assert.False(t, w.Pending(link.SendHeightField))
	d.Tick(0.02)
	assert.False(t, w.Pending(link.SendHeightField))
	d.Tick(0.02)
	assert.True(t, w.Pending(link.SendHeightField))
}

func TestDisplayAutoOff(t *testing.T) {
	w := link.NewWorker(link.Config{Name: "display"}, link.DisplayFramer{})
	d := NewDisplay(newEngine(t), w, nil, 10*time.Millisecond, false, false)

	for i := 0; i < 5; i++ {
		d.Tick(0.02)
	}
	assert.False(t, w.Pending(link.SendHeightField))

	require.NoError(t, d.Refresh())
	assert.True(t, w.Pending(link.SendHeightField))
}

func TestDisplayResetCancelsField(t *testing.T) {
	w := link.NewWorker(link.Config{Name: "display"}, link.DisplayFramer{})
	d := NewDisplay(newEngine(t), w, nil, 10*time.Millisecond, true, false)

	require.NoError(t, d.Refresh())
	require.NoError(t, d.Reset())

	assert.False(t, d.Auto())
	assert.False(t, w.Pending(link.SendHeightField))
	assert.True(t, w.Pending(link.Reset))

	d.Tick(0.1)
	assert.False(t, w.Pending(link.SendHeightField), "auto is off after reset")
}

func TestDisplayPushSlaveConfig(t *testing.T) {
	w := link.NewWorker(link.Config{Name: "display"}, link.DisplayFramer{})
	d := NewDisplay(newEngine(t), w, nil, 0, false, false)
	require.NoError(t, d.PushSlaveConfig())
	assert.False(t, w.Pending(link.PushSlaveConfig))

	slaves := []model.SlaveConfigEntry{{SlaveID: 1, ParamCode: protocol.ParamKp, Pin: 2, Value: 30}}
	d = NewDisplay(newEngine(t), w, slaves, 0, false, false)
	require.NoError(t, d.PushSlaveConfig())
	assert.True(t, w.Pending(link.PushSlaveConfig))
}

func TestDisplayStartWithoutDevice(t *testing.T) {
	w := link.NewWorker(link.Config{Name: "display"}, link.DisplayFramer{}, noPorts())
	d := NewDisplay(newEngine(t), w, nil, 0, true, true)

	require.NoError(t, d.Start())
	assert.Equal(t, link.Disabled, w.State())
}

func TestDisplaySetupOnStart(t *testing.T) {
	dev := &fakeDevice{}
	w := link.NewWorker(link.Config{Name: "display", Device: "fake", Mode: link.Cooperative}, link.DisplayFramer{}, opener(dev))
	slaves := []model.SlaveConfigEntry{{SlaveID: 4, ParamCode: protocol.ParamKi, Pin: 0, Value: 10}}
	d := NewDisplay(newEngine(t), w, slaves, 0, false, true)

	require.NoError(t, d.Start())
	require.NoError(t, w.Step())

	writes := dev.written()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{protocol.CmdSetup, 4, protocol.ParamKi, 0, 10}, writes[0])
}

func newTestRobot(target, current robot.PoseSource, guard *robot.Guard, auto bool) (*Robot, *link.Worker) {
	ctrl := robot.NewController(control.NewPID(100, 0, 0, 100), control.NewPID(100, 0, 0, 100), 0, robot.Clamp)
	w := link.NewWorker(link.Config{Name: "robot"}, link.RobotFramer{})
	return NewRobot(ctrl, target, current, w, guard, model.Vec2{}, 10*time.Millisecond, auto), w
}

func TestRobotWaitsForPoses(t *testing.T) {
	target := robot.NewManual()
	current := robot.NewManual()
	r, w := newTestRobot(target, current, nil, true)

	r.Tick(0.02)
	assert.False(t, r.Ready())
	assert.False(t, w.Pending(link.SendRobotCommand))

	target.Set(model.Pose{X: 0.5})
	r.Tick(0.02)
	assert.False(t, r.Ready())

	current.Set(model.Pose{})
	r.Tick(0.02)
	assert.True(t, r.Ready())
	assert.True(t, w.Pending(link.SendRobotCommand))
	assert.NotZero(t, r.Controller.Last().Speed)
}

func TestRobotStopOverridesMove(t *testing.T) {
	r, w := newTestRobot(robot.Static{Pose: model.Pose{X: 1}}, robot.Static{}, nil, false)

	r.Tick(0.02)
	require.NoError(t, r.Send())
	require.NoError(t, r.StopRobot())

	assert.True(t, r.Controller.Stopped())
	assert.False(t, w.Pending(link.SendRobotCommand))
	assert.True(t, w.Pending(link.StopRobot))

	r.Tick(0.02)
	assert.Equal(t, model.RobotCommand{}, r.Controller.Last())

	r.Move()
	r.Tick(0.02)
	assert.NotZero(t, r.Controller.Last().Speed)
}

func TestRobotWorkspaceGuard(t *testing.T) {
	target := robot.NewManual()
	guard := robot.NewGuard(robot.Workspace{MinX: -1, MaxX: 1, MinZ: -1, MaxZ: 1})
	r, w := newTestRobot(target, robot.Static{}, guard, false)

	target.Set(model.Pose{X: 0.5})
	r.Tick(0.02)
	assert.False(t, r.Controller.Stopped())

	target.Set(model.Pose{X: 2})
	r.Tick(0.02)
	assert.True(t, r.Controller.Stopped())
	assert.True(t, w.Pending(link.StopRobot))

	target.Set(model.Pose{X: 0.2})
	r.Tick(0.02)
	assert.False(t, r.Controller.Stopped())
}

func TestRobotPivotOffset(t *testing.T) {
	ctrl := robot.NewController(control.NewPID(100, 0, 0, 100), control.NewPID(100, 0, 0, 100), 0, robot.Clamp)
	w := link.NewWorker(link.Config{Name: "robot"}, link.RobotFramer{})
	// pivot moves the current pose onto the target, so there is nothing to do
	r := NewRobot(ctrl, robot.Static{Pose: model.Pose{X: 0.1, Z: 0.2}}, robot.Static{}, w, nil,
		model.Vec2{X: 0.1, Z: 0.2}, 0, false)

	r.Tick(0.02)
	assert.Equal(t, int16(0), r.Controller.Last().Speed)
}

func TestSimulationStepsCooperativeLinks(t *testing.T) {
	dev := &fakeDevice{lines: []string{"field,576,0,576"}}
	w := link.NewWorker(link.Config{Name: "display", Device: "fake", Mode: link.Cooperative},
		link.DisplayFramer{}, opener(dev))
	d := NewDisplay(newEngine(t), w, nil, 10*time.Millisecond, true, false)
	require.NoError(t, d.Start())

	events, cancel := w.Events(8)
	defer cancel()
	sim := NewSimulation(50, d, nil, events)

	sim.Step(0.02)
	assert.Empty(t, dev.written(), "the tick only hands off the field")
	assert.True(t, w.Pending(link.SendHeightField))

	sim.StepLinks()
	writes := dev.written()
	require.Len(t, writes, 1)
	assert.Equal(t, byte(protocol.CmdHeightField), writes[0][0])
	assert.Len(t, writes[0], 1+576)
	assert.Len(t, events, 1)

	sim.Step(0.02)
	assert.Len(t, events, 0, "events drained by the tick")
	assert.Equal(t, uint64(2), sim.Ticks())
	assert.Equal(t, 20*time.Millisecond, sim.Period())
}

func TestSimulationTickDoesNotWaitOnSlowLinks(t *testing.T) {
	display := &fakeDevice{readWait: true}
	robotDev := &fakeDevice{readWait: true}
	dw := link.NewWorker(link.Config{Name: "display", Device: "fake", Mode: link.Cooperative, ReadTimeout: 50 * time.Millisecond},
		link.DisplayFramer{}, opener(display))
	rw := link.NewWorker(link.Config{Name: "robot", Device: "fake", Mode: link.Cooperative, ReadTimeout: 50 * time.Millisecond},
		link.RobotFramer{}, opener(robotDev))
	d := NewDisplay(newEngine(t), dw, nil, 10*time.Millisecond, true, false)
	r, _ := newTestRobot(robot.Static{Pose: model.Pose{X: 1}}, robot.Static{}, nil, true)
	r.Link = rw
	require.NoError(t, d.Start())
	require.NoError(t, r.Start())

	sim := NewSimulation(50, d, r, nil)
	start := time.Now()
	sim.Step(0.02)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
	assert.True(t, dw.Pending(link.SendHeightField))
	assert.True(t, rw.Pending(link.SendRobotCommand))

	start = time.Now()
	sim.StepLinks()
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "reads wait on both links")
	assert.Len(t, display.written(), 1)
	assert.Len(t, robotDev.written(), 1)

	sim.Start()
	require.Eventually(t, func() bool { return sim.Ticks() >= 10 }, 300*time.Millisecond, 5*time.Millisecond,
		"ticks keep their rate while links block")
	sim.Stop()
}

func TestSimulationSphereFollowsTarget(t *testing.T) {
	sphere := pinfield.NewSphere(0, 0, 0.02, 0.05)
	e, err := pinfield.NewEngine(pinfield.DefaultConfig(), sphere)
	require.NoError(t, err)
	d := NewDisplay(e, link.NewWorker(link.Config{Name: "display"}, link.DisplayFramer{}), nil, 0, false, false)

	target := robot.NewManual()
	target.Set(model.Pose{X: 0.03, Z: 0.04})
	sim := NewSimulation(50, d, nil, nil)
	sim.FollowWith(sphere, target)
	sim.Step(0.02)

	x, z := sphere.Center()
	assert.InDelta(t, 0.03, x, 1e-12)
	assert.InDelta(t, 0.04, z, 1e-12)
}

func TestSimulationStartStop(t *testing.T) {
	d := NewDisplay(newEngine(t), link.NewWorker(link.Config{Name: "display"}, link.DisplayFramer{}), nil, 0, false, false)
	sim := NewSimulation(200, d, nil, nil)
	sim.Start()
	sim.Start()
	assert.Eventually(t, func() bool { return sim.Ticks() > 2 }, time.Second, 5*time.Millisecond)
	sim.Stop()
	n := sim.Ticks()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sim.Ticks())
	sim.Stop()
}

const testConfig = `
global:
  tick_rate_hz: 100
display:
  link:
    enabled: false
  grid:
    cols: 4
    rows: 3
  control:
    mode: tracking
  surface:
    kind: sphere
    radius: 0.02
    height: 0.05
    follows_target: true
  slaves:
    - id: 1
      params:
        - {param: kp, pin: 0, value: 30}
        - {param: bogus, pin: 0, value: 1}
robot:
  link:
    enabled: false
  pid_x: {kp: 2, limit: 1}
  pid_z: {kp: 2, limit: 1}
  heading_offset_deg: 183
  target:
    source: manual
  current:
    source: static
  workspace:
    enabled: true
    min_x: -1
    max_x: 1
    min_z: -1
    max_z: 1
`

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Global.TickRateHz)
	assert.Equal(t, 4, cfg.Display.Grid.Cols)
	assert.Equal(t, 115200, cfg.Display.Link.Baud)
	assert.Equal(t, ",", cfg.Robot.Link.Separator)
	assert.Equal(t, 50, cfg.Display.RefreshRateMs)
	assert.Equal(t, 10, cfg.Robot.SendRateMs)
	assert.InDelta(t, 0.0635, cfg.Display.Grid.PinHeight, 1e-12)
	assert.Empty(t, cfg.API.DBPath)
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestNewSystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	s, err := NewSystem(path, noPorts())
	require.NoError(t, err)

	assert.Equal(t, 12, s.Display.Engine.Len())
	assert.Equal(t, pinfield.SpeedLimitedTracking, s.Display.Engine.Mode())
	require.NotNil(t, s.ManualTarget())
	assert.Nil(t, s.Store())
	assert.Len(t, s.Links(), 2)
	assert.Equal(t, 10*time.Millisecond, s.Sim.Period())

	s.ManualTarget().Set(model.Pose{X: 0.01, Z: 0.01})
	s.Sim.Step(0.01)
	x, z := s.sphere.Center()
	assert.InDelta(t, 0.01, x, 1e-12)
	assert.InDelta(t, 0.01, z, 1e-12)

	st := s.Status()
	assert.True(t, st.Robot.Ready)
	assert.Equal(t, "tracking", st.Display.Mode)
	assert.Equal(t, 12, st.Display.Pins)
	assert.Equal(t, "idle", st.Display.Link.State)
}

func TestNewSystemRejectsBadConfig(t *testing.T) {
	cfg := &model.Config{}
	cfg.Robot.Target.Source = "gps"
	_, err := NewSystemFromConfig(cfg)
	assert.Error(t, err)

	cfg = &model.Config{}
	cfg.Display.Control.Mode = "teleport"
	_, err = NewSystemFromConfig(cfg)
	assert.Error(t, err)
}

func TestSystemStartStopRecords(t *testing.T) {
	dev := &fakeDevice{lines: []string{"reset,ok"}}
	cfg := &model.Config{}
	cfg.Global.TickRateHz = 200
	cfg.Display.Link = model.LinkConfig{Enabled: true, Device: "fake", Mode: "cooperative"}
	cfg.API.DBPath = filepath.Join(t.TempDir(), "events.db")

	s, err := NewSystemFromConfig(cfg, opener(dev))
	require.NoError(t, err)
	require.NoError(t, s.StartAll())
	require.NoError(t, s.StartAll())

	require.Eventually(t, func() bool {
		st := s.Store()
		if st == nil {
			return false
		}
		n, err := st.Count("display")
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, s.Display.Link.Status().Listeners, "tick queue and recorder")

	s.StopAll()
	s.StopAll()
	assert.Nil(t, s.Store())
	assert.Equal(t, 0, s.Display.Link.Status().Listeners)
	assert.Equal(t, 0, s.Robot.Link.Status().Listeners)
	assert.Equal(t, link.Closed, s.Display.Link.State())
}
