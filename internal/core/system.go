// Package core contains the runtime orchestration of ShapeBot: the shape
// display, the robot base, the fixed-rate simulation tick and the System that
// owns them.
package core

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"ShapeBot/internal/control"
	"ShapeBot/internal/link"
	"ShapeBot/internal/model"
	"ShapeBot/internal/parser"
	"ShapeBot/internal/pinfield"
	"ShapeBot/internal/robot"
	"ShapeBot/internal/store"
	"ShapeBot/internal/tracking"
	"ShapeBot/internal/util"
)

// System manages lifecycle of the display, robot, trackers, recorder and tick.
// It loads configuration from a YAML file and constructs objects accordingly.
type System struct {
	cfgPath string
	cfg     *model.Config
	log     *util.Logger

	Display *Display
	Robot   *Robot
	Sim     *Simulation

	target   *robot.Manual
	sphere   *pinfield.Sphere
	trackers []*tracking.Provider

	storeMu      sync.RWMutex
	store        *store.EventStore
	recordCancel func()
	recordStop   chan struct{}
	recordWG     sync.WaitGroup
	forward      link.Listener
	eventsCancel func()

	started   bool
	startLock sync.Mutex
}

// LoadConfig reads the YAML configuration at path and fills defaults.
func LoadConfig(path string) (*model.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg model.Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// NewSystem reads the configuration at cfgPath and creates a System instance.
// opts apply to both link workers.
func NewSystem(cfgPath string, opts ...link.Option) (*System, error) {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	s, err := NewSystemFromConfig(cfg, opts...)
	if err != nil {
		return nil, err
	}
	s.cfgPath = cfgPath
	return s, nil
}

// NewSystemFromConfig builds a System from an already loaded configuration.
func NewSystemFromConfig(cfg *model.Config, opts ...link.Option) (*System, error) {
	applyDefaults(cfg)
	s := &System{cfg: cfg, log: util.NewLogger("system")}

	display, err := s.buildDisplay(opts)
	if err != nil {
		return nil, err
	}
	rob, err := s.buildRobot(opts)
	if err != nil {
		return nil, err
	}
	s.Display, s.Robot = display, rob

	// one bounded queue for both links, drained by the tick
	events := make(chan model.InboundEvent, 128)
	s.forward = link.ListenerFunc(func(ev model.InboundEvent) {
		select {
		case events <- ev:
		default:
		}
	})

	s.Sim = NewSimulation(cfg.Global.TickRateHz, display, rob, events)
	if s.sphere != nil && cfg.Display.Surface.FollowsTarget {
		s.Sim.FollowWith(s.sphere, rob.Target)
	}
	return s, nil
}

func (s *System) buildDisplay(opts []link.Option) (*Display, error) {
	dc := s.cfg.Display
	mode, err := pinfield.ParseMode(dc.Control.Mode)
	if err != nil {
		return nil, err
	}
	variant, err := pinfield.ParseQueryVariant(dc.Query.Variant)
	if err != nil {
		return nil, err
	}

	g := dc.Grid
	engine, err := pinfield.NewEngine(pinfield.Config{
		Cols:            g.Cols,
		Rows:            g.Rows,
		PinSize:         g.PinSize,
		PinSpacing:      g.PinSpacing,
		PinHeight:       g.PinHeight,
		MaxTravel:       g.MaxTravel,
		InitialHeight:   g.InitialHeight,
		OriginX:         g.OriginX,
		OriginZ:         g.OriginZ,
		HighSpeed:       dc.Control.HighSpeed,
		LowSpeedDivisor: dc.Control.LowSpeedDivisor,
		DeadZone:        dc.Control.DeadZone,
		Mode:            mode,
		Query: pinfield.Query{
			Variant:       variant,
			ExtrudeOffset: dc.Query.ExtrudeOffset,
			CutOffset:     dc.Query.CutOffset,
		},
	}, s.buildSurface(dc.Surface))
	if err != nil {
		return nil, fmt.Errorf("display engine: %w", err)
	}

	worker, err := newWorker("display", dc.Link, link.DisplayFramer{}, opts)
	if err != nil {
		return nil, err
	}
	slaves := parser.SlaveEntries(dc.Slaves, util.NewLogger("display").With("slaves"))
	return NewDisplay(engine, worker, slaves,
		time.Duration(dc.RefreshRateMs)*time.Millisecond, dc.AutoSend, dc.SetupOnStart), nil
}

func (s *System) buildSurface(sc model.SurfaceConfig) pinfield.Surface {
	switch sc.Kind {
	case "flat":
		return pinfield.Flat{Level: sc.Height}
	case "sphere":
		s.sphere = pinfield.NewSphere(sc.X, sc.Z, sc.Radius, sc.Height)
		return s.sphere
	}
	return nil
}

func (s *System) buildRobot(opts []link.Option) (*Robot, error) {
	rc := s.cfg.Robot
	sat, err := robot.ParseSaturation(rc.Saturation)
	if err != nil {
		return nil, err
	}
	ctrl := robot.NewController(
		control.NewPID(rc.PIDX.Kp, rc.PIDX.Ki, rc.PIDX.Kd, rc.PIDX.Limit),
		control.NewPID(rc.PIDZ.Kp, rc.PIDZ.Ki, rc.PIDZ.Kd, rc.PIDZ.Limit),
		rc.HeadingOffsetDeg, sat,
	)

	target, err := s.buildPoseSource("target", rc.Target)
	if err != nil {
		return nil, err
	}
	current, err := s.buildPoseSource("current", rc.Current)
	if err != nil {
		return nil, err
	}

	var guard *robot.Guard
	if ws := rc.Workspace; ws.Enabled {
		guard = robot.NewGuard(robot.Workspace{MinX: ws.MinX, MaxX: ws.MaxX, MinZ: ws.MinZ, MaxZ: ws.MaxZ})
	}

	worker, err := newWorker("robot", rc.Link, link.RobotFramer{}, opts)
	if err != nil {
		return nil, err
	}
	return NewRobot(ctrl, target, current, worker, guard,
		model.Vec2{X: rc.PivotOffsetX, Z: rc.PivotOffsetZ},
		time.Duration(rc.SendRateMs)*time.Millisecond, rc.AutoSend), nil
}

func (s *System) buildPoseSource(role string, pc model.PoseSourceConfig) (robot.PoseSource, error) {
	switch pc.Source {
	case "", "static":
		return robot.Static{Pose: model.Pose{X: pc.X, Y: pc.Y, Z: pc.Z}}, nil
	case "manual":
		m := robot.NewManual()
		if role == "target" {
			s.target = m
		}
		return m, nil
	case "tracking":
		p := tracking.NewSerialProvider(pc.Device, pc.Baud, pc.Separator)
		s.trackers = append(s.trackers, p)
		return p, nil
	}
	return nil, fmt.Errorf("unknown %s pose source %q", role, pc.Source)
}

func newWorker(name string, lc model.LinkConfig, framer link.Framer, opts []link.Option) (*link.Worker, error) {
	mode, err := link.ParseMode(lc.Mode)
	if err != nil {
		return nil, fmt.Errorf("%s link: %w", name, err)
	}
	return link.NewWorker(link.Config{
		Name:         name,
		Device:       lc.Device,
		Baud:         lc.Baud,
		ReadTimeout:  time.Duration(lc.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(lc.WriteTimeoutMs) * time.Millisecond,
		Separator:    lc.Separator,
		Mode:         mode,
	}, framer, opts...), nil
}

// Config returns the loaded configuration.
func (s *System) Config() *model.Config { return s.cfg }

// ManualTarget returns the operator-settable target, or nil when the target
// comes from another source.
func (s *System) ManualTarget() *robot.Manual { return s.target }

// Store returns the event store, or nil when recording is off or not started.
func (s *System) Store() *store.EventStore {
	s.storeMu.RLock()
	defer s.storeMu.RUnlock()
	return s.store
}

// Subscribe registers l on both links and returns a function removing it from both.
func (s *System) Subscribe(l link.Listener) func() {
	d := s.Display.Link.Subscribe(l)
	r := s.Robot.Link.Subscribe(l)
	return func() {
		d()
		r()
	}
}

// Links returns both link workers.
func (s *System) Links() []*link.Worker {
	return []*link.Worker{s.Display.Link, s.Robot.Link}
}

// StartAll opens the enabled links, starts trackers and the recorder, then the tick.
// Failures of individual components are logged and leave the rest running.
func (s *System) StartAll() error {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if s.started {
		return nil
	}

	s.eventsCancel = s.Subscribe(s.forward)

	if s.cfg.Display.Link.Enabled {
		if err := s.Display.Start(); err != nil {
			s.log.Errorf("display start: %v", err)
		}
	} else {
		s.log.Infof("display link disabled in config")
	}
	if s.cfg.Robot.Link.Enabled {
		if err := s.Robot.Start(); err != nil {
			s.log.Errorf("robot start: %v", err)
		}
	} else {
		s.log.Infof("robot link disabled in config")
	}

	for _, t := range s.trackers {
		if err := t.Start(); err != nil {
			s.log.Warnf("tracking %s not started: %v", t.Device, err)
		}
	}

	if s.cfg.API.DBPath != "" {
		if err := s.startRecorder(s.cfg.API.DBPath); err != nil {
			s.log.Errorf("event recorder: %v", err)
		}
	}

	s.Sim.Start()
	s.started = true
	return nil
}

func (s *System) startRecorder(path string) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	ch := make(chan model.InboundEvent, 256)
	cancel := s.Subscribe(link.ListenerFunc(func(ev model.InboundEvent) {
		select {
		case ch <- ev:
		default:
		}
	}))

	s.storeMu.Lock()
	s.store = st
	s.storeMu.Unlock()
	s.recordCancel = cancel
	s.recordStop = make(chan struct{})

	stop := s.recordStop
	s.recordWG.Add(1)
	go func() {
		defer s.recordWG.Done()
		for {
			select {
			case <-stop:
				return
			case ev := <-ch:
				if err := st.Record(ev); err != nil {
					s.log.Warnf("record %s event: %v", ev.Link, err)
				}
			}
		}
	}()
	s.log.Infof("recording inbound events to %s", path)
	return nil
}

// StopAll stops all running components gracefully.
func (s *System) StopAll() {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if !s.started {
		return
	}
	s.Sim.Stop()
	s.eventsCancel()
	s.eventsCancel = nil

	if s.recordStop != nil {
		s.recordCancel()
		close(s.recordStop)
		s.recordWG.Wait()
		s.recordStop = nil
	}
	for _, t := range s.trackers {
		t.Stop()
	}
	if err := s.Display.Close(); err != nil {
		s.log.Warnf("display close: %v", err)
	}
	if err := s.Robot.Close(); err != nil {
		s.log.Warnf("robot close: %v", err)
	}

	s.storeMu.Lock()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warnf("close event store: %v", err)
		}
		s.store = nil
	}
	s.storeMu.Unlock()
	s.started = false
}

// DisplayStatus summarizes the display side.
type DisplayStatus struct {
	Mode    string           `json:"mode"`
	Speed   string           `json:"speed"`
	Auto    bool             `json:"auto"`
	Pins    int              `json:"pins"`
	Summary pinfield.Summary `json:"summary"`
	Link    link.Status      `json:"link"`
}

// RobotStatus summarizes the robot side.
type RobotStatus struct {
	Ready   bool               `json:"ready"`
	Stopped bool               `json:"stopped"`
	Auto    bool               `json:"auto"`
	Command model.RobotCommand `json:"command"`
	Link    link.Status        `json:"link"`
}

// Status is the operator view of the whole system.
type Status struct {
	Ticks   uint64        `json:"ticks"`
	Display DisplayStatus `json:"display"`
	Robot   RobotStatus   `json:"robot"`
}

// Status collects a point-in-time view.
func (s *System) Status() Status {
	e := s.Display.Engine
	return Status{
		Ticks: s.Sim.Ticks(),
		Display: DisplayStatus{
			Mode:    e.Mode().String(),
			Speed:   e.Speed().String(),
			Auto:    s.Display.Auto(),
			Pins:    e.Len(),
			Summary: e.Summary(),
			Link:    s.Display.Link.Status(),
		},
		Robot: RobotStatus{
			Ready:   s.Robot.Ready(),
			Stopped: s.Robot.Controller.Stopped(),
			Auto:    s.Robot.Auto(),
			Command: s.Robot.Controller.Last(),
			Link:    s.Robot.Link.Status(),
		},
	}
}

func applyDefaults(cfg *model.Config) {
	if cfg.Global.TickRateHz <= 0 {
		cfg.Global.TickRateHz = 50
	}
	if cfg.Global.LogLevel == "" {
		cfg.Global.LogLevel = "info"
	}

	linkDefaults(&cfg.Display.Link, 1)
	linkDefaults(&cfg.Robot.Link, 10)

	def := pinfield.DefaultConfig()
	g := &cfg.Display.Grid
	if g.Cols <= 0 {
		g.Cols = def.Cols
	}
	if g.Rows <= 0 {
		g.Rows = def.Rows
	}
	if g.PinSize <= 0 {
		g.PinSize = def.PinSize
	}
	if g.PinSpacing <= 0 {
		g.PinSpacing = def.PinSpacing
	}
	if g.PinHeight <= 0 {
		g.PinHeight = def.PinHeight
	}
	if g.MaxTravel <= 0 {
		g.MaxTravel = def.MaxTravel
	}
	if g.InitialHeight <= 0 {
		g.InitialHeight = def.InitialHeight
	}

	c := &cfg.Display.Control
	if c.HighSpeed <= 0 {
		c.HighSpeed = def.HighSpeed
	}
	if c.LowSpeedDivisor <= 0 {
		c.LowSpeedDivisor = def.LowSpeedDivisor
	}
	if c.DeadZone <= 0 {
		c.DeadZone = def.DeadZone
	}
	q := &cfg.Display.Query
	if q.ExtrudeOffset == 0 {
		q.ExtrudeOffset = def.Query.ExtrudeOffset
	}
	if q.CutOffset == 0 {
		q.CutOffset = def.Query.CutOffset
	}
	if cfg.Display.RefreshRateMs <= 0 {
		cfg.Display.RefreshRateMs = 50
	}

	if cfg.Robot.SendRateMs <= 0 {
		cfg.Robot.SendRateMs = 10
	}
	for _, p := range []*model.PIDConfig{&cfg.Robot.PIDX, &cfg.Robot.PIDZ} {
		if p.Limit <= 0 {
			p.Limit = 1
		}
	}
	for _, ps := range []*model.PoseSourceConfig{&cfg.Robot.Target, &cfg.Robot.Current} {
		if ps.Source == "tracking" && ps.Baud <= 0 {
			ps.Baud = 115200
		}
	}
	if cfg.API.Addr != "" && cfg.API.DBPath == "" {
		cfg.API.DBPath = "tmp/events.db"
	}
}

func linkDefaults(lc *model.LinkConfig, writeTimeoutMs int) {
	if lc.Baud <= 0 {
		lc.Baud = 115200
	}
	if lc.ReadTimeoutMs <= 0 {
		lc.ReadTimeoutMs = 10
	}
	if lc.WriteTimeoutMs <= 0 {
		lc.WriteTimeoutMs = writeTimeoutMs
	}
	if lc.Separator == "" {
		lc.Separator = parser.DefaultSeparator
	}
}
