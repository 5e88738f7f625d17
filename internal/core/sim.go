package core

import (
	"sync"
	"time"

	"ShapeBot/internal/link"
	"ShapeBot/internal/model"
	"ShapeBot/internal/pinfield"
	"ShapeBot/internal/robot"
	"ShapeBot/internal/util"
)

// Simulation is the fixed-rate tick. It never blocks on I/O: it updates the
// display and robot and drains inbound events. Cooperative links are stepped
// from a separate frame loop.
type Simulation struct {
	period  time.Duration
	display *Display
	robot   *Robot
	coop    []*link.Worker
	events  <-chan model.InboundEvent

	sphere *pinfield.Sphere
	follow robot.PoseSource

	log  *util.Logger
	mu   sync.Mutex
	tick uint64
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSimulation builds a tick driver at rateHz. display and rob may be nil.
func NewSimulation(rateHz int, display *Display, rob *Robot, events <-chan model.InboundEvent) *Simulation {
	if rateHz <= 0 {
		rateHz = 50
	}
	s := &Simulation{
		period:  time.Second / time.Duration(rateHz),
		display: display,
		robot:   rob,
		events:  events,
		log:     util.NewLogger("sim"),
	}
	if display != nil {
		s.addCooperative(display.Link)
	}
	if rob != nil {
		s.addCooperative(rob.Link)
	}
	return s
}

func (s *Simulation) addCooperative(w *link.Worker) {
	if w.Mode() == link.Cooperative {
		s.coop = append(s.coop, w)
	}
}

// FollowWith moves sphere to the planar position of src on every tick.
func (s *Simulation) FollowWith(sphere *pinfield.Sphere, src robot.PoseSource) {
	s.sphere, s.follow = sphere, src
}

// Period returns the tick period.
func (s *Simulation) Period() time.Duration { return s.period }

// Ticks returns the number of completed ticks.
func (s *Simulation) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Step runs one tick of dt seconds.
func (s *Simulation) Step(dt float64) {
	if s.sphere != nil && s.follow != nil {
		if p, ok := s.follow.Latest(); ok {
			s.sphere.MoveTo(p.X, p.Z)
		}
	}
	if s.display != nil {
		s.display.Tick(dt)
	}
	if s.robot != nil {
		s.robot.Tick(dt)
	}
	s.drain()

	s.mu.Lock()
	s.tick++
	s.mu.Unlock()
}

// StepLinks runs one read-then-send pass on every cooperative link. It may
// block for up to each link's read timeout.
func (s *Simulation) StepLinks() {
	for _, w := range s.coop {
		if err := w.Step(); err != nil {
			s.log.Warnf("%s step: %v", w.Name(), err)
		}
	}
}

// drain logs every inbound event queued since the last tick.
func (s *Simulation) drain() {
	if s.events == nil {
		return
	}
	for {
		select {
		case ev := <-s.events:
			s.log.Infof("[%s] %s", ev.Link, ev.Raw)
		default:
			return
		}
	}
}

// Start runs Step at the fixed rate in the background. Cooperative links get
// their own frame loop at the same rate so slow reads never delay a tick.
func (s *Simulation) Start() {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	dt := s.period.Seconds()
	s.every(stop, func() { s.Step(dt) })
	if len(s.coop) > 0 {
		s.every(stop, s.StepLinks)
	}
	s.log.Infof("ticking at %v", s.period)
}

func (s *Simulation) every(stop <-chan struct{}, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop halts the background tick and waits for the current one to finish.
func (s *Simulation) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	s.wg.Wait()
}
