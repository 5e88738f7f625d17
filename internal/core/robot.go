package core

import (
	"errors"
	"sync"
	"time"

	"ShapeBot/internal/link"
	"ShapeBot/internal/model"
	"ShapeBot/internal/robot"
	"ShapeBot/internal/util"
)

// Robot drives the omni base toward the tracked target.
type Robot struct {
	Controller *robot.Controller
	Target     robot.PoseSource
	Current    robot.PoseSource
	Link       *link.Worker

	guard    *robot.Guard
	pivot    model.Vec2
	sendRate time.Duration
	log      *util.Logger

	mu        sync.Mutex
	auto      bool
	ready     bool
	sinceSend float64
}

// NewRobot wires the controller to its pose sources and link. guard may be nil.
func NewRobot(ctrl *robot.Controller, target, current robot.PoseSource, worker *link.Worker, guard *robot.Guard, pivot model.Vec2, sendRate time.Duration, auto bool) *Robot {
	if sendRate <= 0 {
		sendRate = 10 * time.Millisecond
	}
	return &Robot{
		Controller: ctrl,
		Target:     target,
		Current:    current,
		Link:       worker,
		guard:      guard,
		pivot:      pivot,
		sendRate:   sendRate,
		auto:       auto,
		log:        util.NewLogger("robot"),
	}
}

// Start opens the link; a missing device is not an error.
func (r *Robot) Start() error {
	if err := r.Link.Open(); err != nil && !errors.Is(err, link.ErrNoDevice) {
		return err
	}
	return nil
}

// Tick runs the controller once both poses are available.
func (r *Robot) Tick(dt float64) {
	tp, tok := r.Target.Latest()
	cp, cok := r.Current.Latest()
	if !tok || !cok {
		r.setReady(false)
		return
	}
	r.setReady(true)

	target := tp.Planar()
	current := cp.Planar()
	current.X += r.pivot.X
	current.Z += r.pivot.Z

	if r.guard != nil {
		left, entered := r.guard.Observe(target)
		if left {
			r.log.Warnf("target left workspace at (%.3f, %.3f), stopping", target.X, target.Z)
			if err := r.StopRobot(); err != nil {
				r.log.Debugf("stop: %v", err)
			}
		}
		if entered {
			r.log.Infof("target back in workspace, resuming")
			r.Controller.Move()
		}
	}

	r.Controller.Tick(target, current, dt)

	r.mu.Lock()
	due := false
	if r.auto {
		r.sinceSend += dt
		if r.sinceSend >= r.sendRate.Seconds() {
			r.sinceSend = 0
			due = true
		}
	}
	r.mu.Unlock()

	if due {
		if err := r.Send(); err != nil {
			r.log.Debugf("auto send: %v", err)
		}
	}
}

func (r *Robot) setReady(ok bool) {
	r.mu.Lock()
	changed := r.ready != ok
	r.ready = ok
	r.mu.Unlock()
	if !changed {
		return
	}
	if ok {
		r.log.Infof("poses available, control running")
	} else {
		r.log.Infof("waiting for target and current pose")
	}
}

// Ready reports whether both pose sources have data.
func (r *Robot) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Send submits the latest command.
func (r *Robot) Send() error {
	return r.Link.Submit(link.RobotCommand(r.Controller.Last()))
}

// StopRobot latches the stop override and submits a stop frame ahead of any
// pending move.
func (r *Robot) StopRobot() error {
	r.Controller.Stop()
	r.Link.Cancel(link.SendRobotCommand)
	return r.Link.Submit(link.Request{Kind: link.StopRobot})
}

// Move releases the stop override.
func (r *Robot) Move() {
	r.Controller.Move()
}

// SetAuto turns periodic command submission on or off.
func (r *Robot) SetAuto(on bool) {
	r.mu.Lock()
	r.auto = on
	r.sinceSend = 0
	r.mu.Unlock()
	r.log.Infof("auto send %v", on)
}

// Auto reports whether periodic submission is on.
func (r *Robot) Auto() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auto
}

// Close closes the link.
func (r *Robot) Close() error {
	return r.Link.Close()
}
