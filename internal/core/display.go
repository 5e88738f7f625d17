package core

import (
	"errors"
	"sync"
	"time"

	"ShapeBot/internal/link"
	"ShapeBot/internal/model"
	"ShapeBot/internal/pinfield"
	"ShapeBot/internal/util"
)

// Display drives the shape display: it ticks the pin field engine and hands
// height fields and commands to the display link worker.
type Display struct {
	Engine *pinfield.Engine
	Link   *link.Worker

	slaves       []model.SlaveConfigEntry
	refreshRate  time.Duration
	setupOnStart bool
	log          *util.Logger

	mu        sync.Mutex
	auto      bool
	sinceSend float64
}

// NewDisplay wires an engine to a link worker. refreshRate bounds how often
// auto-send submits a field.
func NewDisplay(engine *pinfield.Engine, worker *link.Worker, slaves []model.SlaveConfigEntry, refreshRate time.Duration, auto, setupOnStart bool) *Display {
	if refreshRate <= 0 {
		refreshRate = 50 * time.Millisecond
	}
	return &Display{
		Engine:       engine,
		Link:         worker,
		slaves:       slaves,
		refreshRate:  refreshRate,
		setupOnStart: setupOnStart,
		auto:         auto,
		log:          util.NewLogger("display"),
	}
}

// Start opens the link. A missing device leaves the display running without
// output; the worker has already logged it.
func (d *Display) Start() error {
	err := d.Link.Open()
	if err != nil && !errors.Is(err, link.ErrNoDevice) {
		return err
	}
	if err == nil && d.setupOnStart {
		return d.PushSlaveConfig()
	}
	return nil
}

// Tick advances the engine and, with auto-send on, submits the field at the
// refresh rate.
func (d *Display) Tick(dt float64) {
	d.Engine.Tick(dt)

	d.mu.Lock()
	due := false
	if d.auto {
		d.sinceSend += dt
		if d.sinceSend >= d.refreshRate.Seconds() {
			d.sinceSend = 0
			due = true
		}
	}
	d.mu.Unlock()

	if due {
		if err := d.Refresh(); err != nil {
			d.log.Debugf("auto refresh: %v", err)
		}
	}
}

// Refresh submits the current height field.
func (d *Display) Refresh() error {
	return d.Link.Submit(link.HeightField(d.Engine.Snapshot()))
}

// SetAuto turns periodic field submission on or off.
func (d *Display) SetAuto(on bool) {
	d.mu.Lock()
	d.auto = on
	d.sinceSend = 0
	d.mu.Unlock()
	d.log.Infof("auto send %v", on)
}

// Auto reports whether periodic submission is on.
func (d *Display) Auto() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auto
}

// Reset drops any unsent field, turns auto-send off and submits a reset.
func (d *Display) Reset() error {
	d.mu.Lock()
	d.auto = false
	d.mu.Unlock()
	d.Link.Cancel(link.SendHeightField)
	return d.Link.Submit(link.Request{Kind: link.Reset})
}

// Stop submits a stop.
func (d *Display) Stop() error {
	return d.Link.Submit(link.Request{Kind: link.Stop})
}

// PushSlaveConfig submits the configured slave parameters.
func (d *Display) PushSlaveConfig() error {
	if len(d.slaves) == 0 {
		d.log.Warnf("no slave configuration loaded, setup skipped")
		return nil
	}
	d.log.Infof("pushing %d slave parameter(s)", len(d.slaves))
	return d.Link.Submit(link.SlaveConfig(d.slaves))
}

// Close closes the link.
func (d *Display) Close() error {
	return d.Link.Close()
}
