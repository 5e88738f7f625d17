// Package robot turns a tracked target and the platform's own position into
// omni-drive motion commands.
package robot

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"ShapeBot/internal/control"
	"ShapeBot/internal/model"
	"ShapeBot/internal/protocol"
)

// Saturation decides what happens when speed or heading does not fit in 16 bits.
type Saturation int

const (
	// Clamp pins out-of-range values to the int16 bounds.
	Clamp Saturation = iota
	// Wrap keeps the low 16 bits, like a plain integer conversion.
	Wrap
)

func (s Saturation) String() string {
	if s == Wrap {
		return "wrap"
	}
	return "clamp"
}

// ParseSaturation maps "clamp"/"wrap" to a Saturation; empty means Clamp.
func ParseSaturation(s string) (Saturation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "clamp", "saturate":
		return Clamp, nil
	case "wrap":
		return Wrap, nil
	}
	return 0, fmt.Errorf("unknown saturation policy %q", s)
}

// Controller runs one PID per planar axis and converts the combined output to
// polar speed and heading.
type Controller struct {
	mu            sync.Mutex
	pidX          *control.PID
	pidZ          *control.PID
	headingOffset float64
	saturation    Saturation
	stopped       bool
	last          model.RobotCommand
}

// NewController builds a controller. headingOffset is in degrees.
func NewController(pidX, pidZ *control.PID, headingOffset float64, sat Saturation) *Controller {
	return &Controller{pidX: pidX, pidZ: pidZ, headingOffset: headingOffset, saturation: sat}
}

// Tick computes the command for this tick. A stopped controller always emits
// the zero command and does not advance its PIDs.
func (c *Controller) Tick(target, current model.Vec2, dt float64) model.RobotCommand {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		c.last = model.RobotCommand{}
		return c.last
	}

	vx := c.pidX.Update(target.X, current.X, dt)
	vz := c.pidZ.Update(target.Z, current.Z, dt)

	speed := math.Hypot(vx, vz)
	// round off float noise so exact angles survive truncation
	raw := math.Round((math.Atan2(vz, vx)*180/math.Pi+c.headingOffset)*1e9) / 1e9
	heading := math.Mod(raw, 360)
	if heading < 0 {
		heading += 360
	}

	c.last = model.RobotCommand{
		Speed:   c.toInt16(speed),
		Heading: c.toInt16(heading),
	}
	return c.last
}

func (c *Controller) toInt16(v float64) int16 {
	v = math.Trunc(v)
	if c.saturation == Wrap {
		return int16(int64(math.Mod(v, 1<<16)))
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Stop forces the zero command from the next tick on and clears PID history.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.last = model.RobotCommand{}
	c.pidX.Reset()
	c.pidZ.Reset()
}

// Move releases a previous Stop.
func (c *Controller) Move() {
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()
}

// Stopped reports whether the stop override is active.
func (c *Controller) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Last returns the most recent command.
func (c *Controller) Last() model.RobotCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Payload returns the wire payload of the most recent command.
func (c *Controller) Payload() [protocol.RobotPayloadSize]byte {
	return protocol.RobotPayload(c.Last())
}
