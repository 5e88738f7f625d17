// Package model defines shared message structures for ShapeBot.
package model

import "time"

// Vec2 is a planar position in the scene (x right, z forward), in meters.
type Vec2 struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Pose is the latest known 3-D position of a tracked body.
type Pose struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Planar drops the vertical component.
func (p Pose) Planar() Vec2 { return Vec2{X: p.X, Z: p.Z} }

// RobotCommand is the omni platform motion command, sent as 6 little-endian bytes.
type RobotCommand struct {
	Speed       int16 `json:"speed"`
	Heading     int16 `json:"heading"`
	AngularRate int16 `json:"angular_rate"`
}

// SlaveConfigEntry is a single parameter-set message for a downstream pin controller.
type SlaveConfigEntry struct {
	SlaveID   uint8 `json:"slave_id"`
	ParamCode uint8 `json:"param_code"`
	Pin       uint8 `json:"pin"`
	Value     uint8 `json:"value"`
}

// InboundEvent is one newline-delimited text line received on a link.
type InboundEvent struct {
	Link     string    `json:"link"`
	Raw      string    `json:"raw"`
	Fields   []string  `json:"fields"`
	Received time.Time `json:"received"`
}
