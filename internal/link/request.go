// Package link runs the worker that owns one serial link: it reads inbound text
// lines and writes at most one coalesced outbound request per pass.
package link

import (
	"errors"
	"fmt"

	"ShapeBot/internal/model"
	"ShapeBot/internal/protocol"
)

var (
	// ErrNoDevice means no device was configured and probing found none.
	ErrNoDevice = errors.New("serial device not found")
	// ErrUnsupported is returned for a request kind the link's framer does not carry,
	// or for Step on a threaded worker.
	ErrUnsupported = errors.New("unsupported on this link")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("link closed")
)

// Kind is the variant of a LinkRequest.
type Kind int

const (
	// SendHeightField carries a full height field to the display.
	SendHeightField Kind = iota
	// Reset tells the display to home all pins.
	Reset
	// Stop halts the display actuators.
	Stop
	// PushSlaveConfig carries slave parameter entries.
	PushSlaveConfig
	// SendRobotCommand carries a robot move command.
	SendRobotCommand
	// StopRobot halts the robot base.
	StopRobot
)

func (k Kind) String() string {
	switch k {
	case SendHeightField:
		return "send_height_field"
	case Reset:
		return "reset"
	case Stop:
		return "stop"
	case PushSlaveConfig:
		return "push_slave_config"
	case SendRobotCommand:
		return "send_robot_command"
	case StopRobot:
		return "stop_robot"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Request is one unit of work for the worker. Only the field matching Kind is used.
type Request struct {
	Kind    Kind
	Field   []float64
	Slaves  []model.SlaveConfigEntry
	Command model.RobotCommand
}

// HeightField builds a SendHeightField request.
func HeightField(field []float64) Request { return Request{Kind: SendHeightField, Field: field} }

// SlaveConfig builds a PushSlaveConfig request.
func SlaveConfig(entries []model.SlaveConfigEntry) Request {
	return Request{Kind: PushSlaveConfig, Slaves: entries}
}

// RobotCommand builds a SendRobotCommand request.
func RobotCommand(cmd model.RobotCommand) Request {
	return Request{Kind: SendRobotCommand, Command: cmd}
}

// clone deep-copies the slices so the producer may reuse its buffers.
func (r Request) clone() Request {
	if r.Field != nil {
		r.Field = append([]float64(nil), r.Field...)
	}
	if r.Slaves != nil {
		r.Slaves = append([]model.SlaveConfigEntry(nil), r.Slaves...)
	}
	return r
}

// Framer turns requests into wire bytes for one kind of link.
type Framer interface {
	// Kinds lists the supported kinds, highest drain priority first.
	Kinds() []Kind
	Frame(r Request) ([]byte, error)
}

// DisplayFramer frames the shape display link.
type DisplayFramer struct{}

// Kinds implements Framer.
func (DisplayFramer) Kinds() []Kind {
	return []Kind{SendHeightField, Reset, Stop, PushSlaveConfig}
}

// Frame implements Framer.
func (DisplayFramer) Frame(r Request) ([]byte, error) {
	switch r.Kind {
	case SendHeightField:
		return protocol.EncodeHeightField(r.Field), nil
	case Reset:
		return protocol.EncodeCommand(protocol.CmdReset), nil
	case Stop:
		return protocol.EncodeCommand(protocol.CmdStop), nil
	case PushSlaveConfig:
		return protocol.EncodeSlaveConfig(r.Slaves), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, r.Kind)
}

// RobotFramer frames the robot base link.
type RobotFramer struct{}

// Kinds implements Framer.
func (RobotFramer) Kinds() []Kind {
	return []Kind{StopRobot, SendRobotCommand}
}

// Frame implements Framer.
func (RobotFramer) Frame(r Request) ([]byte, error) {
	switch r.Kind {
	case SendRobotCommand:
		return protocol.EncodeRobotCommand(r.Command), nil
	case StopRobot:
		return protocol.EncodeRobotStop(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, r.Kind)
}
