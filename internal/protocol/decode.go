package protocol

import "ShapeBot/internal/model"

// FrameKind identifies a decoded frame.
type FrameKind int

const (
	// FrameHeightField is a marker followed by one byte per pin.
	FrameHeightField FrameKind = iota
	// FrameReset is the bare display reset marker.
	FrameReset
	// FrameStop is the bare display stop marker.
	FrameStop
	// FrameSlaveEntry is one 5-byte slave parameter entry.
	FrameSlaveEntry
	// FrameRobotMove is the move marker with a 6-byte payload.
	FrameRobotMove
	// FrameRobotStop is the bare robot stop marker.
	FrameRobotStop
)

func (k FrameKind) String() string {
	switch k {
	case FrameHeightField:
		return "field"
	case FrameReset:
		return "reset"
	case FrameStop:
		return "stop"
	case FrameSlaveEntry:
		return "setup"
	case FrameRobotMove:
		return "move"
	case FrameRobotStop:
		return "robot_stop"
	}
	return "unknown"
}

// Frame is one decoded command.
type Frame struct {
	Kind    FrameKind
	Heights []byte
	Slave   model.SlaveConfigEntry
	Robot   model.RobotCommand
}

// Decoder reassembles frames from a byte stream, as the receiving firmware does.
// Bytes outside a frame that are not a known marker are counted and dropped.
type Decoder struct {
	robot   bool
	pins    int
	buf     []byte
	skipped int
}

// NewDisplayDecoder decodes the display link for a field of pins values.
func NewDisplayDecoder(pins int) *Decoder {
	return &Decoder{pins: pins}
}

// NewRobotDecoder decodes the robot link.
func NewRobotDecoder() *Decoder {
	return &Decoder{robot: true}
}

// Skipped returns the number of dropped stray bytes.
func (d *Decoder) Skipped() int { return d.skipped }

// Feed appends b to the stream and returns every frame completed by it.
func (d *Decoder) Feed(b []byte) []Frame {
	d.buf = append(d.buf, b...)
	var frames []Frame
	for len(d.buf) > 0 {
		need, ok := d.frameLen(d.buf[0])
		if !ok {
			d.skipped++
			d.buf = d.buf[1:]
			continue
		}
		if len(d.buf) < need {
			break
		}
		frames = append(frames, d.decode(d.buf[:need]))
		d.buf = d.buf[need:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames
}

func (d *Decoder) frameLen(marker byte) (int, bool) {
	if d.robot {
		switch marker {
		case RobotMove:
			return RobotFrameSize, true
		case RobotStop:
			return 1, true
		}
		return 0, false
	}
	switch marker {
	case CmdHeightField:
		return 1 + d.pins, true
	case CmdReset, CmdStop:
		return 1, true
	case CmdSetup:
		return SlaveEntrySize, true
	}
	return 0, false
}

func (d *Decoder) decode(f []byte) Frame {
	if d.robot {
		if f[0] == RobotStop {
			return Frame{Kind: FrameRobotStop}
		}
		cmd, _ := DecodeRobotPayload(f[1:])
		return Frame{Kind: FrameRobotMove, Robot: cmd}
	}
	switch f[0] {
	case CmdHeightField:
		h := make([]byte, len(f)-1)
		copy(h, f[1:])
		return Frame{Kind: FrameHeightField, Heights: h}
	case CmdReset:
		return Frame{Kind: FrameReset}
	case CmdStop:
		return Frame{Kind: FrameStop}
	}
	return Frame{Kind: FrameSlaveEntry, Slave: model.SlaveConfigEntry{
		SlaveID: f[1], ParamCode: f[2], Pin: f[3], Value: f[4],
	}}
}
