// Package protocol defines the byte-level wire format of the shape display and
// robot links. It has no transport dependency.
//
// Display link (host -> master):
//
//	127 h0 h1 ... hN-1      height field, one byte per pin in millimeters
//	126                     reset
//	125                     stop
//	124 slave param pin val slave parameter set, repeated per entry
//
// Robot link (host -> base):
//
//	127 s0 s1 h0 h1 a0 a1   move, int16 little-endian speed/heading/angular rate
//	126                     stop
//
// Both links answer with newline-delimited text.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ShapeBot/internal/model"
)

// Display command markers.
const (
	CmdHeightField byte = 127
	CmdReset       byte = 126
	CmdStop        byte = 125
	CmdSetup       byte = 124
)

// Robot command markers.
const (
	RobotMove byte = 127
	RobotStop byte = 126
)

// Slave parameter codes.
const (
	ParamKp            byte = 253
	ParamKi            byte = 248
	ParamKd            byte = 247
	ParamLoweringSpeed byte = 246
	ParamDisablePin    byte = 245
)

// Frame sizes.
const (
	SlaveEntrySize   = 5
	RobotPayloadSize = 6
	RobotFrameSize   = 1 + RobotPayloadSize
)

// ErrShortPayload is returned when a robot payload has fewer than 6 bytes.
var ErrShortPayload = errors.New("protocol: short robot payload")

// HeightToByte converts meters to whole millimeters, saturating at the byte range.
func HeightToByte(meters float64) byte {
	mm := int(meters * 1000)
	if mm < 0 {
		return 0
	}
	if mm > 255 {
		return 255
	}
	return byte(mm)
}

// EncodeHeightField frames a height field (meters, row-major).
func EncodeHeightField(field []float64) []byte {
	out := make([]byte, 0, 1+len(field))
	out = append(out, CmdHeightField)
	for _, h := range field {
		out = append(out, HeightToByte(h))
	}
	return out
}

// EncodeCommand frames a bare marker such as CmdReset or CmdStop.
func EncodeCommand(marker byte) []byte {
	return []byte{marker}
}

// EncodeSlaveEntry frames one slave parameter set.
func EncodeSlaveEntry(e model.SlaveConfigEntry) [SlaveEntrySize]byte {
	return [SlaveEntrySize]byte{CmdSetup, e.SlaveID, e.ParamCode, e.Pin, e.Value}
}

// EncodeSlaveConfig concatenates the frames of all entries, preserving order.
func EncodeSlaveConfig(entries []model.SlaveConfigEntry) []byte {
	out := make([]byte, 0, len(entries)*SlaveEntrySize)
	for _, e := range entries {
		b := EncodeSlaveEntry(e)
		out = append(out, b[:]...)
	}
	return out
}

// RobotPayload serializes a command as three little-endian int16 values.
func RobotPayload(cmd model.RobotCommand) [RobotPayloadSize]byte {
	var b [RobotPayloadSize]byte
	binary.LittleEndian.PutUint16(b[0:], uint16(cmd.Speed))
	binary.LittleEndian.PutUint16(b[2:], uint16(cmd.Heading))
	binary.LittleEndian.PutUint16(b[4:], uint16(cmd.AngularRate))
	return b
}

// DecodeRobotPayload is the inverse of RobotPayload.
func DecodeRobotPayload(b []byte) (model.RobotCommand, error) {
	if len(b) < RobotPayloadSize {
		return model.RobotCommand{}, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(b))
	}
	return model.RobotCommand{
		Speed:       int16(binary.LittleEndian.Uint16(b[0:])),
		Heading:     int16(binary.LittleEndian.Uint16(b[2:])),
		AngularRate: int16(binary.LittleEndian.Uint16(b[4:])),
	}, nil
}

// EncodeRobotCommand frames a move command.
func EncodeRobotCommand(cmd model.RobotCommand) []byte {
	p := RobotPayload(cmd)
	return append([]byte{RobotMove}, p[:]...)
}

// EncodeRobotStop frames a robot stop.
func EncodeRobotStop() []byte {
	return []byte{RobotStop}
}

// HeightsToMeters converts a received millimeter field back to meters.
func HeightsToMeters(b []byte) []float64 {
	out := make([]float64, len(b))
	for i, v := range b {
		out[i] = float64(v) / 1000
	}
	return out
}
