// Package parser converts inbound link text and operator configuration into
// structured values.
//
// Inbound wire format (device -> host), one record per line:
//
//	FIELD0<sep>FIELD1<sep>...\n
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ShapeBot/internal/model"
)

// DefaultSeparator splits inbound fields when none is configured.
const DefaultSeparator = ","

// ParseLine builds an InboundEvent from one received line.
// The line terminator is stripped; fields keep their inner whitespace trimmed.
func ParseLine(link, raw, sep string) model.InboundEvent {
	if sep == "" {
		sep = DefaultSeparator
	}
	line := strings.TrimRight(raw, "\r\n")
	var fields []string
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		fields = strings.Split(trimmed, sep)
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
	}
	return model.InboundEvent{
		Link:     link,
		Raw:      line,
		Fields:   fields,
		Received: time.Now().UTC(),
	}
}

// ParsePose parses an "x<sep>y<sep>z" line in meters.
func ParsePose(line, sep string) (model.Pose, error) {
	if sep == "" {
		sep = DefaultSeparator
	}
	fields := strings.Split(strings.TrimSpace(line), sep)
	if len(fields) != 3 {
		return model.Pose{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return model.Pose{}, errors.New("invalid x")
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return model.Pose{}, errors.New("invalid y")
	}
	z, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return model.Pose{}, errors.New("invalid z")
	}
	return model.Pose{X: x, Y: y, Z: z}, nil
}

// PoseToLine is the inverse of ParsePose, used by pose stream simulators.
func PoseToLine(p model.Pose, sep string) string {
	if sep == "" {
		sep = DefaultSeparator
	}
	return fmt.Sprintf("%.4f%s%.4f%s%.4f", p.X, sep, p.Y, sep, p.Z)
}
