package parser

import (
	"errors"
	"fmt"
	"strings"

	"ShapeBot/internal/model"
	"ShapeBot/internal/protocol"
	"ShapeBot/internal/util"
)

// ErrUnknownParam is returned for a slave parameter name with no protocol code.
var ErrUnknownParam = errors.New("unknown slave parameter")

// ParamCode maps a parameter name to its fixed protocol code.
func ParamCode(name string) (byte, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "kp":
		return protocol.ParamKp, nil
	case "ki":
		return protocol.ParamKi, nil
	case "kd":
		return protocol.ParamKd, nil
	case "ls", "lowering_speed":
		return protocol.ParamLoweringSpeed, nil
	case "disable", "disable_pin":
		return protocol.ParamDisablePin, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

// SlaveEntry validates one parameter line of a slave block.
func SlaveEntry(slaveID int, p model.SlaveParam) (model.SlaveConfigEntry, error) {
	code, err := ParamCode(p.Param)
	if err != nil {
		return model.SlaveConfigEntry{}, err
	}
	if err := byteRange("slave id", slaveID); err != nil {
		return model.SlaveConfigEntry{}, err
	}
	if err := byteRange("pin", p.Pin); err != nil {
		return model.SlaveConfigEntry{}, err
	}
	if err := byteRange("value", p.Value); err != nil {
		return model.SlaveConfigEntry{}, err
	}
	return model.SlaveConfigEntry{
		SlaveID:   uint8(slaveID),
		ParamCode: code,
		Pin:       uint8(p.Pin),
		Value:     uint8(p.Value),
	}, nil
}

// SlaveEntries flattens the configured slave blocks into wire entries. Order
// inside a block is kept. Malformed lines are skipped and logged; the rest go through.
func SlaveEntries(slaves []model.SlaveConfig, log *util.Logger) []model.SlaveConfigEntry {
	var out []model.SlaveConfigEntry
	for _, s := range slaves {
		for i, p := range s.Params {
			e, err := SlaveEntry(s.ID, p)
			if err != nil {
				if log != nil {
					log.Warnf("slave %d line %d skipped: %v", s.ID, i+1, err)
				}
				continue
			}
			out = append(out, e)
		}
	}
	return out
}

func byteRange(what string, v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("%s %d out of range 0-255", what, v)
	}
	return nil
}
