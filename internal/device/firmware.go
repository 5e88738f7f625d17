package device

import (
	"errors"
	"fmt"
	"time"

	"ShapeBot/internal/protocol"
	"ShapeBot/internal/util"
)

// FirmwareKind selects which controller a Firmware emulates.
type FirmwareKind int

const (
	// DisplayFirmware emulates the shape display master controller.
	DisplayFirmware FirmwareKind = iota
	// RobotFirmware emulates the omni robot base.
	RobotFirmware
)

func (k FirmwareKind) String() string {
	if k == RobotFirmware {
		return "robot"
	}
	return "display"
}

// Firmware emulates a controller on the far end of a serial link. It decodes
// the host's binary frames and answers each with a text line.
type Firmware struct {
	ID     string
	Kind   FirmwareKind
	Device string
	Baud   int

	decoder *protocol.Decoder
	log     *util.Logger
}

// NewFirmware creates an emulator. pins is the display field size and is
// ignored for the robot.
func NewFirmware(id string, kind FirmwareKind, pins int, dev string, baud int) *Firmware {
	dec := protocol.NewDisplayDecoder(pins)
	if kind == RobotFirmware {
		dec = protocol.NewRobotDecoder()
	}
	return &Firmware{
		ID:      id,
		Kind:    kind,
		Device:  dev,
		Baud:    baud,
		decoder: dec,
		log:     util.NewLogger("firmware").With(id),
	}
}

// Handle feeds received bytes and returns the reply lines for completed frames.
func (f *Firmware) Handle(chunk []byte) []string {
	var replies []string
	for _, fr := range f.decoder.Feed(chunk) {
		switch fr.Kind {
		case protocol.FrameHeightField:
			zeros := 0
			for _, h := range fr.Heights {
				if h == 0 {
					zeros++
				}
			}
			replies = append(replies, fmt.Sprintf("field,%d,%d,%d", len(fr.Heights), zeros, len(fr.Heights)-zeros))
		case protocol.FrameReset:
			replies = append(replies, "reset,ok")
		case protocol.FrameStop, protocol.FrameRobotStop:
			replies = append(replies, "stop,ok")
		case protocol.FrameSlaveEntry:
			s := fr.Slave
			replies = append(replies, fmt.Sprintf("setup,%d,%d,%d,%d", s.SlaveID, s.ParamCode, s.Pin, s.Value))
		case protocol.FrameRobotMove:
			c := fr.Robot
			replies = append(replies, fmt.Sprintf("move,%d,%d,%d", c.Speed, c.Heading, c.AngularRate))
		}
	}
	return replies
}

// Run opens the port and answers frames until stop is closed.
func (f *Firmware) Run(stop <-chan struct{}) error {
	port, err := OpenSerial(f.Device, f.Baud, 50*time.Millisecond, 0)
	if err != nil {
		return err
	}
	defer func() {
		if err := port.Close(); err != nil {
			f.log.Warnf("failed to close %s: %v", f.Device, err)
		}
	}()

	f.log.Infof("%s firmware started on %s (baud %d)", f.Kind, f.Device, f.Baud)

	buf := make([]byte, 1024)
	for {
		select {
		case <-stop:
			f.log.Infof("firmware stopped")
			return nil
		default:
		}

		n, err := port.Read(buf)
		if errors.Is(err, ErrReadTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("firmware %s read: %w", f.ID, err)
		}
		for _, reply := range f.Handle(buf[:n]) {
			if err := port.WriteLine(reply); err != nil {
				f.log.Warnf("reply write error: %v", err)
			} else {
				f.log.Debugf("reply: %s", reply)
			}
		}
	}
}
