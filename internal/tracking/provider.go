// Package tracking reads a motion-capture pose stream from a serial bridge and
// keeps the latest sample for the control loop.
package tracking

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ShapeBot/internal/device"
	"ShapeBot/internal/model"
	"ShapeBot/internal/parser"
	"ShapeBot/internal/util"
)

// Provider continuously reads "x,y,z" lines and stores the newest pose.
// Latest reports not ready until the first valid line arrives.
type Provider struct {
	Device    string
	Baud      int
	Separator string

	log *util.Logger

	mu      sync.RWMutex
	pose    model.Pose
	ready   bool
	updated time.Time
	skipped int

	stop chan struct{}
	done chan struct{}
}

// NewSerialProvider creates a Provider using a serial device path and baudrate.
func NewSerialProvider(dev string, baud int, sep string) *Provider {
	return &Provider{
		Device:    dev,
		Baud:      baud,
		Separator: sep,
		log:       util.NewLogger("tracking").With(dev),
	}
}

// Start opens the serial port and begins reading.
func (p *Provider) Start() error {
	if p.Device == "" {
		return errors.New("tracking: no device configured")
	}
	dev, err := device.OpenSerial(p.Device, p.Baud, 100*time.Millisecond, 0)
	if err != nil {
		return fmt.Errorf("open tracking serial failed: %w", err)
	}
	p.StartWith(dev)
	return nil
}

// StartWith begins reading from an already open device, which the provider
// then owns and closes on Stop.
func (p *Provider) StartWith(dev device.Device) {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(dev, p.stop, p.done)
}

func (p *Provider) loop(dev device.Device, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := dev.Close(); err != nil {
			p.log.Warnf("close tracking serial: %v", err)
		}
	}()
	for {
		select {
		case <-stop:
			return
		default:
		}
		line, err := dev.ReadLine(100 * time.Millisecond)
		if err != nil {
			if device.IsTransient(err) {
				continue
			}
			p.log.Errorf("read failed, tracking stopped: %v", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pose, err := parser.ParsePose(line, p.Separator)
		if err != nil {
			p.mu.Lock()
			p.skipped++
			p.mu.Unlock()
			p.log.Debugf("skip %q: %v", line, err)
			continue
		}
		p.mu.Lock()
		p.pose, p.ready, p.updated = pose, true, time.Now()
		p.mu.Unlock()
	}
}

// Latest implements robot.PoseSource.
func (p *Provider) Latest() (model.Pose, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pose, p.ready
}

// Updated returns the time of the last valid sample.
func (p *Provider) Updated() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updated
}

// Skipped returns the number of malformed lines seen.
func (p *Provider) Skipped() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.skipped
}

// Stop signals the reading loop and waits for it to close the device.
func (p *Provider) Stop() {
	if p.stop == nil {
		return
	}
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}
