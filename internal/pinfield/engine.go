// Package pinfield computes the height of every pin of the shape display once per
// simulation tick, from a scene surface query and the selected control mode.
package pinfield

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// SnapThreshold is the raw height below which a directly positioned pin is fully lowered.
const SnapThreshold = 0.0005

// Mode selects the per-pin update rule.
type Mode int

const (
	// DirectPositioning writes the clamped surface height straight into the field.
	DirectPositioning Mode = iota
	// SpeedLimitedTracking moves each pin toward the surface at a bounded speed.
	SpeedLimitedTracking
	// SinusoidalWave tracks a synthetic two-axis sine surface at a bounded speed.
	SinusoidalWave
)

func (m Mode) String() string {
	switch m {
	case DirectPositioning:
		return "direct"
	case SpeedLimitedTracking:
		return "tracking"
	case SinusoidalWave:
		return "sinusoidal"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a config or API string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct", "simple":
		return DirectPositioning, nil
	case "tracking", "speed", "bangbang":
		return SpeedLimitedTracking, nil
	case "sinusoidal", "sine", "wave":
		return SinusoidalWave, nil
	}
	return 0, fmt.Errorf("unknown pin control mode %q", s)
}

// Speed selects the actuation preset used by the speed limited modes.
type Speed int

const (
	// High is the configured actuator speed.
	High Speed = iota
	// Low is High divided by the low speed divisor.
	Low
)

func (s Speed) String() string {
	if s == Low {
		return "low"
	}
	return "high"
}

// ParseSpeed maps "high"/"low" to a Speed.
func ParseSpeed(s string) (Speed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return High, nil
	case "low":
		return Low, nil
	}
	return 0, fmt.Errorf("unknown pin speed %q", s)
}

// QueryVariant selects how a surface hit is turned into a target height.
type QueryVariant int

const (
	// Plain uses the hit height as is; a miss lowers the pin.
	Plain QueryVariant = iota
	// Extrude lowers the hit by ExtrudeOffset; a miss lowers the pin.
	Extrude
	// ExtrudeCut lowers the hit by CutOffset; a miss raises the pin fully.
	ExtrudeCut
)

func (v QueryVariant) String() string {
	switch v {
	case Extrude:
		return "extrude"
	case ExtrudeCut:
		return "extrude_cut"
	}
	return "plain"
}

// ParseQueryVariant maps a config string to a QueryVariant.
func ParseQueryVariant(s string) (QueryVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain":
		return Plain, nil
	case "extrude":
		return Extrude, nil
	case "extrude_cut", "cut":
		return ExtrudeCut, nil
	}
	return 0, fmt.Errorf("unknown query variant %q", s)
}

// Query configures the surface query.
type Query struct {
	Variant       QueryVariant
	ExtrudeOffset float64
	CutOffset     float64
}

// Config holds the grid geometry and actuator limits, in meters and m/s.
type Config struct {
	Cols          int
	Rows          int
	PinSize       float64
	PinSpacing    float64
	PinHeight     float64
	MaxTravel     float64
	InitialHeight float64
	OriginX       float64
	OriginZ       float64

	HighSpeed       float64
	LowSpeedDivisor float64
	DeadZone        float64

	Mode  Mode
	Query Query
}

// DefaultConfig returns the geometry of the 24x24 display.
func DefaultConfig() Config {
	return Config{
		Cols:            24,
		Rows:            24,
		PinSize:         0.0048,
		PinSpacing:      0.003,
		PinHeight:       0.0635,
		MaxTravel:       0.05,
		InitialHeight:   0.008,
		HighSpeed:       0.076,
		LowSpeedDivisor: 5,
		DeadZone:        0.001,
		Query:           Query{ExtrudeOffset: 0.1, CutOffset: 0.1},
	}
}

// Summary counts lowered and raised pins at millimeter resolution.
type Summary struct {
	Zeros int `json:"zeros"`
	Up    int `json:"up"`
}

type pinPos struct{ x, z float64 }

// Engine owns the height field. Only Tick mutates heights.
type Engine struct {
	cfg     Config
	surface Surface
	pos     []pinPos

	mu      sync.RWMutex
	heights []float64
	mode    Mode
	speed   Speed
	query   Query
	elapsed float64
}

// NewEngine lays out the grid and initializes every pin to InitialHeight.
// A nil surface behaves as a scene with nothing in it.
func NewEngine(cfg Config, surface Surface) (*Engine, error) {
	if cfg.Cols <= 0 || cfg.Rows <= 0 {
		return nil, fmt.Errorf("invalid grid %dx%d", cfg.Cols, cfg.Rows)
	}
	if cfg.MaxTravel <= 0 {
		return nil, errors.New("max travel must be positive")
	}
	if cfg.HighSpeed < 0 || cfg.DeadZone < 0 {
		return nil, errors.New("speed and dead zone must not be negative")
	}
	if cfg.LowSpeedDivisor <= 0 {
		cfg.LowSpeedDivisor = 5
	}

	n := cfg.Cols * cfg.Rows
	e := &Engine{
		cfg:     cfg,
		surface: surface,
		pos:     make([]pinPos, n),
		heights: make([]float64, n),
		mode:    cfg.Mode,
		query:   cfg.Query,
	}
	pitch := cfg.PinSize + cfg.PinSpacing
	init := clamp(cfg.InitialHeight, 0, cfg.MaxTravel)
	for i := 0; i < cfg.Cols; i++ {
		for j := 0; j < cfg.Rows; j++ {
			idx := i*cfg.Rows + j
			e.pos[idx] = pinPos{
				x: cfg.OriginX - (float64(i)*pitch + cfg.PinSize/2),
				z: cfg.OriginZ + float64(j)*pitch + cfg.PinSize/2,
			}
			e.heights[idx] = init
		}
	}
	return e, nil
}

// Tick advances the engine by dt seconds and recomputes every pin. dt <= 0 is ignored.
func (e *Engine) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.elapsed += dt
	step := e.currentSpeedLocked() * dt

	switch e.mode {
	case SpeedLimitedTracking:
		for i, p := range e.pos {
			e.heights[i] = e.actuate(e.heights[i], e.target(p), step)
		}
	case SinusoidalWave:
		amp := e.cfg.PinHeight / 5.2
		w := 2 * math.Pi * e.elapsed
		for i, p := range e.pos {
			target := amp*math.Sin(w*p.x) + amp*math.Sin(w*p.z)
			e.heights[i] = e.actuate(e.heights[i], target, step)
		}
	default:
		for i, p := range e.pos {
			e.heights[i] = e.snap(e.target(p))
		}
	}
}

// target queries the surface above pin p. Misses and NaNs resolve to the
// variant's default so the field never has holes.
func (e *Engine) target(p pinPos) float64 {
	miss := 0.0
	if e.query.Variant == ExtrudeCut {
		miss = e.cfg.MaxTravel
	}
	if e.surface == nil {
		return miss
	}
	h, ok := e.surface.Height(p.x, p.z)
	if !ok || math.IsNaN(h) {
		return miss
	}
	switch e.query.Variant {
	case Extrude:
		h -= e.query.ExtrudeOffset
	case ExtrudeCut:
		h -= e.query.CutOffset
	}
	return h
}

func (e *Engine) snap(h float64) float64 {
	if h > e.cfg.MaxTravel {
		return e.cfg.MaxTravel
	}
	if h < SnapThreshold {
		return 0
	}
	return h
}

// actuate is the bang-bang rule shared by both speed limited modes.
func (e *Engine) actuate(cur, target, step float64) float64 {
	if math.Abs(cur-target) > e.cfg.DeadZone {
		if cur > target {
			cur -= step
		} else {
			cur += step
		}
	}
	return clamp(cur, 0, e.cfg.MaxTravel)
}

func (e *Engine) currentSpeedLocked() float64 {
	if e.speed == Low {
		return e.cfg.HighSpeed / e.cfg.LowSpeedDivisor
	}
	return e.cfg.HighSpeed
}

// SetMode selects the update rule used from the next tick on.
func (e *Engine) SetMode(m Mode) {
	e.mu.Lock()
	e.mode = m
	e.mu.Unlock()
}

// Mode returns the active update rule.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetSpeed selects the high or low actuation preset.
func (e *Engine) SetSpeed(s Speed) {
	e.mu.Lock()
	e.speed = s
	e.mu.Unlock()
}

// Speed returns the active actuation preset.
func (e *Engine) Speed() Speed {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.speed
}

// CurrentSpeed returns the active actuation speed in m/s.
func (e *Engine) CurrentSpeed() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentSpeedLocked()
}

// SetQuery replaces the query configuration.
func (e *Engine) SetQuery(q Query) {
	e.mu.Lock()
	e.query = q
	e.mu.Unlock()
}

// Snapshot returns a copy of the height field, row-major.
func (e *Engine) Snapshot() []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]float64, len(e.heights))
	copy(out, e.heights)
	return out
}

// Len returns the fixed number of pins.
func (e *Engine) Len() int { return len(e.pos) }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// PinPosition returns the planar position of pin i.
func (e *Engine) PinPosition(i int) (x, z float64) {
	p := e.pos[i]
	return p.x, p.z
}

// Elapsed returns the simulated time accumulated by Tick.
func (e *Engine) Elapsed() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.elapsed
}

// Summary counts pins that would be sent as 0 mm versus raised pins.
func (e *Engine) Summary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var s Summary
	for _, h := range e.heights {
		if int(h*1000) == 0 {
			s.Zeros++
		} else {
			s.Up++
		}
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
