// Package model defines shared configuration structures used to initialize the ShapeBot system.
// It includes global settings, the shape display, the omni robot and the operator API.
package model

// Config represents the root structure loaded from configs/config.yml.
type Config struct {
	Global  GlobalConfig  `yaml:"global"`
	Display DisplayConfig `yaml:"display"`
	Robot   RobotConfig   `yaml:"robot"`
	API     APIConfig     `yaml:"api"`
}

// GlobalConfig defines shared defaults across the system.
type GlobalConfig struct {
	TickRateHz int    `yaml:"tick_rate_hz"` // fixed simulation rate
	LogLevel   string `yaml:"log_level"`    // debug/info/warn/error
}

// LinkConfig describes one serial link owned by a link worker.
type LinkConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Device         string `yaml:"device"` // empty = probe the platform port list
	Baud           int    `yaml:"baud"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	Mode           string `yaml:"mode"`      // threaded/cooperative
	Separator      string `yaml:"separator"` // inbound field separator
}

// GridConfig defines the physical pin layout of the shape display (meters).
type GridConfig struct {
	Cols          int     `yaml:"cols"`
	Rows          int     `yaml:"rows"`
	PinSize       float64 `yaml:"pin_size"`
	PinSpacing    float64 `yaml:"pin_spacing"`
	PinHeight     float64 `yaml:"pin_height"`
	MaxTravel     float64 `yaml:"max_travel"`
	InitialHeight float64 `yaml:"initial_height"`
	OriginX       float64 `yaml:"origin_x"`
	OriginZ       float64 `yaml:"origin_z"`
}

// PinControlConfig selects the pin update rule and actuator limits.
type PinControlConfig struct {
	Mode            string  `yaml:"mode"`       // direct/tracking/sinusoidal
	HighSpeed       float64 `yaml:"high_speed"` // m/s
	LowSpeedDivisor float64 `yaml:"low_speed_divisor"`
	DeadZone        float64 `yaml:"dead_zone"` // m
}

// QueryConfig selects how the surface query is interpreted.
type QueryConfig struct {
	Variant       string  `yaml:"variant"` // plain/extrude/extrude_cut
	ExtrudeOffset float64 `yaml:"extrude_offset"`
	CutOffset     float64 `yaml:"cut_offset"`
}

// SurfaceConfig selects the built-in surface used when no scene engine is attached.
type SurfaceConfig struct {
	Kind          string  `yaml:"kind"` // flat/sphere
	Height        float64 `yaml:"height"`
	Radius        float64 `yaml:"radius"`
	X             float64 `yaml:"x"`
	Z             float64 `yaml:"z"`
	FollowsTarget bool    `yaml:"follows_target"`
}

// SlaveParam is one raw parameter line of a slave block.
type SlaveParam struct {
	Param string `yaml:"param"` // kp/ki/kd/ls/disable
	Pin   int    `yaml:"pin"`
	Value int    `yaml:"value"`
}

// SlaveConfig groups the parameters of one downstream controller.
type SlaveConfig struct {
	ID     int          `yaml:"id"`
	Params []SlaveParam `yaml:"params"`
}

// DisplayConfig defines the shape display link, grid and control policy.
type DisplayConfig struct {
	Link          LinkConfig       `yaml:"link"`
	Grid          GridConfig       `yaml:"grid"`
	Control       PinControlConfig `yaml:"control"`
	Query         QueryConfig      `yaml:"query"`
	Surface       SurfaceConfig    `yaml:"surface"`
	RefreshRateMs int              `yaml:"refresh_rate_ms"`
	AutoSend      bool             `yaml:"auto_send"`
	SetupOnStart  bool             `yaml:"setup_on_start"`
	Slaves        []SlaveConfig    `yaml:"slaves"`
}

// PIDConfig holds the gains of a single PID instance.
type PIDConfig struct {
	Kp    float64 `yaml:"kp"`
	Ki    float64 `yaml:"ki"`
	Kd    float64 `yaml:"kd"`
	Limit float64 `yaml:"limit"`
}

// PoseSourceConfig selects where a planar pose comes from.
type PoseSourceConfig struct {
	Source    string  `yaml:"source"` // static/manual/tracking
	X         float64 `yaml:"x"`
	Y         float64 `yaml:"y"`
	Z         float64 `yaml:"z"`
	Device    string  `yaml:"device"`
	Baud      int     `yaml:"baud"`
	Separator string  `yaml:"separator"`
}

// WorkspaceConfig bounds the region the robot is allowed to follow a target in.
type WorkspaceConfig struct {
	Enabled bool    `yaml:"enabled"`
	MinX    float64 `yaml:"min_x"`
	MaxX    float64 `yaml:"max_x"`
	MinZ    float64 `yaml:"min_z"`
	MaxZ    float64 `yaml:"max_z"`
}

// RobotConfig defines the omni robot link and position controller.
type RobotConfig struct {
	Link             LinkConfig       `yaml:"link"`
	PIDX             PIDConfig        `yaml:"pid_x"`
	PIDZ             PIDConfig        `yaml:"pid_z"`
	HeadingOffsetDeg float64          `yaml:"heading_offset_deg"`
	Saturation       string           `yaml:"saturation"` // clamp/wrap
	SendRateMs       int              `yaml:"send_rate_ms"`
	AutoSend         bool             `yaml:"auto_send"`
	PivotOffsetX     float64          `yaml:"pivot_offset_x"`
	PivotOffsetZ     float64          `yaml:"pivot_offset_z"`
	Target           PoseSourceConfig `yaml:"target"`
	Current          PoseSourceConfig `yaml:"current"`
	Workspace        WorkspaceConfig  `yaml:"workspace"`
}

// APIConfig defines the operator HTTP API and the event recorder.
type APIConfig struct {
	Addr   string `yaml:"addr"` // empty disables the API
	DBPath string `yaml:"db_path"`
}
