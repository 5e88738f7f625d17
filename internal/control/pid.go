// Package control provides the closed-loop controllers used by the robot platform.
package control

// PID is a proportional-integral-derivative controller with a symmetric output limit.
//
// When the raw output exceeds the limit the accumulated integral is rebuilt so that the
// next tick starts exactly at the clamp boundary instead of winding up further.
type PID struct {
	Kp    float64
	Ki    float64
	Kd    float64
	Limit float64

	integral  float64
	lastError float64
}

// NewPID creates a controller with the given gains and output limit.
func NewPID(kp, ki, kd, limit float64) *PID {
	return &PID{Kp: kp, Ki: ki, Kd: kd, Limit: limit}
}

// Update advances the controller by dt and returns the clamped output.
// dt must be > 0; the caller owns that guarantee.
func (p *PID) Update(setpoint, actual, dt float64) float64 {
	err := setpoint - actual
	p.integral += err * dt
	deriv := (err - p.lastError) / dt
	p.lastError = err

	pd := err*p.Kp + deriv*p.Kd
	out := pd + p.integral*p.Ki

	switch {
	case out > p.Limit:
		p.integral = p.Limit - pd
		return p.Limit
	case out < -p.Limit:
		p.integral = -p.Limit - pd
		return -p.Limit
	}
	return out
}

// Reset clears the accumulated integral and the derivative history.
func (p *PID) Reset() {
	p.integral = 0
	p.lastError = 0
}

// Integral returns the accumulated integral term.
func (p *PID) Integral() float64 { return p.integral }

// LastError returns the error seen on the previous Update.
func (p *PID) LastError() float64 { return p.lastError }
