package pinfield

import (
	"math"
	"sync"
)

// Surface answers "how high is the scene above the pin support at (x, z)".
// A miss (false) is a normal outcome, not an error.
type Surface interface {
	Height(x, z float64) (float64, bool)
}

// SurfaceFunc adapts a plain function to Surface.
type SurfaceFunc func(x, z float64) (float64, bool)

// Height implements Surface.
func (f SurfaceFunc) Height(x, z float64) (float64, bool) { return f(x, z) }

// Flat is an infinite plane at a fixed height.
type Flat struct {
	Level float64
}

// Height implements Surface.
func (f Flat) Height(x, z float64) (float64, bool) { return f.Level, true }

// Sphere is a spherical cap whose top sits at Top above the support.
// Its planar center can be moved while the engine is ticking.
type Sphere struct {
	mu     sync.RWMutex
	cx, cz float64
	radius float64
	top    float64
}

// NewSphere creates a sphere centered at (x, z).
func NewSphere(x, z, radius, top float64) *Sphere {
	return &Sphere{cx: x, cz: z, radius: radius, top: top}
}

// MoveTo sets the planar center.
func (s *Sphere) MoveTo(x, z float64) {
	s.mu.Lock()
	s.cx, s.cz = x, z
	s.mu.Unlock()
}

// Center returns the planar center.
func (s *Sphere) Center() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cx, s.cz
}

// Height implements Surface.
func (s *Sphere) Height(x, z float64) (float64, bool) {
	s.mu.RLock()
	dx, dz, r, top := x-s.cx, z-s.cz, s.radius, s.top
	s.mu.RUnlock()

	d2 := dx*dx + dz*dz
	if d2 > r*r {
		return 0, false
	}
	return top - r + math.Sqrt(r*r-d2), true
}
