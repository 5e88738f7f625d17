package robot

import (
	"sync"

	"ShapeBot/internal/model"
)

// PoseSource supplies the latest known pose. ok is false until the first sample.
type PoseSource interface {
	Latest() (pose model.Pose, ok bool)
}

// Static is a pose that never moves.
type Static struct {
	Pose model.Pose
}

// Latest implements PoseSource.
func (s Static) Latest() (model.Pose, bool) { return s.Pose, true }

// Manual is a pose set by the operator. It is not ready until the first Set.
type Manual struct {
	mu    sync.RWMutex
	pose  model.Pose
	ready bool
}

// NewManual returns an empty manual source.
func NewManual() *Manual { return &Manual{} }

// Set stores a new pose and marks the source ready.
func (m *Manual) Set(p model.Pose) {
	m.mu.Lock()
	m.pose, m.ready = p, true
	m.mu.Unlock()
}

// Clear drops the pose; Latest reports not ready until the next Set.
func (m *Manual) Clear() {
	m.mu.Lock()
	m.pose, m.ready = model.Pose{}, false
	m.mu.Unlock()
}

// Latest implements PoseSource.
func (m *Manual) Latest() (model.Pose, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pose, m.ready
}

// Workspace is the planar rectangle the robot may follow a target in.
type Workspace struct {
	MinX, MaxX float64
	MinZ, MaxZ float64
}

// Contains reports whether p lies inside the rectangle, borders included.
func (w Workspace) Contains(p model.Vec2) bool {
	return p.X >= w.MinX && p.X <= w.MaxX && p.Z >= w.MinZ && p.Z <= w.MaxZ
}

// Guard tracks whether the target is inside a workspace and reports edges.
type Guard struct {
	ws     Workspace
	inside bool
	seen   bool
}

// NewGuard returns a guard for ws.
func NewGuard(ws Workspace) *Guard { return &Guard{ws: ws} }

// Observe records the target position. left/entered are true only on the tick
// the target crosses the border; the first observation outside counts as leaving.
func (g *Guard) Observe(p model.Vec2) (left, entered bool) {
	in := g.ws.Contains(p)
	if !g.seen {
		g.seen, g.inside = true, in
		return !in, false
	}
	if in == g.inside {
		return false, false
	}
	g.inside = in
	return !in, in
}

// Inside reports the last observed state.
func (g *Guard) Inside() bool { return g.inside }
