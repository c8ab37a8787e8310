package core

import (
	"encoding/json"
	"fmt"
)

// Vec3 is a world-space position as reported by the host engine.
// Y is the vertical axis.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// Waypoint is a captured sample. The vertical axis of the source position is
// replaced by elapsed simulation time in seconds, so a Waypoint is
// (planar X, time, planar Z).
type Waypoint struct {
	X float64
	T float64
	Z float64
}

// MarshalJSON encodes the waypoint as a [x, t, z] triple.
func (w Waypoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{w.X, w.T, w.Z})
}

// UnmarshalJSON decodes a [x, t, z] triple.
func (w *Waypoint) UnmarshalJSON(data []byte) error {
	var triple []float64
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("waypoint: %w", err)
	}
	if len(triple) != 3 {
		return fmt.Errorf("waypoint: expected 3 components, got %d", len(triple))
	}
	w.X, w.T, w.Z = triple[0], triple[1], triple[2]
	return nil
}

// Trajectory is the ordered, append-only waypoint history of one agent.
// Insertion order is capture order.
type Trajectory []Waypoint

// Last returns the most recent waypoint, if any.
func (t Trajectory) Last() (Waypoint, bool) {
	if len(t) == 0 {
		return Waypoint{}, false
	}
	return t[len(t)-1], true
}
