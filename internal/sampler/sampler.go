// Package sampler turns entity positions into timestamped waypoints and
// decides, per entity, when the next waypoint is due.
package sampler

import "github.com/OCAP2/heatmap/pkg/core"

// Sample builds a waypoint from a live position and the simulation clock.
// The vertical component is replaced by simClockMs/1000.
func Sample(pos core.Vec3, simClockMs int64) core.Waypoint {
	return core.Waypoint{
		X: pos.X,
		T: float64(simClockMs) / 1000,
		Z: pos.Z,
	}
}
