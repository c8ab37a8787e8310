package geo

import (
	"fmt"
	"math"

	"github.com/OCAP2/heatmap/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Waypoints are projected onto the XY plane as (planar X, planar Z) and the
// capture time is carried in the M ordinate.

func checkFinite(wp core.Waypoint) error {
	for _, v := range [...]float64{wp.X, wp.T, wp.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: waypoint %v", ErrInvalidCoordinates, wp)
		}
	}
	return nil
}

// WaypointPoint converts a waypoint to an XYM point.
func WaypointPoint(wp core.Waypoint) (geom.Point, error) {
	if err := checkFinite(wp); err != nil {
		return geom.Point{}, err
	}
	point, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: wp.X, Y: wp.Z},
		M:    wp.T,
		Type: geom.DimXYM,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("creating point: %w", err)
	}
	return point, nil
}

// TrajectoryGeometry converts a trajectory to a geometry: an empty line
// string for no waypoints, a point for one waypoint or an agent that never
// moved, a line string otherwise.
func TrajectoryGeometry(t core.Trajectory) (geom.Geometry, error) {
	if len(t) == 0 {
		return geom.LineString{}.ForceCoordinatesType(geom.DimXYM).AsGeometry(), nil
	}

	moved := false
	flat := make([]float64, 0, len(t)*3)
	for _, wp := range t {
		if err := checkFinite(wp); err != nil {
			return geom.Geometry{}, err
		}
		if wp.X != t[0].X || wp.Z != t[0].Z {
			moved = true
		}
		flat = append(flat, wp.X, wp.Z, wp.T)
	}

	// a line string needs two distinct XY positions
	if !moved {
		p, err := WaypointPoint(t[len(t)-1])
		if err != nil {
			return geom.Geometry{}, err
		}
		return p.AsGeometry(), nil
	}

	ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXYM))
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("creating line string: %w", err)
	}
	return ls.AsGeometry(), nil
}

// WaypointsMultiPoint converts a flat waypoint collection to a multi point.
func WaypointsMultiPoint(wps []core.Waypoint) (geom.MultiPoint, error) {
	points := make([]geom.Point, len(wps))
	for i, wp := range wps {
		p, err := WaypointPoint(wp)
		if err != nil {
			return geom.MultiPoint{}, err
		}
		points[i] = p
	}
	return geom.NewMultiPoint(points).ForceCoordinatesType(geom.DimXYM), nil
}

// TrajectoryStats summarises a trajectory for storage.
type TrajectoryStats struct {
	NumPoints int
	Length    float64 // planar distance travelled
	StartTime float64
	EndTime   float64
}

// Stats computes planar length and time span of a trajectory.
func Stats(t core.Trajectory) TrajectoryStats {
	s := TrajectoryStats{NumPoints: len(t)}
	if len(t) == 0 {
		return s
	}
	s.StartTime = t[0].T
	s.EndTime = t[len(t)-1].T
	for i := 1; i < len(t); i++ {
		s.Length += math.Hypot(t[i].X-t[i-1].X, t[i].Z-t[i-1].Z)
	}
	return s
}
