// Package parser converts host command arguments into typed values.
// Hosts send every argument as a string; numbers may arrive in float
// notation ("32.00") because the scripting side has no integer type.
package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/OCAP2/heatmap/internal/geo"
	"github.com/OCAP2/heatmap/internal/util"
	"github.com/OCAP2/heatmap/pkg/core"
)

// ErrArgCount is returned when a command carries too few arguments.
var ErrArgCount = errors.New("not enough arguments")

// EntityID is the host-assigned id of an agent or avatar.
type EntityID uint32

// StateUpdate is the live state of one entity as reported by the host.
type StateUpdate struct {
	ID        EntityID
	Position  core.Vec3
	Alive     bool
	Tracked   bool
	InVehicle bool
}

// Tick is one per-entity tick with its elapsed time in seconds.
type Tick struct {
	ID    EntityID
	Delta float64
}

// parseUintFromFloat parses a string that may be an integer ("32") or float ("32.00") into uint64.
func parseUintFromFloat(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != float64(uint64(f)) {
		return 0, fmt.Errorf("parseUintFromFloat: %q is not a valid uint64", s)
	}
	return uint64(f), nil
}

// parseIntFromFloat parses a string that may be an integer or float into int64.
func parseIntFromFloat(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("parseIntFromFloat: %q is not a valid int64", s)
	}
	return int64(f), nil
}

// parseSeconds parses a non-negative finite duration in seconds.
func parseSeconds(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%q is not a valid elapsed time", s)
	}
	return f, nil
}

func need(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("%w: want %d, got %d", ErrArgCount, n, len(args))
	}
	return nil
}

// ParseEntityID parses args[0] as an entity id.
func ParseEntityID(args []string) (EntityID, error) {
	if err := need(args, 1); err != nil {
		return 0, err
	}
	args = util.CleanArgs(args)

	id, err := parseUintFromFloat(args[0])
	if err != nil {
		return 0, fmt.Errorf("error converting entity id: %w", err)
	}
	if id > math.MaxUint32 {
		return 0, fmt.Errorf("entity id %d out of range", id)
	}
	return EntityID(id), nil
}

// ParseClock parses args[0] as simulation time in milliseconds.
func ParseClock(args []string) (int64, error) {
	if err := need(args, 1); err != nil {
		return 0, err
	}
	args = util.CleanArgs(args)

	ms, err := parseIntFromFloat(args[0])
	if err != nil {
		return 0, fmt.Errorf("error converting simulation clock: %w", err)
	}
	if ms < 0 {
		return 0, fmt.Errorf("simulation clock %d is negative", ms)
	}
	return ms, nil
}

// ParseTimeslice parses args[0] as elapsed seconds since the previous update.
func ParseTimeslice(args []string) (float64, error) {
	if err := need(args, 1); err != nil {
		return 0, err
	}
	args = util.CleanArgs(args)

	ts, err := parseSeconds(args[0])
	if err != nil {
		return 0, fmt.Errorf("error converting timeslice: %w", err)
	}
	return ts, nil
}

// ParseTick parses [id, deltaSeconds].
func ParseTick(args []string) (Tick, error) {
	var tick Tick
	if err := need(args, 2); err != nil {
		return tick, err
	}

	id, err := ParseEntityID(args)
	if err != nil {
		return tick, err
	}
	tick.ID = id

	tick.Delta, err = parseSeconds(args[1])
	if err != nil {
		return tick, fmt.Errorf("error converting tick delta: %w", err)
	}
	return tick, nil
}

// ParseState parses [id, "x,y,z", alive, tracked, inVehicle].
func ParseState(args []string) (StateUpdate, error) {
	var state StateUpdate
	if err := need(args, 5); err != nil {
		return state, err
	}

	id, err := ParseEntityID(args)
	if err != nil {
		return state, err
	}
	state.ID = id

	state.Position, err = geo.Vec3FromString(args[1])
	if err != nil {
		return state, fmt.Errorf("error parsing position: %w", err)
	}

	flags := []*bool{&state.Alive, &state.Tracked, &state.InVehicle}
	names := []string{"alive", "tracked", "inVehicle"}
	for i, dst := range flags {
		*dst, err = strconv.ParseBool(args[2+i])
		if err != nil {
			return state, fmt.Errorf("error converting %s to bool: %w", names[i], err)
		}
	}
	return state, nil
}
