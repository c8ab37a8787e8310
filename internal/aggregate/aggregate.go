// Package aggregate holds the in-memory heatmap dataset of one session.
//
// The aggregate is append-only: points are never removed and trajectory slots,
// once registered, stay registered for the lifetime of the session. Appends
// and snapshots are guarded by a RWMutex so entity ticks may run on several
// goroutines while the persistence layer reads a consistent view.
package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/OCAP2/heatmap/pkg/core"
)

// ErrUnknownTrajectory is returned when appending to a slot that was never registered.
var ErrUnknownTrajectory = errors.New("unknown trajectory slot")

// TrajectoryID indexes a trajectory slot in the aggregate arena.
type TrajectoryID int

// Aggregate accumulates all waypoints recorded during a session.
type Aggregate struct {
	mu sync.RWMutex

	humanoidPoints   []core.Waypoint
	trajectories     []core.Trajectory
	agentDeathPoints []core.Waypoint
	trajectoryPoints int
}

// New creates an empty aggregate.
func New() *Aggregate {
	return &Aggregate{
		humanoidPoints:   make([]core.Waypoint, 0),
		trajectories:     make([]core.Trajectory, 0),
		agentDeathPoints: make([]core.Waypoint, 0),
	}
}

// AppendHumanoidPoint records an avatar death or kill location.
func (a *Aggregate) AppendHumanoidPoint(wp core.Waypoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.humanoidPoints = append(a.humanoidPoints, wp)
}

// RegisterTrajectory reserves a new, empty trajectory slot and returns its id.
func (a *Aggregate) RegisterTrajectory() TrajectoryID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trajectories = append(a.trajectories, make(core.Trajectory, 0))
	return TrajectoryID(len(a.trajectories) - 1)
}

// AppendTrajectoryPoint appends a waypoint to the tail of a registered trajectory.
func (a *Aggregate) AppendTrajectoryPoint(id TrajectoryID, wp core.Waypoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id < 0 || int(id) >= len(a.trajectories) {
		return fmt.Errorf("%w: %d", ErrUnknownTrajectory, id)
	}
	a.trajectories[id] = append(a.trajectories[id], wp)
	a.trajectoryPoints++
	return nil
}

// AppendAgentDeathPoint records an autonomous agent death location.
func (a *Aggregate) AppendAgentDeathPoint(wp core.Waypoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.agentDeathPoints = append(a.agentDeathPoints, wp)
}

// Trajectory returns a copy of one trajectory.
func (a *Aggregate) Trajectory(id TrajectoryID) (core.Trajectory, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if id < 0 || int(id) >= len(a.trajectories) {
		return nil, false
	}
	return append(core.Trajectory(nil), a.trajectories[id]...), true
}

// Counts returns the current size of every collection.
func (a *Aggregate) Counts() core.Counts {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return core.Counts{
		HumanoidPoints:   len(a.humanoidPoints),
		Trajectories:     len(a.trajectories),
		TrajectoryPoints: a.trajectoryPoints,
		AgentDeathPoints: len(a.agentDeathPoints),
	}
}

// Snapshot returns a deep copy taken under a single read lock, so no
// append can be observed half-way.
func (a *Aggregate) Snapshot() *Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := &Snapshot{
		HumanoidPoints:    append(make([]core.Waypoint, 0, len(a.humanoidPoints)), a.humanoidPoints...),
		AgentTrajectories: make([]core.Trajectory, len(a.trajectories)),
		AgentDeathPoints:  append(make([]core.Waypoint, 0, len(a.agentDeathPoints)), a.agentDeathPoints...),
	}
	for i, t := range a.trajectories {
		s.AgentTrajectories[i] = append(make(core.Trajectory, 0, len(t)), t...)
	}
	return s
}

// Serialize encodes a consistent snapshot of the aggregate.
func (a *Aggregate) Serialize() ([]byte, error) {
	return a.Snapshot().Marshal()
}

// Snapshot is a point-in-time copy of an aggregate and the persisted
// document shape.
type Snapshot struct {
	HumanoidPoints    []core.Waypoint   `json:"humanoidPoints"`
	AgentTrajectories []core.Trajectory `json:"agentTrajectories"`
	AgentDeathPoints  []core.Waypoint   `json:"agentDeathPoints"`
}

// Marshal encodes the snapshot as JSON. Empty collections encode as [].
func (s *Snapshot) Marshal() ([]byte, error) {
	data, err := json.Marshal(s.normalized())
	if err != nil {
		return nil, fmt.Errorf("marshal heatmap snapshot: %w", err)
	}
	return data, nil
}

// Counts returns the size of every collection in the snapshot.
func (s *Snapshot) Counts() core.Counts {
	c := core.Counts{
		HumanoidPoints:   len(s.HumanoidPoints),
		Trajectories:     len(s.AgentTrajectories),
		AgentDeathPoints: len(s.AgentDeathPoints),
	}
	for _, t := range s.AgentTrajectories {
		c.TrajectoryPoints += len(t)
	}
	return c
}

func (s *Snapshot) normalized() *Snapshot {
	n := *s
	if n.HumanoidPoints == nil {
		n.HumanoidPoints = []core.Waypoint{}
	}
	if n.AgentDeathPoints == nil {
		n.AgentDeathPoints = []core.Waypoint{}
	}
	n.AgentTrajectories = make([]core.Trajectory, len(s.AgentTrajectories))
	for i, t := range s.AgentTrajectories {
		if t == nil {
			t = core.Trajectory{}
		}
		n.AgentTrajectories[i] = t
	}
	return &n
}

// Deserialize decodes a document produced by Serialize.
func Deserialize(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal heatmap snapshot: %w", err)
	}
	return s.normalized(), nil
}
