package core

import "time"

// SessionInfo describes the running recording session.
type SessionInfo struct {
	RunID     string // unique per Initialize, survives file name collisions
	Name      string // file name without directory
	Path      string // absolute or profile-relative session file path
	Label     string
	StartTime time.Time
}

// Counts summarises the size of a session aggregate.
type Counts struct {
	HumanoidPoints   int
	Trajectories     int
	TrajectoryPoints int
	AgentDeathPoints int
}

// Total returns the number of waypoints across all collections.
func (c Counts) Total() int {
	return c.HumanoidPoints + c.TrajectoryPoints + c.AgentDeathPoints
}
