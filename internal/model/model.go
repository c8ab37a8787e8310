package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Session{},
	&TrajectoryRecord{},
	&PointSet{},
}

// Point set kinds
const (
	PointSetHumanoid   = "humanoid"
	PointSetAgentDeath = "agentDeath"
)

// Session mirrors one heatmap session file. Document holds the same JSON
// that is written to disk and is replaced on every flush.
type Session struct {
	gorm.Model
	Name             string         `json:"name" gorm:"size:255;uniqueIndex"`
	RunID            string         `json:"runId" gorm:"size:36;index"`
	Path             string         `json:"path" gorm:"size:1024"`
	Label            string         `json:"label" gorm:"size:127"`
	StartTime        time.Time      `json:"startTime"`
	LastFlush        time.Time      `json:"lastFlush"`
	Finalized        bool           `json:"finalized"`
	HumanoidPoints   int            `json:"humanoidPoints"`
	Trajectories     int            `json:"trajectories"`
	TrajectoryPoints int            `json:"trajectoryPoints"`
	AgentDeathPoints int            `json:"agentDeathPoints"`
	Document         datatypes.JSON `json:"document"`
}

func (*Session) TableName() string {
	return "heatmap_sessions"
}

// TrajectoryRecord is one agent trajectory of a session, stored as WKB with
// planar X/Z in XY and capture time in M.
type TrajectoryRecord struct {
	ID        uint    `json:"id" gorm:"primarykey"`
	SessionID uint    `json:"sessionId" gorm:"uniqueIndex:idx_trajectory_session_slot"`
	Session   Session `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Slot      int     `json:"slot" gorm:"uniqueIndex:idx_trajectory_session_slot"`
	NumPoints int     `json:"numPoints"`
	Length    float64 `json:"length"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Geometry  []byte  `json:"-"`
}

func (*TrajectoryRecord) TableName() string {
	return "heatmap_trajectories"
}

// PointSet holds one flat waypoint collection of a session as a WKB multi point.
type PointSet struct {
	ID        uint    `json:"id" gorm:"primarykey"`
	SessionID uint    `json:"sessionId" gorm:"uniqueIndex:idx_pointset_session_kind"`
	Session   Session `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Kind      string  `json:"kind" gorm:"size:32;uniqueIndex:idx_pointset_session_kind"`
	NumPoints int     `json:"numPoints"`
	Geometry  []byte  `json:"-"`
}

func (*PointSet) TableName() string {
	return "heatmap_point_sets"
}
