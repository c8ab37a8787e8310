// Package gormstorage mirrors heatmap snapshots into a relational database
// through GORM. Both the SQLite and Postgres backends are built on it.
package gormstorage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OCAP2/heatmap/internal/aggregate"
	"github.com/OCAP2/heatmap/internal/database"
	"github.com/OCAP2/heatmap/internal/geo"
	"github.com/OCAP2/heatmap/internal/model"
	"github.com/OCAP2/heatmap/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoSession is returned when a snapshot arrives before StartSession.
var ErrNoSession = errors.New("no session started")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger zerolog.Logger
}

// Backend implements storage.Backend on top of a *gorm.DB.
type Backend struct {
	deps Dependencies

	mu       sync.Mutex
	sessions map[string]uint
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{
		deps:     deps,
		sessions: make(map[string]uint),
	}
}

// DB exposes the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the heatmap tables.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend has no database")
	}
	return database.Setup(b.deps.DB)
}

// Close releases the underlying connection pool.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartSession creates or reopens the session row keyed by name.
func (b *Backend) StartSession(info core.SessionInfo) error {
	row := model.Session{
		Name:      info.Name,
		Path:      info.Path,
		Label:     info.Label,
		StartTime: info.StartTime,
		Document:  datatypes.JSON(`{"humanoidPoints":[],"agentTrajectories":[],"agentDeathPoints":[]}`),
	}
	err := b.deps.DB.
		Where(model.Session{Name: info.Name}).
		Assign(map[string]any{
			"run_id":     info.RunID,
			"path":       info.Path,
			"label":      info.Label,
			"start_time": info.StartTime,
			"finalized":  false,
		}).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("creating session %s: %w", info.Name, err)
	}

	b.mu.Lock()
	b.sessions[info.Name] = row.ID
	b.mu.Unlock()

	b.deps.Logger.Debug().Str("session", info.Name).Uint("id", row.ID).Msg("Session row ready")
	return nil
}

func (b *Backend) sessionID(name string) (uint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.sessions[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	return id, nil
}

// WriteSnapshot replaces trajectories and point sets of the session in one
// transaction and stores doc as the session document.
func (b *Backend) WriteSnapshot(info core.SessionInfo, snap *aggregate.Snapshot, doc []byte) error {
	id, err := b.sessionID(info.Name)
	if err != nil {
		return err
	}

	counts := snap.Counts()
	trajectories := make([]model.TrajectoryRecord, 0, len(snap.AgentTrajectories))
	for slot, t := range snap.AgentTrajectories {
		g, err := geo.TrajectoryGeometry(t)
		if err != nil {
			return fmt.Errorf("encoding trajectory %d: %w", slot, err)
		}
		stats := geo.Stats(t)
		trajectories = append(trajectories, model.TrajectoryRecord{
			SessionID: id,
			Slot:      slot,
			NumPoints: stats.NumPoints,
			Length:    stats.Length,
			StartTime: stats.StartTime,
			EndTime:   stats.EndTime,
			Geometry:  g.AsBinary(),
		})
	}

	humanoid, err := geo.WaypointsMultiPoint(snap.HumanoidPoints)
	if err != nil {
		return fmt.Errorf("encoding humanoid points: %w", err)
	}
	deaths, err := geo.WaypointsMultiPoint(snap.AgentDeathPoints)
	if err != nil {
		return fmt.Errorf("encoding agent death points: %w", err)
	}
	pointSets := []model.PointSet{
		{
			SessionID: id,
			Kind:      model.PointSetHumanoid,
			NumPoints: len(snap.HumanoidPoints),
			Geometry:  humanoid.AsBinary(),
		},
		{
			SessionID: id,
			Kind:      model.PointSetAgentDeath,
			NumPoints: len(snap.AgentDeathPoints),
			Geometry:  deaths.AsBinary(),
		},
	}

	return b.deps.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Session{}).Where("id = ?", id).Updates(map[string]any{
			"last_flush":         time.Now().UTC(),
			"humanoid_points":    counts.HumanoidPoints,
			"trajectories":       counts.Trajectories,
			"trajectory_points":  counts.TrajectoryPoints,
			"agent_death_points": counts.AgentDeathPoints,
			"document":           datatypes.JSON(doc),
		}).Error
		if err != nil {
			return fmt.Errorf("updating session: %w", err)
		}

		if len(trajectories) > 0 {
			err = tx.Omit(clause.Associations).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}, {Name: "slot"}},
				DoUpdates: clause.AssignmentColumns([]string{"num_points", "length", "start_time", "end_time", "geometry"}),
			}).Create(&trajectories).Error
			if err != nil {
				return fmt.Errorf("writing trajectories: %w", err)
			}
		}

		err = tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"num_points", "geometry"}),
		}).Create(&pointSets).Error
		if err != nil {
			return fmt.Errorf("writing point sets: %w", err)
		}
		return nil
	})
}

// EndSession marks the session row finalized.
func (b *Backend) EndSession(info core.SessionInfo) error {
	id, err := b.sessionID(info.Name)
	if err != nil {
		return err
	}
	if err := b.deps.DB.Model(&model.Session{}).Where("id = ?", id).Update("finalized", true).Error; err != nil {
		return fmt.Errorf("finalizing session %s: %w", info.Name, err)
	}

	b.mu.Lock()
	delete(b.sessions, info.Name)
	b.mu.Unlock()
	return nil
}
