// Package session ties one recording session together: the aggregate, its
// persistence manager and the tracking handles of every known entity.
package session

import (
	"context"

	"github.com/OCAP2/heatmap/internal/aggregate"
	"github.com/OCAP2/heatmap/internal/cache"
	"github.com/OCAP2/heatmap/internal/clock"
	"github.com/OCAP2/heatmap/internal/fsys"
	"github.com/OCAP2/heatmap/internal/otel"
	"github.com/OCAP2/heatmap/internal/parser"
	"github.com/OCAP2/heatmap/internal/persist"
	"github.com/OCAP2/heatmap/internal/storage"
	"github.com/OCAP2/heatmap/internal/tracking"
	"github.com/rs/zerolog"
)

// Config holds the session settings.
type Config struct {
	ProfileDir string
	Throttle   tracking.ThrottleConfig
	Persist    persist.Config
}

// Dependencies holds the collaborators of a Session.
type Dependencies struct {
	Clock       *clock.Sim
	FS          fsys.FS
	Mirrors     []storage.Backend
	Metrics     persist.PointWriter
	Instruments *otel.Instruments
	Logger      zerolog.Logger
}

// Session is the recording state of one simulation run.
type Session struct {
	cfg      Config
	deps     Dependencies
	agg      *aggregate.Aggregate
	persist  *persist.Manager
	entities *cache.EntityCache
	handles  tracking.Dependencies
}

// New creates a session. Nothing is written until Start.
func New(deps Dependencies, cfg Config) *Session {
	agg := aggregate.New()
	return &Session{
		cfg:  cfg,
		deps: deps,
		agg:  agg,
		persist: persist.New(persist.Dependencies{
			Aggregate:   agg,
			FS:          deps.FS,
			Clock:       deps.Clock,
			Mirrors:     deps.Mirrors,
			Metrics:     deps.Metrics,
			Instruments: deps.Instruments,
			Logger:      deps.Logger.With().Str("component", "persist").Logger(),
		}, cfg.Persist),
		entities: cache.NewEntityCache(),
		handles: tracking.Dependencies{
			Aggregate:   agg,
			Clock:       deps.Clock,
			Instruments: deps.Instruments,
			Logger:      deps.Logger.With().Str("component", "tracking").Logger(),
		},
	}
}

// Start moves the clock to simClockMs and creates the session file location.
// A DirectoryCreateError leaves the session recording without persistence.
func (s *Session) Start(simClockMs int64) (string, error) {
	s.deps.Clock.Set(simClockMs)
	return s.persist.Initialize(s.cfg.ProfileDir)
}

// SetClock advances the simulation clock.
func (s *Session) SetClock(simClockMs int64) {
	s.deps.Clock.Set(simClockMs)
}

// AddAgent registers an autonomous agent.
func (s *Session) AddAgent(id parser.EntityID) {
	s.entities.AddAgent(id, func(e tracking.Entity) *tracking.AgentHandle {
		return tracking.NewAgentHandle(s.handles, e, s.cfg.Throttle)
	})
}

// AddHuman registers a human-controlled avatar.
func (s *Session) AddHuman(id parser.EntityID) {
	s.entities.AddHuman(id, func(e tracking.Entity) *tracking.HumanHandle {
		return tracking.NewHumanHandle(s.handles, e)
	})
}

// SelectAgent starts trajectory tracking for an agent.
func (s *Session) SelectAgent(id parser.EntityID) (aggregate.TrajectoryID, error) {
	h, err := s.entities.Agent(id)
	if err != nil {
		return -1, err
	}
	return h.OnSelect(), nil
}

// UpdateState records the host-reported state of an entity.
func (s *Session) UpdateState(u parser.StateUpdate) error {
	e, err := s.entities.Get(u.ID)
	if err != nil {
		return err
	}
	e.State.Apply(u)
	return nil
}

// TickAgent advances an agent's throttle and reports whether a waypoint was
// appended.
func (s *Session) TickAgent(t parser.Tick) (bool, error) {
	h, err := s.entities.Agent(t.ID)
	if err != nil {
		return false, err
	}
	return h.OnTick(t.Delta), nil
}

// AgentDeath records the death of an agent. It reports false for agents that
// were never selected or already died.
func (s *Session) AgentDeath(id parser.EntityID) (bool, error) {
	h, err := s.entities.Agent(id)
	if err != nil {
		return false, err
	}
	return h.OnDeath(), nil
}

// HumanDeath records the death location of an avatar.
func (s *Session) HumanDeath(id parser.EntityID) error {
	h, err := s.entities.Human(id)
	if err != nil {
		return err
	}
	h.OnDeath()
	return nil
}

// HumanKill records the location of an avatar that scored a kill.
func (s *Session) HumanKill(id parser.EntityID) error {
	h, err := s.entities.Human(id)
	if err != nil {
		return err
	}
	h.OnKill()
	return nil
}

// Update advances the autosave cadence by timeslice seconds.
func (s *Session) Update(timeslice float64) {
	s.persist.Tick(timeslice)
}

// End writes the final session file and releases the mirrors.
func (s *Session) End(ctx context.Context) error {
	err := s.persist.Finalize(ctx)
	agents, humans := s.entities.Counts()
	counts := s.agg.Counts()
	s.deps.Logger.Info().
		Int("agents", agents).
		Int("humans", humans).
		Int("trajectories", counts.Trajectories).
		Int("points", counts.Total()).
		Msg("Session ended")
	return err
}

// Aggregate returns the session dataset.
func (s *Session) Aggregate() *aggregate.Aggregate {
	return s.agg
}

// Persistence returns the session file manager.
func (s *Session) Persistence() *persist.Manager {
	return s.persist
}
