// Package monitor periodically writes the recorder status to a file.
package monitor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/OCAP2/heatmap/internal/fsys"
	"github.com/OCAP2/heatmap/internal/session"
	"github.com/OCAP2/heatmap/pkg/core"
	"github.com/rs/zerolog"
)

// DefaultInterval is used when Dependencies.Interval is not positive.
const DefaultInterval = 5 * time.Second

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Session  *session.Session
	FS       fsys.FS
	Logger   zerolog.Logger
	Path     string
	Interval time.Duration
}

// Status is the content of the status file.
type Status struct {
	Time          time.Time   `json:"time"`
	Session       string      `json:"session"`
	State         string      `json:"state"`
	Counts        core.Counts `json:"counts"`
	TotalPoints   int         `json:"totalPoints"`
	SinceAutosave float64     `json:"sinceAutosaveSeconds"`
	FailedFlushes int         `json:"failedFlushes"`
	PendingWrites int         `json:"pendingWrites"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current recorder status.
func (s *Service) GetStatus() Status {
	p := s.deps.Session.Persistence()
	counts := s.deps.Session.Aggregate().Counts()
	return Status{
		Time:          time.Now(),
		Session:       p.Info().Name,
		State:         p.State().String(),
		Counts:        counts,
		TotalPoints:   counts.Total(),
		SinceAutosave: p.Elapsed(),
		FailedFlushes: p.WriteFailures(),
		PendingWrites: p.PendingWrites(),
	}
}

// WriteStatus writes the current status to the status file.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	if err := s.deps.FS.WriteFile(s.deps.Path, data); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stopChan, s.done)
	return nil
}

func (s *Service) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	s.deps.Logger.Debug().Str("path", s.deps.Path).Dur("interval", s.deps.Interval).Msg("Starting status monitor")

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.WriteStatus(); err != nil {
				s.deps.Logger.Error().Err(err).Msg("Error writing status file")
			}
		}
	}
}

// Stop stops the status monitor and writes a last status.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	if err := s.WriteStatus(); err != nil {
		s.deps.Logger.Error().Err(err).Msg("Error writing final status file")
	}
}
