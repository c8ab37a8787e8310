// Package worker turns host commands into session operations.
package worker

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/OCAP2/heatmap/internal/dispatcher"
	"github.com/OCAP2/heatmap/internal/session"
	"github.com/rs/zerolog"
)

// ErrSessionEnded is returned for commands that arrive after :SESSION:END:.
var ErrSessionEnded = errors.New("session already ended")

// DefaultShutdownTimeout bounds the final session write.
const DefaultShutdownTimeout = 30 * time.Second

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Session         *session.Session
	Logger          zerolog.Logger
	ShutdownTimeout time.Duration
	// OnSessionStart is called with the session file path after a start
	// command, successful or degraded.
	OnSessionStart func(path string)
}

// Manager routes host commands to the session.
type Manager struct {
	deps       Dependencies
	dispatcher *dispatcher.Dispatcher
	// ending is set when :SESSION:END: arrives, ended once queued commands
	// have been drained and no further command is accepted.
	ending atomic.Bool
	ended  atomic.Bool
	done   chan struct{}
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.ShutdownTimeout <= 0 {
		deps.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Manager{deps: deps, done: make(chan struct{})}
}

// Done is closed once the session has ended.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Ended reports whether :SESSION:END: has been received.
func (m *Manager) Ended() bool {
	return m.ending.Load()
}
