// Package storage defines the snapshot mirrors that receive every
// persisted heatmap session alongside the JSON session file.
package storage

import (
	"github.com/OCAP2/heatmap/internal/aggregate"
	"github.com/OCAP2/heatmap/pkg/core"
)

// Backend is the interface all mirror implementations must satisfy.
// Calls arrive from the single persistence writer goroutine, in order.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(info core.SessionInfo) error
	EndSession(info core.SessionInfo) error

	// WriteSnapshot replaces the mirrored state of the session with snap.
	// doc is the exact JSON written to the session file.
	WriteSnapshot(info core.SessionInfo, snap *aggregate.Snapshot, doc []byte) error
}
