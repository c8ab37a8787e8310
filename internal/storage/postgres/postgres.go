// Package postgres implements the storage.Backend interface on a Postgres
// server through the GORM backend.
package postgres

import (
	"fmt"

	"github.com/OCAP2/heatmap/internal/aggregate"
	"github.com/OCAP2/heatmap/internal/database"
	gormstorage "github.com/OCAP2/heatmap/internal/storage/gorm"
	"github.com/OCAP2/heatmap/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Config holds configuration for the Postgres storage backend.
type Config struct {
	Connection   database.PostgresConfig
	MaxOpenConns int
}

// Backend connects lazily on Init and then delegates to the GORM backend.
type Backend struct {
	cfg  Config
	log  zerolog.Logger
	db   *gorm.DB
	gorm *gormstorage.Backend
}

// New creates a Postgres storage backend that connects on Init.
func New(cfg Config, log zerolog.Logger) *Backend {
	return &Backend{cfg: cfg, log: log}
}

// NewWithDB creates a backend on an existing connection; Init only migrates.
func NewWithDB(db *gorm.DB, log zerolog.Logger) *Backend {
	return &Backend{log: log, db: db}
}

// Init connects, validates the connection and migrates the schema.
func (b *Backend) Init() error {
	if b.db == nil {
		db, err := database.GetPostgresDB(b.cfg.Connection)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		maxOpen := b.cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 4
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		b.db = db
	}

	b.gorm = gormstorage.New(gormstorage.Dependencies{DB: b.db, Logger: b.log})
	if err := b.gorm.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.log.Info().Str("host", b.cfg.Connection.Host).Msg("Postgres mirror ready")
	return nil
}

func (b *Backend) ready() error {
	if b.gorm == nil {
		return fmt.Errorf("postgres backend not initialized")
	}
	return nil
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	if b.gorm == nil {
		return nil
	}
	return b.gorm.Close()
}

// StartSession creates or reopens the session row.
func (b *Backend) StartSession(info core.SessionInfo) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.gorm.StartSession(info)
}

// WriteSnapshot mirrors a flushed snapshot.
func (b *Backend) WriteSnapshot(info core.SessionInfo, snap *aggregate.Snapshot, doc []byte) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.gorm.WriteSnapshot(info, snap, doc)
}

// EndSession marks the session finalized.
func (b *Backend) EndSession(info core.SessionInfo) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.gorm.EndSession(info)
}
