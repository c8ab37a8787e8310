package storage

import (
	"fmt"

	"github.com/OCAP2/heatmap/internal/config"
	"github.com/OCAP2/heatmap/internal/database"
	gormstorage "github.com/OCAP2/heatmap/internal/storage/gorm"
	"github.com/OCAP2/heatmap/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/heatmap/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// Storage types accepted by NewBackend.
const (
	TypeNone     = "none"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// NewBackend creates a mirror backend based on configuration.
// It returns nil without error when mirroring is disabled.
func NewBackend(cfg config.StorageConfig, db config.DBConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "", TypeNone:
		return nil, nil
	case TypeSQLite:
		b, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.Path,
		}, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case TypePostgres:
		return postgres.New(postgres.Config{
			Connection: database.PostgresConfig{
				Host:     db.Host,
				Port:     db.Port,
				Username: db.Username,
				Password: db.Password,
				Database: db.Database,
			},
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

var (
	_ Backend = (*gormstorage.Backend)(nil)
	_ Backend = (*sqlitestorage.Backend)(nil)
	_ Backend = (*postgres.Backend)(nil)
)
