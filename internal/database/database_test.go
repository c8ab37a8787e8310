package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/OCAP2/heatmap/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5433", Username: "u", Password: "p", Database: "heatmap"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=heatmap sslmode=disable", cfg.DSN())
}

func TestGetSqliteDB_FileAndSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heatmap.db")
	db, err := GetSqliteDB(path)
	require.NoError(t, err)
	require.NoError(t, Setup(db))

	assert.True(t, db.Migrator().HasTable(&model.Session{}))
	assert.True(t, db.Migrator().HasTable(&model.TrajectoryRecord{}))
	assert.True(t, db.Migrator().HasTable(&model.PointSet{}))
}

func TestGetSqliteDB_MemoryDatabasesAreIsolated(t *testing.T) {
	a, err := GetSqliteDB("")
	require.NoError(t, err)
	b, err := GetSqliteDB("")
	require.NoError(t, err)
	require.NoError(t, Setup(a))

	assert.True(t, a.Migrator().HasTable(&model.Session{}))
	assert.False(t, b.Migrator().HasTable(&model.Session{}))
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	db, err := GetSqliteDB("")
	require.NoError(t, err)
	require.NoError(t, Setup(db))
	require.NoError(t, db.Create(&model.Session{Name: "session_a"}).Error)

	dump := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, DumpMemoryDBToDisk(db, dump))
	// a second dump replaces the first
	require.NoError(t, DumpMemoryDBToDisk(db, dump))

	info, err := os.Stat(dump)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	restored, err := GetSqliteDB(dump)
	require.NoError(t, err)
	var count int64
	require.NoError(t, restored.Model(&model.Session{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDumpMemoryDBToDisk_NoPath(t *testing.T) {
	assert.Error(t, DumpMemoryDBToDisk(nil, ""))
}
