package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/OCAP2/heatmap/internal/config"
	"github.com/OCAP2/heatmap/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInfo = core.SessionInfo{
	Name:  "session_2024-3-5_14-7-33_Heatmap",
	Path:  "/profile/Heatmap/session_2024-3-5_14-7-33_Heatmap.json",
	Label: "Heatmap",
}

func unreachableConfig(t *testing.T) config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:   true,
		Host:      "127.0.0.1",
		Port:      "1",
		Protocol:  "http",
		Org:       "heatmap-metrics",
		Bucket:    "heatmap_performance",
		BackupDir: t.TempDir(),
	}
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop())
	err := m.WritePoint(SessionPoint(testInfo, "start", time.Now()))
	assert.Error(t, err)
}

func TestBackupWriter_WhenUnreachable(t *testing.T) {
	cfg := unreachableConfig(t)
	m := NewManager(cfg, zerolog.Nop())

	require.NoError(t, m.Connect(context.Background()))

	at := time.Date(2024, 3, 5, 14, 9, 33, 0, time.UTC)
	counts := core.Counts{HumanoidPoints: 2, Trajectories: 1, TrajectoryPoints: 7, AgentDeathPoints: 1}
	require.NoError(t, m.WritePoint(FlushPoint(testInfo, counts, 512, 3*time.Millisecond, nil, at)))
	require.NoError(t, m.WritePoint(FlushPoint(testInfo, counts, 0, time.Millisecond, errors.New("disk full"), at)))
	require.NoError(t, m.WritePoint(SessionPoint(testInfo, "end", at)))
	require.NoError(t, m.Close())

	f, err := os.Open(m.BackupPath())
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "heatmap_flush,")
	assert.Contains(t, out, "session=session_2024-3-5_14-7-33_Heatmap")
	assert.Contains(t, out, "trajectoryPoints=7i")
	assert.Contains(t, out, `error="disk full"`)
	assert.Contains(t, out, "heatmap_session,")
	assert.Contains(t, out, "event=end")
}

func TestFlushPoint_Fields(t *testing.T) {
	at := time.Unix(1709647653, 0)
	p := FlushPoint(testInfo, core.Counts{HumanoidPoints: 4}, 128, 2*time.Millisecond, nil, at)

	lp := influxdb2_write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, lp, "bytes=128i")
	assert.Contains(t, lp, "humanoidPoints=4i")
	assert.Contains(t, lp, "ok=true")
	assert.NotContains(t, lp, "error=")
	assert.Contains(t, lp, "1709647653")
}

func TestClose_Idempotent(t *testing.T) {
	m := NewManager(unreachableConfig(t), zerolog.Nop())
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
