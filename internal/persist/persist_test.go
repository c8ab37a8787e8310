package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/heatmap/internal/aggregate"
	"github.com/OCAP2/heatmap/internal/clock"
	"github.com/OCAP2/heatmap/internal/config"
	"github.com/OCAP2/heatmap/internal/fsys"
	"github.com/OCAP2/heatmap/internal/storage"
	"github.com/OCAP2/heatmap/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionStart = time.Date(2024, 3, 5, 14, 7, 33, 0, time.UTC)

type fakeFS struct {
	mu        sync.Mutex
	dirs      map[string]bool
	files     map[string][]byte
	writes    int
	createErr error
	writeErr  error
	gate      chan struct{}
}

func newFakeFS() *fakeFS {
	return &fakeFS{dirs: map[string]bool{}, files: map[string][]byte{}}
}

func (f *fakeFS) DirExists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[path]
}

func (f *fakeFS) CreateDir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.dirs[path] = true
	return nil
}

func (f *fakeFS) WriteFile(path string, data []byte) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func (f *fakeFS) snapshot(path string) ([]byte, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[path], f.writes
}

func (f *fakeFS) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

type mirrorCall struct {
	op    string
	count int
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
}

func (m *fakeMirror) record(op string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{op: op, count: count})
	return nil
}

func (m *fakeMirror) Init() error  { return nil }
func (m *fakeMirror) Close() error { return m.record("close", 0) }
func (m *fakeMirror) StartSession(core.SessionInfo) error {
	return m.record("start", 0)
}
func (m *fakeMirror) EndSession(core.SessionInfo) error { return m.record("end", 0) }
func (m *fakeMirror) WriteSnapshot(_ core.SessionInfo, snap *aggregate.Snapshot, _ []byte) error {
	return m.record("snapshot", snap.Counts().Total())
}

func (m *fakeMirror) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.op
	}
	return out
}

type fakePoints struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
}

func (p *fakePoints) WritePoint(point *influxdb2_write.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, point)
	return nil
}

func (p *fakePoints) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.points))
	for i, pt := range p.points {
		out[i] = pt.Name()
	}
	return out
}

type fixture struct {
	agg   *aggregate.Aggregate
	fs    *fakeFS
	clock *clock.Sim
	m     *Manager
}

func newFixture(t *testing.T, deps Dependencies, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		agg:   aggregate.New(),
		fs:    newFakeFS(),
		clock: clock.NewSimWithCalendar(0, func() time.Time { return sessionStart }),
	}
	deps.Aggregate = f.agg
	deps.FS = f.fs
	deps.Clock = f.clock
	deps.Logger = zerolog.Nop()
	if cfg.Label == "" {
		cfg.Label = "Heatmap"
	}
	f.m = New(deps, cfg)
	t.Cleanup(func() { f.m.Finalize(context.Background()) })
	return f
}

func TestSessionFileName(t *testing.T) {
	tests := []struct {
		name   string
		at     time.Time
		second int
		label  string
		want   string
	}{
		{"no padding", sessionStart, 33, "Heatmap", "session_2024-3-5_14-7-33_Heatmap.json"},
		{"midnight", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), 0, "Heatmap", "session_2025-12-31_0-0-0_Heatmap.json"},
		{"custom label", sessionStart, 9, "Livonia", "session_2024-3-5_14-7-9_Livonia.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionFileName(tt.at, tt.second, tt.label))
		})
	}
}

func TestInitialize_ComputesPath(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})

	path, err := f.m.Initialize("/profile/Heatmap")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/profile/Heatmap", "session_2024-3-5_14-7-33_Heatmap.json"), path)
	assert.Equal(t, Initialized, f.m.State())
	assert.True(t, f.fs.DirExists("/profile/Heatmap"))

	info := f.m.Info()
	assert.Equal(t, "session_2024-3-5_14-7-33_Heatmap.json", info.Name)
	assert.Equal(t, sessionStart, info.StartTime)
	assert.Len(t, info.RunID, 36)

	// idempotent once initialized
	again, err := f.m.Initialize("/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestInitialize_SimClockSeconds(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{SecondsSource: config.SecondsFromSimClock})
	f.clock.Set(125_000)

	path, err := f.m.Initialize("/profile/Heatmap")
	require.NoError(t, err)
	assert.Equal(t, "session_2024-3-5_14-7-5_Heatmap.json", filepath.Base(path))
}

func TestInitialize_OnRealFilesystem(t *testing.T) {
	base := filepath.Join(t.TempDir(), "profile", "Heatmap")
	agg := aggregate.New()
	m := New(Dependencies{
		Aggregate: agg,
		FS:        fsys.OS{},
		Clock:     clock.NewSimWithCalendar(0, func() time.Time { return sessionStart }),
		Logger:    zerolog.Nop(),
	}, Config{Label: "Heatmap"})

	path, err := m.Initialize(base)
	require.NoError(t, err)

	agg.AppendHumanoidPoint(core.Waypoint{X: 1, T: 2, Z: 3})
	require.NoError(t, m.Finalize(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"humanoidPoints":[[1,2,3]],"agentTrajectories":[],"agentDeathPoints":[]}`, string(data))
}

func TestInitialize_DirectoryFailureDegrades(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	f.fs.createErr = errors.New("read-only filesystem")

	_, err := f.m.Initialize("/profile/Heatmap")
	var derr *DirectoryCreateError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "/profile/Heatmap", derr.Dir)
	assert.Equal(t, Degraded, f.m.State())

	// persistence is a no-op, sampling into the aggregate is unaffected
	f.agg.AppendHumanoidPoint(core.Waypoint{X: 1})
	f.m.Tick(500)
	assert.NoError(t, f.m.Flush())
	f.m.Wait()
	_, writes := f.fs.snapshot("")
	assert.Zero(t, writes)

	// retry succeeds once the directory can be created
	f.fs.createErr = nil
	path, err := f.m.Initialize("/profile/Heatmap")
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Equal(t, Initialized, f.m.State())
}

func TestTick_AutosaveCadence(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{AutosaveInterval: 120 * time.Second})
	path, err := f.m.Initialize("/profile/Heatmap")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		f.m.Tick(30)
		f.m.Wait()
		_, writes := f.fs.snapshot(path)
		assert.Zero(t, writes, "tick %d", i)
	}
	assert.Equal(t, 90.0, f.m.Elapsed())
	assert.Equal(t, Running, f.m.State())

	f.m.Tick(30)
	f.m.Wait()
	_, writes := f.fs.snapshot(path)
	assert.Equal(t, 1, writes)
	assert.Zero(t, f.m.Elapsed())
}

func TestTick_BeforeInitializeIsNoop(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	f.m.Tick(1000)
	assert.Equal(t, Uninitialized, f.m.State())
	assert.Zero(t, f.m.Elapsed())
}

func TestTick_DefaultInterval(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	path, err := f.m.Initialize("/p")
	require.NoError(t, err)

	f.m.Tick(119.5)
	f.m.Wait()
	_, writes := f.fs.snapshot(path)
	assert.Zero(t, writes)

	f.m.Tick(0.5)
	f.m.Wait()
	_, writes = f.fs.snapshot(path)
	assert.Equal(t, 1, writes)
}

func TestFlush_WritesSerializedAggregate(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	path, err := f.m.Initialize("/p")
	require.NoError(t, err)

	id := f.agg.RegisterTrajectory()
	require.NoError(t, f.agg.AppendTrajectoryPoint(id, core.Waypoint{X: 4, T: 10, Z: 5}))
	f.agg.AppendAgentDeathPoint(core.Waypoint{X: 4, T: 12, Z: 5})

	require.NoError(t, f.m.Flush())
	f.m.Wait()
	first, _ := f.fs.snapshot(path)

	want, err := f.agg.Serialize()
	require.NoError(t, err)
	assert.Equal(t, want, first)

	// no appends in between: byte-identical file
	require.NoError(t, f.m.Flush())
	f.m.Wait()
	second, writes := f.fs.snapshot(path)
	assert.Equal(t, 2, writes)
	assert.Equal(t, first, second)
}

func TestFlush_WriteFailureIsRetried(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	path, err := f.m.Initialize("/p")
	require.NoError(t, err)

	f.fs.setWriteErr(errors.New("disk full"))
	require.NoError(t, f.m.Flush())
	f.m.Wait()
	assert.Equal(t, 1, f.m.WriteFailures())
	data, _ := f.fs.snapshot(path)
	assert.Nil(t, data)

	f.fs.setWriteErr(nil)
	f.agg.AppendHumanoidPoint(core.Waypoint{X: 7, T: 8, Z: 9})
	require.NoError(t, f.m.Flush())
	f.m.Wait()
	data, _ = f.fs.snapshot(path)
	assert.JSONEq(t, `{"humanoidPoints":[[7,8,9]],"agentTrajectories":[],"agentDeathPoints":[]}`, string(data))
	assert.Equal(t, 1, f.m.WriteFailures())
}

func TestFlush_CoalescesWhenWriterIsBusy(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	f.fs.gate = make(chan struct{})
	path, err := f.m.Initialize("/p")
	require.NoError(t, err)

	require.NoError(t, f.m.Flush())
	for i := 0; i < 5; i++ {
		f.agg.AppendHumanoidPoint(core.Waypoint{X: float64(i)})
		require.NoError(t, f.m.Flush())
	}

	close(f.fs.gate)
	f.m.Wait()

	data, writes := f.fs.snapshot(path)
	assert.Less(t, writes, 6)
	latest, err := f.agg.Serialize()
	require.NoError(t, err)
	assert.Equal(t, latest, data)
}

func TestFinalize_FlushesAtZeroElapsed(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	path, err := f.m.Initialize("/p")
	require.NoError(t, err)
	f.agg.AppendHumanoidPoint(core.Waypoint{X: 1, T: 1, Z: 1})

	require.NoError(t, f.m.Finalize(context.Background()))
	data, writes := f.fs.snapshot(path)
	assert.Equal(t, 1, writes)
	assert.JSONEq(t, `{"humanoidPoints":[[1,1,1]],"agentTrajectories":[],"agentDeathPoints":[]}`, string(data))
	assert.Equal(t, Finalized, f.m.State())

	// everything after finalize is inert
	f.agg.AppendHumanoidPoint(core.Waypoint{X: 2})
	f.m.Tick(1000)
	assert.ErrorIs(t, f.m.Flush(), ErrFinalized)
	assert.NoError(t, f.m.Finalize(context.Background()))
	_, err = f.m.Initialize("/p")
	assert.ErrorIs(t, err, ErrFinalized)

	_, writes = f.fs.snapshot(path)
	assert.Equal(t, 1, writes)
}

func TestFinalize_ReturnsFinalWriteError(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	_, err := f.m.Initialize("/p")
	require.NoError(t, err)
	f.fs.setWriteErr(errors.New("disk full"))

	err = f.m.Finalize(context.Background())
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, f.m.Info().Path, werr.Path)
}

func TestFinalize_Uninitialized(t *testing.T) {
	mirror := &fakeMirror{}
	f := newFixture(t, Dependencies{Mirrors: []storage.Backend{mirror}}, Config{})

	require.NoError(t, f.m.Finalize(context.Background()))
	assert.Equal(t, Finalized, f.m.State())
	assert.Equal(t, []string{"close"}, mirror.ops())
}

func TestFinalize_ContextCancelled(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	f.fs.gate = make(chan struct{})
	_, err := f.m.Initialize("/p")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = f.m.Finalize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	close(f.fs.gate)
}

func TestFinalize_ContextCancelledClosesMirrors(t *testing.T) {
	mirror := &fakeMirror{}
	f := newFixture(t, Dependencies{Mirrors: []storage.Backend{mirror}}, Config{})
	f.fs.gate = make(chan struct{})
	_, err := f.m.Initialize("/p")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.m.Finalize(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"start", "end", "close"}, mirror.ops())
	assert.Equal(t, Finalized, f.m.State())

	// the stuck write completes after the mirrors are gone
	close(f.fs.gate)
	f.m.Wait()
	assert.Equal(t, []string{"start", "end", "close"}, mirror.ops())

	// a second Finalize does not touch the mirrors again
	require.NoError(t, f.m.Finalize(context.Background()))
	assert.Equal(t, []string{"start", "end", "close"}, mirror.ops())
}

func TestPendingWrites(t *testing.T) {
	f := newFixture(t, Dependencies{}, Config{})
	f.fs.gate = make(chan struct{})
	_, err := f.m.Initialize("/p")
	require.NoError(t, err)
	assert.Zero(t, f.m.PendingWrites())

	require.NoError(t, f.m.Flush())
	// the writer takes the first flush and blocks on the file system
	assert.Eventually(t, func() bool { return f.m.PendingWrites() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, f.m.Flush())
	require.NoError(t, f.m.Flush())
	assert.Equal(t, 2, f.m.PendingWrites())

	close(f.fs.gate)
	f.m.Wait()
	assert.Zero(t, f.m.PendingWrites())
	_, writes := f.fs.snapshot(f.m.Info().Path)
	assert.Equal(t, 2, writes)
}

func TestMirrorsAndMetrics(t *testing.T) {
	mirror := &fakeMirror{}
	points := &fakePoints{}
	f := newFixture(t, Dependencies{Mirrors: []storage.Backend{mirror}, Metrics: points}, Config{})

	_, err := f.m.Initialize("/p")
	require.NoError(t, err)

	f.agg.AppendHumanoidPoint(core.Waypoint{X: 1})
	require.NoError(t, f.m.Flush())
	f.m.Wait()

	// failed writes are not mirrored
	f.fs.setWriteErr(errors.New("disk full"))
	require.NoError(t, f.m.Flush())
	f.m.Wait()
	f.fs.setWriteErr(nil)

	require.NoError(t, f.m.Finalize(context.Background()))

	assert.Equal(t, []string{"start", "snapshot", "snapshot", "end", "close"}, mirror.ops())
	assert.Equal(t, []string{"heatmap_session", "heatmap_flush", "heatmap_flush", "heatmap_flush", "heatmap_session"}, points.names())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "State(42)", State(42).String())
}
