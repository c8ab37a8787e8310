// Package persist writes the session aggregate to a JSON file on a fixed
// cadence and once more when the session ends.
//
// Snapshots are taken synchronously on the caller's goroutine; encoding
// results are handed to one writer goroutine so the host tick never waits on
// disk. When the writer falls behind only the newest document is written.
package persist

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/OCAP2/heatmap/internal/aggregate"
	"github.com/OCAP2/heatmap/internal/clock"
	"github.com/OCAP2/heatmap/internal/config"
	"github.com/OCAP2/heatmap/internal/fsys"
	"github.com/OCAP2/heatmap/internal/influx"
	"github.com/OCAP2/heatmap/internal/otel"
	"github.com/OCAP2/heatmap/internal/queue"
	"github.com/OCAP2/heatmap/internal/storage"
	"github.com/OCAP2/heatmap/pkg/core"
	"github.com/google/uuid"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

// DefaultAutosaveInterval is the autosave cadence in seconds.
const DefaultAutosaveInterval = 120

// State is the lifecycle position of a Manager.
type State int

const (
	Uninitialized State = iota
	Initialized
	Running
	Degraded
	Finalized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Degraded:
		return "degraded"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PointWriter receives flush and session metrics. *influx.Manager implements it.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point) error
}

// Config holds the persistence settings.
type Config struct {
	Label            string
	AutosaveInterval time.Duration
	// SecondsSource selects the seconds field of the file name:
	// config.SecondsFromCalendar or config.SecondsFromSimClock.
	SecondsSource string
}

// Dependencies holds the collaborators of a Manager. Aggregate, FS and Clock
// are required.
type Dependencies struct {
	Aggregate   *aggregate.Aggregate
	FS          fsys.FS
	Clock       clock.Clock
	Mirrors     []storage.Backend
	Metrics     PointWriter
	Instruments *otel.Instruments
	Logger      zerolog.Logger
}

type flushJob struct {
	seq  uint64
	snap *aggregate.Snapshot
	doc  []byte
	at   time.Time
}

// Manager owns the session file of one recording session.
type Manager struct {
	deps     Dependencies
	cfg      Config
	interval float64

	mu      sync.Mutex
	state   State
	info    core.SessionInfo
	elapsed float64
	seq     uint64

	pending    *queue.Queue[flushJob]
	stop       chan struct{}
	writerDone chan struct{}

	// mirrorsMu serializes mirror calls; closed mirrors are skipped
	mirrorsMu     sync.Mutex
	mirrorsClosed bool

	// written tracks writer progress for Wait
	writtenMu sync.Mutex
	written   uint64
	writtenC  *sync.Cond
	lastErr   error
	failures  int
}

// New creates a Manager in the Uninitialized state.
func New(deps Dependencies, cfg Config) *Manager {
	interval := cfg.AutosaveInterval.Seconds()
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	if cfg.SecondsSource == "" {
		cfg.SecondsSource = config.SecondsFromCalendar
	}
	m := &Manager{
		deps:     deps,
		cfg:      cfg,
		interval: interval,
		pending:  queue.New[flushJob](),
	}
	m.writtenC = sync.NewCond(&m.writtenMu)
	return m
}

// SessionFileName builds the session file name from a calendar time and
// the seconds value. Fields are not zero padded.
func SessionFileName(t time.Time, second int, label string) string {
	return fmt.Sprintf("session_%d-%d-%d_%d-%d-%d_%s.json",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), second, label)
}

func (m *Manager) fileSecond(now time.Time) int {
	if m.cfg.SecondsSource == config.SecondsFromSimClock {
		return int((m.deps.Clock.NowMs() / 1000) % 60)
	}
	return now.Second()
}

// Initialize ensures baseDir exists and fixes the session file path. It is
// idempotent once successful and may be retried after a DirectoryCreateError.
func (m *Manager) Initialize(baseDir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Finalized:
		return "", ErrFinalized
	case Initialized, Running:
		return m.info.Path, nil
	}

	if !m.deps.FS.DirExists(baseDir) {
		if err := m.deps.FS.CreateDir(baseDir); err != nil {
			m.state = Degraded
			derr := &DirectoryCreateError{Dir: baseDir, Err: err}
			m.deps.Logger.Error().Err(derr).Msg("Persistence degraded, session will not be saved")
			return "", derr
		}
	}

	now := m.deps.Clock.CalendarNow()
	name := SessionFileName(now, m.fileSecond(now), m.cfg.Label)
	m.info = core.SessionInfo{
		RunID:     uuid.NewString(),
		Name:      name,
		Path:      filepath.Join(baseDir, name),
		Label:     m.cfg.Label,
		StartTime: now,
	}
	m.state = Initialized
	m.elapsed = 0

	for _, mirror := range m.deps.Mirrors {
		if err := mirror.StartSession(m.info); err != nil {
			m.deps.Logger.Error().Err(err).Msg("Mirror failed to start session")
		}
	}
	m.writePoint(influx.SessionPoint(m.info, "start", time.Now()))

	m.stop = make(chan struct{})
	m.writerDone = make(chan struct{})
	go m.writer()

	m.deps.Logger.Info().Str("path", m.info.Path).Str("run", m.info.RunID).Msg("Session file initialized")
	return m.info.Path, nil
}

// Tick advances the autosave accumulator by delta seconds and flushes once
// it reaches the autosave interval. It does nothing unless the manager is
// initialized.
func (m *Manager) Tick(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Initialized && m.state != Running {
		return
	}
	m.state = Running
	m.elapsed += delta
	if m.elapsed >= m.interval {
		m.elapsed = 0
		m.flushLocked()
	}
}

// Flush queues a write of the whole aggregate. It is a no-op while
// uninitialized or degraded.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Finalized:
		return ErrFinalized
	case Initialized, Running:
		m.flushLocked()
	}
	return nil
}

func (m *Manager) flushLocked() {
	snap := m.deps.Aggregate.Snapshot()
	doc, err := snap.Marshal()
	if err != nil {
		// waypoints are plain float triples; failing to encode them is a bug
		panic(err)
	}
	m.seq++
	m.pending.Push(flushJob{seq: m.seq, snap: snap, doc: doc, at: time.Now()})
}

// Wait blocks until every flush queued before the call has been written or
// superseded by a newer write.
func (m *Manager) Wait() {
	m.mu.Lock()
	target := m.seq
	m.mu.Unlock()

	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	for m.written < target {
		m.writtenC.Wait()
	}
}

// Finalize writes the aggregate one last time, waits for the writer to drain
// and ends the session on every mirror. Later calls return nil and do nothing.
// The returned error is the outcome of the final write.
func (m *Manager) Finalize(ctx context.Context) error {
	m.mu.Lock()
	prev := m.state
	if prev == Finalized {
		m.mu.Unlock()
		return nil
	}
	m.state = Finalized
	if prev != Initialized && prev != Running {
		m.mu.Unlock()
		m.closeMirrors()
		m.deps.Logger.Warn().Str("state", prev.String()).Msg("Finalized without a session file")
		return nil
	}
	m.flushLocked()
	close(m.stop)
	m.mu.Unlock()

	select {
	case <-m.writerDone:
	case <-ctx.Done():
		m.endMirrors()
		m.writePoint(influx.SessionPoint(m.info, "end", time.Now()))
		return fmt.Errorf("waiting for final write: %w", ctx.Err())
	}

	m.endMirrors()
	m.writePoint(influx.SessionPoint(m.info, "end", time.Now()))

	m.writtenMu.Lock()
	err := m.lastErr
	m.writtenMu.Unlock()

	m.deps.Logger.Info().Str("path", m.info.Path).Err(err).Msg("Session finalized")
	return err
}

// endMirrors ends the session on every mirror and closes them.
func (m *Manager) endMirrors() {
	m.mirrorsMu.Lock()
	defer m.mirrorsMu.Unlock()
	if m.mirrorsClosed {
		return
	}
	for _, mirror := range m.deps.Mirrors {
		if err := mirror.EndSession(m.info); err != nil {
			m.deps.Logger.Error().Err(err).Msg("Mirror failed to end session")
		}
	}
	m.closeMirrorsLocked()
}

func (m *Manager) closeMirrors() {
	m.mirrorsMu.Lock()
	defer m.mirrorsMu.Unlock()
	if m.mirrorsClosed {
		return
	}
	m.closeMirrorsLocked()
}

func (m *Manager) closeMirrorsLocked() {
	m.mirrorsClosed = true
	for _, mirror := range m.deps.Mirrors {
		if err := mirror.Close(); err != nil {
			m.deps.Logger.Error().Err(err).Msg("Mirror failed to close")
		}
	}
}

func (m *Manager) writer() {
	defer close(m.writerDone)
	for {
		select {
		case <-m.pending.Ready():
			m.drain()
		case <-m.stop:
			m.drain()
			return
		}
	}
}

func (m *Manager) drain() {
	job, skipped, ok := m.pending.TakeLatest()
	if !ok {
		return
	}
	if skipped > 0 {
		m.deps.Logger.Debug().Int("skipped", skipped).Msg("Coalesced pending flushes")
	}
	err := m.write(job)

	m.writtenMu.Lock()
	m.written = job.seq
	m.lastErr = err
	if err != nil {
		m.failures++
	}
	m.writtenC.Broadcast()
	m.writtenMu.Unlock()
}

func (m *Manager) write(job flushJob) error {
	ctx := context.Background()
	start := time.Now()
	counts := job.snap.Counts()

	var err error
	if werr := m.deps.FS.WriteFile(m.info.Path, job.doc); werr != nil {
		err = &WriteError{Path: m.info.Path, Err: werr}
	}
	took := time.Since(start)

	m.deps.Instruments.Flush(ctx, len(job.doc), err)
	m.writePoint(influx.FlushPoint(m.info, counts, len(job.doc), took, err, job.at))

	if err != nil {
		m.deps.Logger.Error().Err(err).Msg("Session file write failed, retrying at next autosave")
		return err
	}

	m.deps.Logger.Debug().
		Int("bytes", len(job.doc)).
		Int("points", counts.Total()).
		Dur("took", took).
		Msg("Session file written")

	m.mirrorsMu.Lock()
	defer m.mirrorsMu.Unlock()
	if m.mirrorsClosed {
		return nil
	}
	for _, mirror := range m.deps.Mirrors {
		if merr := mirror.WriteSnapshot(m.info, job.snap, job.doc); merr != nil {
			m.deps.Logger.Error().Err(merr).Msg("Mirror failed to store snapshot")
		}
	}
	return nil
}

func (m *Manager) writePoint(p *influxdb2_write.Point) {
	if m.deps.Metrics == nil {
		return
	}
	if err := m.deps.Metrics.WritePoint(p); err != nil {
		m.deps.Logger.Warn().Err(err).Msg("Failed to record persistence metric")
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns the session description fixed by Initialize.
func (m *Manager) Info() core.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Elapsed returns the autosave accumulator in seconds.
func (m *Manager) Elapsed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// PendingWrites returns the number of flushes queued behind the writer.
func (m *Manager) PendingWrites() int {
	return m.pending.Len()
}

// WriteFailures returns the number of failed session file writes.
func (m *Manager) WriteFailures() int {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.failures
}
