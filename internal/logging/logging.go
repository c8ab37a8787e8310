package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
)

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, appName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", appName, sessionStart.Format("20060102_150405")),
	)
}

// OpenLogFile creates logsDir if needed and opens the session log for appending.
func OpenLogFile(logsDir, appName string, sessionStart time.Time) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	path := LogFilePath(logsDir, appName, sessionStart)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}

// ParseLevel converts a config level string to a zerolog.Level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Options selects the sinks of the Manager.
type Options struct {
	Level string
	// Console receives colored console output; nil disables it.
	Console io.Writer
	// File receives uncolored console output; nil disables it.
	File io.Writer
	// GraylogAddress enables a GELF UDP sink when non-empty.
	GraylogAddress string
}

// Manager owns the process logger and its sinks.
type Manager struct {
	logger  zerolog.Logger
	graylog *gelf.Writer
	session atomic.Value // string
}

// NewManager returns a Manager whose logger discards everything until Setup.
func NewManager() *Manager {
	m := &Manager{logger: zerolog.Nop()}
	m.session.Store("")
	return m
}

// Setup builds the logger. A Graylog dial failure is returned but the
// console and file sinks stay usable.
func (m *Manager) Setup(opts Options) error {
	var writers []io.Writer
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        opts.Console,
			TimeFormat: time.RFC3339,
		})
	}
	if opts.File != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        opts.File,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	var gelfErr error
	if opts.GraylogAddress != "" {
		w, err := gelf.NewWriter(opts.GraylogAddress)
		if err != nil {
			gelfErr = fmt.Errorf("connecting to graylog at %s: %w", opts.GraylogAddress, err)
		} else {
			m.graylog = w
			writers = append(writers, w)
		}
	}

	if len(writers) == 0 {
		m.logger = zerolog.Nop()
		return gelfErr
	}

	m.logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger().
		Hook(zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
			if name, _ := m.session.Load().(string); name != "" {
				e.Str("session", name)
			}
		}))

	m.logger.Info().Str("loglevel", m.logger.GetLevel().String()).Msg("Logging set up")
	return gelfErr
}

// SetSession tags every subsequent entry with the active session name.
func (m *Manager) SetSession(name string) {
	m.session.Store(name)
}

// Logger returns the configured logger.
func (m *Manager) Logger() zerolog.Logger {
	return m.logger
}

// Close releases the Graylog connection.
func (m *Manager) Close() error {
	if m.graylog == nil {
		return nil
	}
	err := m.graylog.Close()
	m.graylog = nil
	return err
}
