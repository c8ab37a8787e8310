// Command heatmap_recorder records movement and death telemetry of one
// simulation session. The host sends commands as JSON lines on stdin or
// through an input file; the session document is written below
// heatmap.profileDir.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/OCAP2/heatmap/internal/clock"
	"github.com/OCAP2/heatmap/internal/config"
	"github.com/OCAP2/heatmap/internal/dispatcher"
	"github.com/OCAP2/heatmap/internal/fsys"
	"github.com/OCAP2/heatmap/internal/influx"
	"github.com/OCAP2/heatmap/internal/logging"
	"github.com/OCAP2/heatmap/internal/monitor"
	intOtel "github.com/OCAP2/heatmap/internal/otel"
	"github.com/OCAP2/heatmap/internal/persist"
	"github.com/OCAP2/heatmap/internal/session"
	"github.com/OCAP2/heatmap/internal/storage"
	"github.com/OCAP2/heatmap/internal/tracking"
	"github.com/OCAP2/heatmap/internal/worker"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "heatmap_recorder"
)

func main() {
	flags := pflag.NewFlagSet(AppName, pflag.ExitOnError)
	configDir := flags.StringP("config", "c", ".", "directory containing "+config.FileName)
	input := flags.StringP("input", "i", "-", "command stream to read, - for stdin")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("%s %s (%s)\n", AppName, CurrentVersion, BuildDate)
		return
	}

	if err := run(*configDir, *input); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func run(configDir, input string) error {
	sessionStart := time.Now()

	configErr := config.Load(configDir)

	logManager := logging.NewManager()
	logFile, fileErr := logging.OpenLogFile(config.GetString("logsDir"), AppName, sessionStart)
	opts := logging.Options{
		Level:   config.GetString("logLevel"),
		Console: os.Stderr,
	}
	if fileErr == nil {
		opts.File = logFile
		defer logFile.Close()
	}
	if gl := config.GetGraylogConfig(); gl.Enabled {
		opts.GraylogAddress = gl.Address
	}
	graylogErr := logManager.Setup(opts)
	defer logManager.Close()
	log := logManager.Logger()

	log.Info().Str("version", CurrentVersion).Str("buildDate", BuildDate).Msg("Starting up...")
	if configErr != nil {
		log.Warn().Err(configErr).Msg("Failed to load config, using defaults!")
	} else {
		log.Info().Str("dir", configDir).Msg("Loaded config")
	}
	if fileErr != nil {
		log.Error().Err(fileErr).Msg("Failed to create/open log file!")
	}
	if graylogErr != nil {
		log.Error().Err(graylogErr).Msg("Graylog sink unavailable")
	}

	provider, instruments := setupMetrics(log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down OTel provider")
		}
	}()

	var metrics persist.PointWriter
	influxManager := influx.NewManager(config.GetInfluxConfig(), log.With().Str("component", "influx").Logger())
	switch err := influxManager.Connect(context.Background()); {
	case errors.Is(err, influx.ErrDisabled):
		log.Debug().Msg("InfluxDB metrics disabled")
	case err != nil:
		log.Error().Err(err).Msg("Failed to set up InfluxDB metrics")
	default:
		metrics = influxManager
	}
	defer influxManager.Close()

	var mirrors []storage.Backend
	if backend, err := setupStorage(log); err != nil {
		log.Error().Err(err).Msg("Storage mirror unavailable, recording to session file only")
	} else if backend != nil {
		mirrors = append(mirrors, backend)
	}

	hm := config.GetHeatmapConfig()
	sess := session.New(session.Dependencies{
		Clock:       clock.NewSim(0),
		FS:          fsys.OS{},
		Mirrors:     mirrors,
		Metrics:     metrics,
		Instruments: instruments,
		Logger:      log.With().Str("component", "session").Logger(),
	}, session.Config{
		ProfileDir: hm.ProfileDir,
		Throttle: tracking.ThrottleConfig{
			TickTime:         hm.TickTime.Seconds(),
			TickTimeVehicle:  hm.TickTimeVehicle.Seconds(),
			PrimeFirstSample: hm.PrimeFirstSample,
		},
		Persist: persist.Config{
			Label:            hm.Label,
			AutosaveInterval: hm.AutosaveInterval,
			SecondsSource:    hm.SecondsSource,
		},
	})
	if err := instruments.ObserveAggregate(intOtel.GlobalMeter(), sess.Aggregate().Counts); err != nil {
		log.Error().Err(err).Msg("Failed to observe aggregate size")
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	defer d.Close()

	workerManager := worker.NewManager(worker.Dependencies{
		Session: sess,
		Logger:  log.With().Str("component", "worker").Logger(),
		OnSessionStart: func(path string) {
			if path == "" {
				return
			}
			logManager.SetSession(filepath.Base(path))
			log.Info().Str("path", path).Msg("Session file ready")
		},
	})
	workerManager.RegisterHandlers(d)

	var statusMonitor *monitor.Service
	if sc := config.GetStatusConfig(); sc.Enabled {
		statusMonitor = monitor.NewService(monitor.Dependencies{
			Session:  sess,
			FS:       fsys.OS{},
			Logger:   log.With().Str("component", "monitor").Logger(),
			Path:     sc.Path,
			Interval: sc.Interval,
		})
		if err := statusMonitor.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start status monitor")
		}
	}

	r, closeInput, err := openInput(input)
	if err != nil {
		return err
	}
	defer closeInput()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readErr := make(chan error, 1)
	go func() {
		readErr <- readCommands(r, d, log)
	}()

	select {
	case err := <-readErr:
		if err != nil {
			log.Error().Err(err).Msg("Command stream failed")
		} else {
			log.Info().Msg("Command stream closed")
		}
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case <-workerManager.Done():
	}

	if !workerManager.Ended() {
		if _, err := d.Dispatch(dispatcher.Event{Command: worker.CmdSessionEnd}); err != nil && !errors.Is(err, worker.ErrSessionEnded) {
			log.Error().Err(err).Msg("Failed to end session")
		}
	}

	if statusMonitor != nil {
		statusMonitor.Stop()
	}

	log.Info().Msg("Shut down")
	return nil
}

func setupMetrics(log zerolog.Logger) (*intOtel.Provider, *intOtel.Instruments) {
	otelCfg := config.GetOTelConfig()
	cfg := intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		ExportInterval: otelCfg.ExportInterval,
	}
	if otelCfg.Enabled {
		cfg.MetricWriter = io.Discard
		if otelCfg.MetricsFile != "" {
			f, err := os.OpenFile(otelCfg.MetricsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				log.Error().Err(err).Str("path", otelCfg.MetricsFile).Msg("Failed to open metrics file")
			} else {
				cfg.MetricWriter = f
			}
		}
	}

	provider, err := intOtel.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize OTel provider")
		provider, _ = intOtel.New(intOtel.Config{})
	} else if otelCfg.Enabled {
		log.Info().Str("file", otelCfg.MetricsFile).Msg("OTel provider initialized")
	}

	instruments, err := intOtel.NewInstruments(intOtel.GlobalMeter())
	if err != nil {
		log.Error().Err(err).Msg("Failed to create heatmap instruments")
		return provider, nil
	}
	return provider, instruments
}

func setupStorage(log zerolog.Logger) (storage.Backend, error) {
	storageCfg := config.GetStorageConfig()

	backend, err := storage.NewBackend(storageCfg, config.GetDBConfig(), log.With().Str("component", "storage").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}
	if backend == nil {
		return nil, nil
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	log.Info().Str("type", storageCfg.Type).Msg("Storage mirror initialized")
	return backend, nil
}
