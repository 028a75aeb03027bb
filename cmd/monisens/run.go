// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/monisens/monisens/drivers/simsensor"
	"github.com/monisens/monisens/internal/logging"
	"github.com/monisens/monisens/internal/module"
	"github.com/monisens/monisens/internal/module/rpcdriver"
	"github.com/monisens/monisens/internal/observability"
	"github.com/monisens/monisens/internal/storage"
	"github.com/monisens/monisens/internal/stream"
	"github.com/monisens/monisens/internal/xdg"
	"github.com/monisens/monisens/pkg/driver"
	"github.com/monisens/monisens/pkg/errutil"
)

// Default values for run command flags.
const (
	defaultMetricsAddr = "127.0.0.1:9100"
	defaultLogFormat   = "json"
	defaultLogLevel    = "info"
)

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the monitoring host",
		Long: `Start the monitoring host: load installed drivers, bring up the devices
declared in the config file, and record streamed sensor readings until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configFile
			if path == "" {
				if _, err := os.Stat(xdg.DefaultConfigPath()); err == nil {
					path = xdg.DefaultConfigPath()
				}
			}
			cfg, err := loadConfig(path, cmd.Flags())
			if err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("data-dir", xdg.DataDir(), "data directory for device state")
	cmd.Flags().String("drivers-dir", xdg.DriversDir(), "directory holding installed driver manifests")
	cmd.Flags().String("database-url", "", "PostgreSQL URL for sensor storage (empty = readings are discarded)")
	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaultLogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().Uint64("connect-retries", 3, "retries for transient connect/configure failures")

	return cmd
}

func runHost(ctx context.Context, cfg *hostConfig) error {
	logging.SetDefault("monisens", version, cfg.LogFormat, cfg.LogLevel)

	slog.Info("starting monitoring host",
		"data_dir", cfg.DataDir,
		"drivers_dir", cfg.DriversDir,
		"devices", len(cfg.Devices))

	if err := xdg.EnsureDir(cfg.DataDir); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Metrics and health endpoints.
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer := observability.NewServer(cfg.MetricsAddr, func() bool { return true })
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				slog.Warn("failed to stop observability server", "error", err)
			}
		}()
		go func() {
			if err, ok := <-obsErrCh; ok && err != nil {
				slog.Error("observability server failed", "error", err)
				cancel()
			}
		}()
		metrics = obsServer.Metrics()
	}

	// Sensor storage.
	var recorder storage.Recorder
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresRecorder(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		recorder = pg
		slog.Info("connected to database")
	} else {
		recorder = storage.Discard{}
		slog.Warn("no database configured; sensor readings will be discarded")
	}
	defer recorder.Close()

	hub := stream.NewHub(stream.WithDropFunc(func(streamName string) {
		observability.RecordDroppedMessage(streamName)
	}))

	opts := []module.ManagerOption{
		module.WithBinaryHost(rpcdriver.NewHost()),
		module.WithRecorder(recorder),
		module.WithConnectRetries(cfg.ConnectRetries),
	}
	if metrics != nil {
		opts = append(opts,
			module.WithDispatchFunc(func(_ string, msg driver.Message) {
				metrics.MessagesTotal.WithLabelValues(messageKind(msg)).Inc()
			}),
			module.WithStateFunc(func(from, to module.State) {
				metrics.Sessions.WithLabelValues(from.String()).Dec()
				metrics.Sessions.WithLabelValues(to.String()).Inc()
			}),
			module.WithRetryFunc(func() {
				metrics.ConnectRetries.Inc()
			}),
			module.WithFailureFunc(func(stage string, code driver.Code) {
				metrics.LifecycleFailures.WithLabelValues(stage, strconv.Itoa(int(code))).Inc()
			}),
			module.WithRecordFunc(func(status string) {
				metrics.RecordsTotal.WithLabelValues(status).Inc()
			}),
		)
	}

	mgr := module.NewManager(cfg.DriversDir, cfg.DataDir, hub, opts...)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := mgr.Close(closeCtx); err != nil {
			errutil.LogError(slog.Default(), "failed to close device manager", err)
		}
	}()

	registerBuiltins()

	if err := mgr.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load drivers: %w", err)
	}

	if err := mgr.StartRecording(ctx); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	for _, dev := range cfg.Devices {
		if err := bringUpDevice(ctx, mgr, dev); err != nil {
			return fmt.Errorf("failed to bring up device %s: %w", dev.Name, err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("context canceled, shutting down")
	}

	return nil
}

// messageKind labels a dispatched message for the messages counter.
func messageKind(msg driver.Message) string {
	switch msg.(type) {
	case driver.SensorMessage:
		return "sensor"
	case driver.CommonMessage:
		return "common"
	default:
		return "unknown"
	}
}

// registerBuiltins registers the drivers compiled into this host binary.
func registerBuiltins() {
	if _, ok := driver.Lookup(simsensor.Name); ok {
		return
	}
	if err := driver.Register(simsensor.Name, simsensor.New()); err != nil {
		slog.Warn("failed to register builtin driver", "driver", simsensor.Name, "error", err)
	}
}

// bringUpDevice walks one configured device through its full lifecycle.
func bringUpDevice(ctx context.Context, mgr *module.Manager, dev deviceConfig) error {
	connConf, err := toConf(dev.Connect)
	if err != nil {
		return fmt.Errorf("invalid connect params: %w", err)
	}
	confConf, err := toConf(dev.Configure)
	if err != nil {
		return fmt.Errorf("invalid configure params: %w", err)
	}

	id, err := mgr.AddDevice(ctx, dev.Name, dev.Driver)
	if err != nil {
		return err
	}

	if _, err := mgr.ConnInfo(ctx, id); err != nil {
		return err
	}
	if err := mgr.Connect(ctx, id, connConf); err != nil {
		return err
	}
	if _, err := mgr.ConfInfo(ctx, id); err != nil {
		return err
	}
	if err := mgr.Configure(ctx, id, confConf); err != nil {
		return err
	}

	catalog, err := mgr.SensorTypeInfos(ctx, id)
	if err != nil {
		return err
	}
	slog.Info("device catalog discovered",
		"device_id", id,
		"device", dev.Name,
		"sensors", len(catalog))

	return mgr.Start(ctx, id)
}
