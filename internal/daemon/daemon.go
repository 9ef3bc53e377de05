// Package daemon implements the coordinator process lifecycle.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"firestige.xyz/pcapminer/internal/analyzer"
	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/coordinator"
	"firestige.xyz/pcapminer/internal/enrich"
	"firestige.xyz/pcapminer/internal/ledger"
	logpkg "firestige.xyz/pcapminer/internal/log"
	"firestige.xyz/pcapminer/internal/metrics"
	"firestige.xyz/pcapminer/internal/services"
	"firestige.xyz/pcapminer/internal/sink"
)

// Daemon manages the coordinator process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	// Core components
	server        *coordinator.Server
	sink          sink.Sink
	ledger        *ledger.Ledger  // nil if ledger disabled
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New creates a Daemon from the config at configPath. A non-empty
// pidFile overrides coordinator.pid_file.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if pidFile == "" {
		pidFile = cfg.Coordinator.PIDFile
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Deps builds the analyzer dependencies described by cfg.
func Deps(cfg *config.GlobalConfig) (analyzer.Deps, error) {
	table, err := services.Load(cfg.Services.OverrideFile)
	if err != nil {
		return analyzer.Deps{}, err
	}
	return analyzer.Deps{
		Resolver: enrich.New(cfg.Enrichment),
		Services: table,
		Options:  cfg.AnalyzerOptions,
	}, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting pcapminer coordinator",
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"listen", d.config.Coordinator.Listen,
	)

	// 2. Claim the PID file
	if err := writePID(d.pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Open submission ledger
	var recorder coordinator.Recorder
	if d.config.Ledger.Enabled {
		l, err := ledger.Open(d.config.Ledger.Path)
		if err != nil {
			d.cleanup()
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		d.ledger = l
		recorder = l
	}

	// 4. Build roster and sinks
	deps, err := Deps(d.config)
	if err != nil {
		d.cleanup()
		return err
	}
	analyzers, err := analyzer.Build(analyzer.DefaultRoster, deps)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to build roster: %w", err)
	}
	d.sink, err = sink.New(d.config.Output)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to create sinks: %w", err)
	}

	server := coordinator.New(coordinator.Config{
		Listen:      d.config.Coordinator.Listen,
		IdleTimeout: d.config.Coordinator.IdleTimeout,
		QueueSize:   d.config.Coordinator.QueueSize,
		OutputDir:   d.config.Output.Dir,
	}, analyzers, d.sink, recorder)

	// 5. Start metrics server, which also serves the aggregate status
	if err := d.startMetrics(server); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 6. Start coordinator server
	d.server = server
	if err := d.server.Start(d.ctx); err != nil {
		d.server = nil
		d.cleanup()
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	slog.Info("daemon started successfully", "addr", d.server.Addr())
	return nil
}

// Addr returns the coordinator's bound address.
func (d *Daemon) Addr() string {
	if d.server == nil {
		return ""
	}
	return d.server.Addr()
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop accepting workers; in-flight aggregation completes
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			slog.Error("error stopping coordinator", "error", err)
		}
		d.server = nil
	}

	d.cleanup()

	// Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	slog.Info("daemon stopped gracefully")
	logpkg.Flush()
}

// cleanup releases everything Start may have opened besides the server.
func (d *Daemon) cleanup() {
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			slog.Error("error closing sinks", "error", err)
		}
		d.sink = nil
	}

	if d.ledger != nil {
		if err := d.ledger.Close(); err != nil {
			slog.Error("error closing ledger", "error", err)
		}
		d.ledger = nil
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		cancel()
		d.metricsServer = nil
	}

	d.cancel()

	if err := removePID(d.pidFile); err != nil {
		slog.Error("error removing PID file", "error", err)
	}
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT or
// TriggerShutdown. SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for workers")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// coldKeys are the settings a running coordinator only picks up on
// restart. Reload reports which of them changed.
var coldKeys = []struct {
	name string
	get  func(*config.GlobalConfig) any
}{
	{"coordinator.listen", func(c *config.GlobalConfig) any { return c.Coordinator.Listen }},
	{"coordinator.idle_timeout", func(c *config.GlobalConfig) any { return c.Coordinator.IdleTimeout }},
	{"coordinator.queue_size", func(c *config.GlobalConfig) any { return c.Coordinator.QueueSize }},
	{"output", func(c *config.GlobalConfig) any { return c.Output }},
	{"enrichment", func(c *config.GlobalConfig) any { return c.Enrichment }},
	{"services", func(c *config.GlobalConfig) any { return c.Services }},
	{"analyzers", func(c *config.GlobalConfig) any { return c.Analyzers }},
	{"metrics", func(c *config.GlobalConfig) any { return c.Metrics }},
	{"ledger", func(c *config.GlobalConfig) any { return c.Ledger }},
}

// Reload re-reads the configuration file. Log settings apply at once;
// changes to coldKeys are logged as requiring a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	old := d.config
	d.config = newConfig

	hotReloaded := []string{}
	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
		d.config.Log = old.Log
	} else if newConfig.Log.Level != old.Log.Level || newConfig.Log.Format != old.Log.Format {
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	for _, k := range coldKeys {
		if !reflect.DeepEqual(k.get(old), k.get(newConfig)) {
			requiresRestart = append(requiresRestart, k.name)
		}
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown asks Run to stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled and mounts the
// coordinator status page at /status.
func (d *Daemon) startMetrics(server *coordinator.Server) error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	srv.Handle("/status", server.StatusHandler())
	if err := srv.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = srv
	return nil
}
