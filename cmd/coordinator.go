package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/daemon"
)

// coordinatorCmd represents the coordinator command
var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the coordinator in foreground",
	Long: `Run the coordinator process in foreground.

The coordinator will:
  1. Load configuration and initialize logging and metrics
  2. Open the submission ledger (if enabled)
  3. Listen for worker submissions
  4. Write per-capture and aggregated artifacts
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCoordinator(); err != nil {
			slog.Error("coordinator failed", "error", err)
			exitWithError("coordinator failed", err)
		}
	},
}

var coordinatorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running coordinator",
	Long: `Send SIGTERM to the coordinator recorded in the PID file and wait for it
to exit. Submissions already being aggregated complete first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := controllerFromFlags()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), stopTimeout)
		defer cancel()
		return runStop(ctx, ctrl, cmd.OutOrStdout())
	},
}

var coordinatorReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the coordinator configuration",
	Long: `Send SIGHUP to the coordinator recorded in the PID file. Log settings
apply immediately; listener, output and ledger changes need a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := controllerFromFlags()
		if err != nil {
			return err
		}
		return runReload(cmd.Context(), ctrl, cmd.OutOrStdout())
	},
}

var (
	pidFile     string
	stopTimeout time.Duration
)

func init() {
	coordinatorCmd.PersistentFlags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: coordinator.pid_file)")
	coordinatorStopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second,
		"how long to wait for the coordinator to exit")

	coordinatorCmd.AddCommand(coordinatorStopCmd)
	coordinatorCmd.AddCommand(coordinatorReloadCmd)
}

func runCoordinator() error {
	fmt.Println("Starting pcapminer coordinator...")
	fmt.Printf("Config: %s\n", displayPath(configFile))

	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	fmt.Printf("Listening: %s\n", d.Addr())

	// Blocks until shutdown
	return d.Run()
}

func controllerFromFlags() (Controller, error) {
	path := pidFile
	if path == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		path = cfg.Coordinator.PIDFile
	}
	return newController(path, stopTimeout), nil
}

func runStop(ctx context.Context, ctrl Controller, out io.Writer) error {
	if err := ctrl.Stop(ctx); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Fprintln(out, "Coordinator is not running")
			return nil
		}
		return fmt.Errorf("failed to stop coordinator: %w", err)
	}
	fmt.Fprintln(out, "✓ Coordinator stopped")
	return nil
}

func runReload(ctx context.Context, ctrl Controller, out io.Writer) error {
	if err := ctrl.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reload requested")
	return nil
}

func displayPath(p string) string {
	if p == "" {
		return "(defaults)"
	}
	if _, err := os.Stat(p); err != nil {
		return p + " (missing)"
	}
	return p
}
