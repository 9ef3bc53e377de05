package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/daemon"
	logpkg "firestige.xyz/pcapminer/internal/log"
	"firestige.xyz/pcapminer/internal/protocol"
	"firestige.xyz/pcapminer/internal/sink"
	"firestige.xyz/pcapminer/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Analyze one capture file and submit it",
	Long: `Decode one pcap file through the analyzer roster and submit the
snapshots to the coordinator.

Examples:
  pcapminer worker -c config.yml --pcap /data/monday.pcap
  pcapminer worker --pcap monday.pcap --local-only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if workerCoordinator != "" {
			cfg.Worker.Coordinator = workerCoordinator
		}
		if workerLocalOnly {
			cfg.Worker.Coordinator = ""
			cfg.Worker.FinalizeLocal = true
		}
		if err := logpkg.Init(cfg.Log); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		defer logpkg.Flush()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runWorker(ctx, cfg, workerPcap, cmd.OutOrStdout())
	},
}

var (
	workerPcap        string
	workerCoordinator string
	workerLocalOnly   bool
)

func init() {
	workerCmd.Flags().StringVar(&workerPcap, "pcap", "", "capture file to analyze (required)")
	workerCmd.Flags().StringVar(&workerCoordinator, "coordinator", "",
		"coordinator address (default: worker.coordinator)")
	workerCmd.Flags().BoolVar(&workerLocalOnly, "local-only", false,
		"skip submission and write artifacts locally")
	workerCmd.MarkFlagRequired("pcap")
}

// runWorker runs a single session. An empty worker.coordinator disables
// submission.
func runWorker(ctx context.Context, cfg *config.GlobalConfig, pcap string, out io.Writer) error {
	deps, err := daemon.Deps(cfg)
	if err != nil {
		return err
	}

	wc := worker.Config{
		ID:                cfg.Worker.ID,
		Deps:              deps,
		ParseHTTP:         cfg.Worker.ParseHTTP,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		FinalizeLocal:     cfg.Worker.FinalizeLocal,
		OutDir:            cfg.Worker.OutDir,
	}
	if cfg.Worker.Coordinator != "" {
		wc.Coordinator = worker.Remote(protocol.NewClient(cfg.Worker.Coordinator, cfg.Worker.DialTimeout))
	}
	if wc.FinalizeLocal {
		s, err := sink.New(cfg.Output)
		if err != nil {
			return fmt.Errorf("failed to create sinks: %w", err)
		}
		defer s.Close()
		wc.Sink = s
	}

	session := worker.New(wc)
	res, err := session.Run(ctx, pcap)
	if res != nil {
		fmt.Fprintf(out, "Worker:    %s\n", res.WorkerID)
		fmt.Fprintf(out, "Source:    %s\n", res.Source)
		fmt.Fprintf(out, "Frames:    %d (%d undecodable)\n", res.Stats.Frames, res.Stats.DecodeErrors)
		fmt.Fprintf(out, "Submitted: %t\n", res.Submitted)
		for _, a := range res.Artifacts {
			fmt.Fprintf(out, "Artifact:  %s\n", a)
		}
		fmt.Fprintf(out, "Duration:  %s\n", res.Duration)
	}
	if err != nil {
		return fmt.Errorf("worker %s: %w", session.ID(), err)
	}
	return nil
}
