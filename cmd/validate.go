// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/pcapminer/internal/analyzer"
	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/daemon"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration, apply defaults and build the analyzer roster
with the configured options, without starting anything.

Examples:
  pcapminer validate -c config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	deps, err := daemon.Deps(cfg)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	analyzers, err := analyzer.Build(analyzer.DefaultRoster, deps)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	fmt.Fprintf(out, "VALID: node %q, %d analyzer(s), coordinator %s, output %s\n",
		cfg.Node.Hostname,
		len(analyzers),
		cfg.Coordinator.Listen,
		cfg.Output.Dir,
	)
	return nil
}
