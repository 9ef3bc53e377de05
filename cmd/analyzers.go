package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/pcapminer/internal/analyzer"
)

var analyzersCmd = &cobra.Command{
	Use:   "analyzers",
	Short: "List the analyzer roster",
	Long: `List the analyzers every worker runs, in roster order. Snapshots are
matched to analyzers by this position.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyzers(cmd.OutOrStdout())
	},
}

func runAnalyzers(out io.Writer) error {
	analyzers, err := analyzer.Build(analyzer.DefaultRoster, analyzer.Deps{})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tNAME")
	for i, a := range analyzers {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, a.ID(), a.Name())
	}
	return w.Flush()
}
