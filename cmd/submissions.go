package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/ledger"
)

// LedgerReader is the read side of the submission ledger.
type LedgerReader interface {
	List(ctx context.Context, limit int) ([]ledger.Entry, error)
	OutcomeCounts(ctx context.Context) (map[string]int, error)
}

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List recent worker submissions",
	Long: `Show the newest entries of the coordinator's submission ledger,
followed by a count per outcome.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if !cfg.Ledger.Enabled {
			return fmt.Errorf("ledger is disabled in %s", displayPath(configFile))
		}
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer l.Close()
		return runSubmissions(cmd.Context(), l, submissionsLimit, cmd.OutOrStdout())
	},
}

var submissionsLimit int

func init() {
	submissionsCmd.Flags().IntVarP(&submissionsLimit, "limit", "n", 20, "number of entries to show")
}

func runSubmissions(ctx context.Context, r LedgerReader, limit int, out io.Writer) error {
	entries, err := r.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list submissions: %w", err)
	}
	counts, err := r.OutcomeCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count submissions: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No submissions recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tWORKER\tSOURCE\tOUTCOME\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339),
			dash(e.WorkerID),
			dash(e.Source),
			e.Outcome,
			detail(e),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	parts := make([]string, len(outcomes))
	for i, o := range outcomes {
		parts[i] = fmt.Sprintf("%s=%d", o, counts[o])
	}
	fmt.Fprintf(out, "\nTotal: %s\n", strings.Join(parts, " "))
	return nil
}

func detail(e ledger.Entry) string {
	switch {
	case e.Reason != "":
		return e.Reason
	case len(e.Unavailable) > 0:
		return "unavailable: " + strings.Join(e.Unavailable, ",")
	default:
		return "-"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
