package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkvwatch/mkvtagd/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [directory]",
	Short: "Show recent tagging attempts from the journal",
	Long: `History reads the .mkvtag.db attempt journal in the given directory
(default: the current directory) and prints the most recent tagging
attempts, newest first, followed by per-outcome totals.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of attempts to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	dir := watchDirArg(args)
	path := history.Path(dir)
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("no attempt journal in %s\n", dir)
		return nil
	}

	db, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open attempt journal: %w", err)
	}
	defer db.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	attempts, err := db.Recent(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to read attempts: %w", err)
	}
	if len(attempts) == 0 {
		fmt.Println("no attempts recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tFILE\tATTEMPT\tOUTCOME\tDURATION")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			a.StartedAt.Local().Format("2006-01-02 15:04:05"),
			a.Path, a.Attempt, a.Outcome, a.Duration.Round(time.Millisecond))
	}
	w.Flush()

	counts, err := db.CountByOutcome(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to count outcomes: %w", err)
	}
	fmt.Printf("\ntotals: success=%d recoverable=%d permanent=%d\n",
		counts["success"], counts["recoverable"], counts["permanent"])
	return nil
}
