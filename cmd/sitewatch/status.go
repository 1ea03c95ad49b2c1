package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/sitewatch/internal/store"
	"github.com/jpalmerr/sitewatch/internal/store/sqlite"
)

// statusCmd prints the state saved by a watcher using the sqlite store.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show saved target state",
	Long: `Show the last known state of every target saved in a sqlite state store.

The database is the one named by store.dsn when store.driver is sqlite.

Example:
  sitewatch status --db /var/lib/sitewatch/state.db`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("db", "", "path to the sqlite state database (required)")
	_ = statusCmd.MarkFlagRequired("db")
}

func runStatus(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("db")

	// opening a missing path would create an empty database
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("state database %s: %w", path, err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	db, err := sqlite.New(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer db.Close()

	states, err := db.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list states: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(states) == 0 {
		fmt.Fprintln(out, "No targets recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "URL\tPHASE\tCHECKS\tFAILURES\tALERTS\tSIZE\tLAST CHECK\tLAST CHANGE")
	for _, s := range states {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.URL,
			s.Phase,
			humanize.Comma(s.Checks),
			humanize.Comma(s.Failures),
			humanize.Comma(s.Alerts),
			humanize.Bytes(uint64(s.SizeBytes)),
			ago(s.LastCheck),
			lastChange(s),
		)
	}
	return tw.Flush()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func lastChange(s store.State) string {
	if s.LastChange == nil {
		return "never"
	}
	return humanize.Time(*s.LastChange)
}
