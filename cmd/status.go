package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/skiatlas/internal/monitoring"
)

var (
	statusOutput string
	statusQueue  bool
)

// statusReport is what `skiatlas status` prints.
type statusReport struct {
	StoreDriver  string    `json:"store_driver"`
	QueueDriver  string    `json:"queue_driver,omitempty"`
	Areas        int       `json:"areas"`
	QueueBacklog int       `json:"queue_backlog"`
	CollectedAt  time.Time `json:"collected_at"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show area count and queue backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, envOptions{Queue: statusQueue})
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := monitoring.NewCollector(env.Areas, env.Queue).Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		rep := statusReport{
			StoreDriver:  cfg.Store.Driver,
			Areas:        snap.Areas,
			QueueBacklog: snap.QueueBacklog,
			CollectedAt:  snap.CollectedAt,
		}
		if statusQueue {
			rep.QueueDriver = cfg.Queue.Driver
		}

		if statusOutput == "table" {
			printStatus(cmd.OutOrStdout(), rep, cfg.Monitoring.BacklogThreshold)
			return nil
		}
		return writeOutput(cmd.OutOrStdout(), statusOutput, rep)
	},
}

// printStatus renders rep as an aligned table. The backlog turns red above
// threshold.
func printStatus(w io.Writer, rep statusReport, threshold int) {
	label := color.New(color.FgCyan, color.Bold)
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgRed, color.Bold)

	label.Fprintf(w, "%-14s", "store")
	fmt.Fprintln(w, rep.StoreDriver)
	label.Fprintf(w, "%-14s", "areas")
	ok.Fprintln(w, rep.Areas)

	if rep.QueueDriver != "" {
		label.Fprintf(w, "%-14s", "queue")
		fmt.Fprintln(w, rep.QueueDriver)
		label.Fprintf(w, "%-14s", "backlog")
		if threshold > 0 && rep.QueueBacklog > threshold {
			warn.Fprintln(w, rep.QueueBacklog)
		} else {
			ok.Fprintln(w, rep.QueueBacklog)
		}
	}

	label.Fprintf(w, "%-14s", "collected")
	fmt.Fprintln(w, rep.CollectedAt.Format(time.RFC3339))
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format: table, json or yaml")
	statusCmd.Flags().BoolVar(&statusQueue, "queue", true, "include the work queue backlog")
	rootCmd.AddCommand(statusCmd)
}
