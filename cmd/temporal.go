package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	tworker "go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/workflow"
)

var temporalWorkerCmd = &cobra.Command{
	Use:   "temporal-worker",
	Short: "Host the ingest workflow and its stage activity on Temporal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("temporal"); err != nil {
			return err
		}

		env, err := initEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    workflow.NewLogger(zap.L()),
		})
		if err != nil {
			return eris.Wrap(err, "dial temporal")
		}
		defer c.Close()

		w := tworker.New(c, cfg.Temporal.TaskQueue, tworker.Options{})
		workflow.Register(w, workflow.NewActivities(env.Orchestrator))

		zap.L().Info("temporal worker started",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		if err := w.Run(tworker.InterruptCh()); err != nil {
			return eris.Wrap(err, "temporal worker")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(temporalWorkerCmd)
}
