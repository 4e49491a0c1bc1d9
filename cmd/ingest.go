package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/config"
	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/internal/pipeline"
	"github.com/sells-group/skiatlas/internal/workflow"
)

var (
	ingestCountry  string
	ingestResort   string
	ingestDirect   bool
	ingestQueued   bool
	ingestTemporal bool
	ingestOutput   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Discover winter-sports areas and process or enqueue them",
	Long:  "Runs the discovery query for the given filter, then either drives the stage chain directly or splits the areas into queued batches and starts a worker.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		force, err := ingestMode(ingestDirect, ingestQueued)
		if err != nil {
			return err
		}
		trigger := model.TriggerPayload{Country: ingestCountry, ResortName: ingestResort}

		env, err := initEnv(ctx, envOptions{
			Queue: force != pipeline.ModeDirect && !ingestTemporal,
			Force: force,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		if ingestTemporal {
			return startWorkflow(ctx, env, trigger)
		}

		res, err := env.Ingester.Ingest(ctx, trigger)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		zap.L().Info("ingest complete",
			zap.Int("total", res.Total),
			zap.String("mode", string(res.Mode)),
			zap.Int("batches", res.Batches),
		)
		return writeOutput(cmd.OutOrStdout(), ingestOutput, res)
	},
}

// ingestMode maps the --direct and --queue flags to a forced plan mode.
func ingestMode(direct, queued bool) (pipeline.Mode, error) {
	switch {
	case direct && queued:
		return "", eris.New("--direct and --queue are mutually exclusive")
	case direct:
		return pipeline.ModeDirect, nil
	case queued:
		return pipeline.ModeQueued, nil
	default:
		return "", nil
	}
}

// startWorkflow discovers the areas and hands the whole run to Temporal.
func startWorkflow(ctx context.Context, env *appEnv, trigger model.TriggerPayload) error {
	if err := cfg.Validate("temporal"); err != nil {
		return err
	}
	elements, err := env.Discoverer.Discover(ctx, trigger)
	if err != nil {
		return eris.Wrap(err, "ingest: discover")
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    workflow.NewLogger(zap.L()),
	})
	if err != nil {
		return eris.Wrap(err, "ingest: dial temporal")
	}
	defer c.Close()

	run, err := workflow.Start(ctx, c, cfg.Temporal.TaskQueue, workflow.Input{
		State:        pipeline.NewState(elements),
		StageTimeout: config.Seconds(cfg.Pipeline.StageTimeoutSecs),
	})
	if err != nil {
		return eris.Wrap(err, "ingest: start workflow")
	}
	zap.L().Info("ingest workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.Int("elements", len(elements)),
	)
	return nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCountry, "country", "", "restrict discovery to a country")
	ingestCmd.Flags().StringVar(&ingestResort, "resort", "", "discover areas whose name matches")
	ingestCmd.Flags().BoolVar(&ingestDirect, "direct", false, "process in-process regardless of size")
	ingestCmd.Flags().BoolVar(&ingestQueued, "queue", false, "enqueue regardless of size")
	ingestCmd.Flags().BoolVar(&ingestTemporal, "temporal", false, "run the stage chain as a Temporal workflow")
	ingestCmd.Flags().StringVarP(&ingestOutput, "output", "o", "json", "output format: json or yaml")
	rootCmd.AddCommand(ingestCmd)
}
