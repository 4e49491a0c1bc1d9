package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workerMaxMessages int
	workerMaxTime     time.Duration
	workerBudget      time.Duration
	workerTimeout     time.Duration
	workerEnrich      bool
	workerOutput      string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one bounded queue worker invocation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, envOptions{Queue: true})
		if err != nil {
			return err
		}
		defer env.Close()

		opts := workerOptions()
		if workerMaxMessages > 0 {
			opts.MaxMessages = workerMaxMessages
		}
		if workerMaxTime > 0 {
			opts.MaxProcessingTime = workerMaxTime
		}
		if workerBudget > 0 {
			opts.Budget = workerBudget
		}
		if cmd.Flags().Changed("enrich") {
			opts.Enrich = workerEnrich
		}

		rep, err := env.newWorker(opts).Run(ctx, time.Now().Add(workerTimeout))
		if err != nil {
			return eris.Wrap(err, "worker")
		}
		zap.L().Info("worker invocation complete",
			zap.Int("processed", rep.Processed),
			zap.Int("failed", rep.Failed),
			zap.Bool("spawned", rep.Spawned),
			zap.Duration("elapsed", rep.Elapsed),
		)
		return writeOutput(cmd.OutOrStdout(), workerOutput, rep)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerMaxMessages, "max-messages", 0, "messages per invocation (default from config)")
	workerCmd.Flags().DurationVar(&workerMaxTime, "max-time", 0, "processing time per invocation (default from config)")
	workerCmd.Flags().DurationVar(&workerBudget, "budget", 0, "stage-chain budget per batch when enriching")
	workerCmd.Flags().DurationVar(&workerTimeout, "timeout", 5*time.Minute, "hard deadline of this invocation")
	workerCmd.Flags().BoolVar(&workerEnrich, "enrich", false, "run location and detail stages inline")
	workerCmd.Flags().StringVarP(&workerOutput, "output", "o", "json", "output format: json or yaml")
	rootCmd.AddCommand(workerCmd)
}
