package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/config"
	"github.com/sells-group/skiatlas/internal/model"
)

var (
	stateFile   string
	stateOutput string
	driveBudget time.Duration
)

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Perform one continuation transition and print the next state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		state, err := loadState(stateFile, cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		next, err := env.Orchestrator.Step(ctx, state)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), stateOutput, next)
	},
}

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Run continuation transitions until done or out of budget",
	Long:  "Drives a continuation state in-process. When the budget runs out the unfinished state is printed so another invocation can resume it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		state, err := loadState(stateFile, cmd.InOrStdin())
		if err != nil {
			return err
		}

		budget := driveBudget
		if budget == 0 {
			budget = config.Seconds(cfg.Pipeline.BudgetSecs)
		}

		env, err := initEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		next, err := env.Orchestrator.Drive(ctx, state, budget)
		switch {
		case errors.Is(err, model.ErrBudgetExhausted):
			zap.L().Info("budget exhausted, hand off the printed state",
				zap.String("stage", string(next.Stage)),
				zap.Int("pending", next.Pending()),
			)
		case err != nil:
			return err
		}
		return writeOutput(cmd.OutOrStdout(), stateOutput, next)
	},
}

func init() {
	for _, c := range []*cobra.Command{stepCmd, driveCmd} {
		c.Flags().StringVar(&stateFile, "state", "-", "continuation state file, or - for stdin")
		c.Flags().StringVarP(&stateOutput, "output", "o", "json", "output format: json or yaml")
		rootCmd.AddCommand(c)
	}
	driveCmd.Flags().DurationVar(&driveBudget, "budget", 0, "time budget (default from config)")
}
