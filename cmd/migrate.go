package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the area store and work queue schemas",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// initEnv migrates the store and any queue that owns a schema.
		env, err := initEnv(ctx, envOptions{Queue: cfg.Queue.Driver != "memory"})
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("migrations complete",
			zap.String("store", cfg.Store.Driver),
			zap.String("queue", cfg.Queue.Driver),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
