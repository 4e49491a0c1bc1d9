package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/config"
)

var (
	cfg *config.Config

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "skiatlas",
	Short: "Winter-sports area ingest pipeline",
	Long: `skiatlas discovers ski areas in OpenStreetMap and keeps a store of them.
Each area is persisted with its outline, enriched with its country and
province, then completed with the map features found inside its boundary.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// setup loads configuration and installs the global logger before any
// subcommand runs.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	cfg = c

	zap.L().Debug("config loaded", zap.String("command", cmd.CommandPath()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "error:", err) //nolint:errcheck
		os.Exit(1)
	}
}
