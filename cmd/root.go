package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "catalog-monitor",
	Short: "Release monitoring for creator catalogs",
	Long: `Watches linked distribution accounts for releases the creator did not make.

scan pulls each due account's catalog, diffs it against the last snapshot and
records new releases that match nothing in the creator's catalog. alerts sends
one deduplicated alert per unresolved release per period, carrying single-use
confirm and dispute links. serve takes those decisions over HTTP and, unless
--no-jobs is set, runs both cycles on their cron schedules.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyLogOverrides(cmd, c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "override log.format (json, console)")
}

// applyLogOverrides lets flags win over file and env configuration.
func applyLogOverrides(cmd *cobra.Command, c *config.Config) {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		c.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		c.Log.Format = v
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
