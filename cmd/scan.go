package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle over every due creator/provider pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Scheduler.RunCycle(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("scan cycle complete",
			zap.Int("due", res.Due),
			zap.Int("completed", res.Completed),
			zap.Int("unchanged", res.Unchanged),
			zap.Int("failed", res.Failed),
			zap.Int("disabled", res.Disabled),
			zap.Int("new_releases", res.NewReleases),
			zap.Int("alerts_enqueued", res.AlertsEnqueued),
		)
		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Run one alert dispatch cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "alerts")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Dispatcher.RunCycle(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("alert cycle complete",
			zap.Int("recovered", res.Recovered),
			zap.Int("enqueued", res.Enqueued),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("cancelled", res.Cancelled),
			zap.Int("skipped", res.Skipped),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd, alertsCmd)
}
