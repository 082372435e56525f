package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/store"
)

var (
	enrollCreator       string
	enrollProvider      string
	enrollCredentialRef string
	enrollInterval      int
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Start monitoring a creator's linked provider account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("enroll"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		interval := enrollInterval
		if interval <= 0 {
			interval = cfg.Scan.DefaultIntervalHours
		}

		scan, err := st.EnrollScan(ctx, store.EnrollParams{
			CreatorID:     enrollCreator,
			ProviderID:    enrollProvider,
			CredentialRef: enrollCredentialRef,
			IntervalHours: interval,
		}, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "enroll")
		}

		zap.L().Info("scan enrolled",
			zap.String("scan_id", scan.ID),
			zap.String("creator_id", scan.CreatorID),
			zap.String("provider_id", scan.ProviderID),
			zap.Int("interval_hours", scan.ScanIntervalHours),
			zap.Time("next_scan_at", scan.NextScanAt),
		)
		return nil
	},
}

var (
	reenableCreator  string
	reenableProvider string
)

var reenableCmd = &cobra.Command{
	Use:   "reenable",
	Short: "Re-enable a scan disabled after failures or revoked credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("enroll"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ReenableScan(ctx, reenableCreator, reenableProvider, time.Now().UTC()); err != nil {
			return eris.Wrap(err, "reenable")
		}
		zap.L().Info("scan re-enabled",
			zap.String("creator_id", reenableCreator),
			zap.String("provider_id", reenableProvider),
		)
		return nil
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollCreator, "creator", "", "creator id")
	enrollCmd.Flags().StringVar(&enrollProvider, "provider", "", "provider id")
	enrollCmd.Flags().StringVar(&enrollCredentialRef, "credential-ref", "", "reference to the stored provider credential")
	enrollCmd.Flags().IntVar(&enrollInterval, "interval", 0, "scan interval in hours (default from config)")
	_ = enrollCmd.MarkFlagRequired("creator")
	_ = enrollCmd.MarkFlagRequired("provider")
	_ = enrollCmd.MarkFlagRequired("credential-ref")

	reenableCmd.Flags().StringVar(&reenableCreator, "creator", "", "creator id")
	reenableCmd.Flags().StringVar(&reenableProvider, "provider", "", "provider id")
	_ = reenableCmd.MarkFlagRequired("creator")
	_ = reenableCmd.MarkFlagRequired("provider")

	rootCmd.AddCommand(enrollCmd, reenableCmd)
}
