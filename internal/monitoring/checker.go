package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/config"
)

// Checker collects a snapshot, evaluates it and reports findings on a fixed
// interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger
}

// NewChecker creates a Checker. A non-positive interval means five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "monitoring")),
	}
}

// Run checks once immediately, then every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("health checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			c.log.Info("health checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs a single collect/evaluate/report pass.
func (c *Checker) Check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("collect failed", zap.Error(err))
		return
	}

	findings := c.alerter.Evaluate(snap)
	if len(findings) == 0 {
		c.log.Debug("no thresholds breached",
			zap.Int("disabled_scans", snap.DisabledScans),
			zap.Float64("alert_failure_rate", snap.AlertFailureRate),
		)
		return
	}

	sent, err := c.alerter.Report(ctx, snap, findings)
	if err != nil {
		c.log.Error("report failed", zap.Int("findings", len(findings)), zap.Error(err))
		return
	}
	c.log.Info("health check complete",
		zap.Int("findings", len(findings)),
		zap.Int("reported", sent),
	)
}
