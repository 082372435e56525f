package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-monitor/internal/metrics"
	"github.com/sells-group/catalog-monitor/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Scan health (current).
	DisabledScans int `json:"disabled_scans"`

	// Alert delivery (within lookback window).
	AlertsSent       int     `json:"alerts_sent"`
	AlertsFailed     int     `json:"alerts_failed"`
	AlertsCancelled  int     `json:"alerts_cancelled"`
	AlertFailureRate float64 `json:"alert_failure_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the store surface the collector reads.
type Source interface {
	CountDisabledScans(ctx context.Context) (int, error)
	AlertStatsSince(ctx context.Context, since time.Time) (store.AlertStats, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store Source
}

// NewCollector creates a new metrics collector.
func NewCollector(st Source) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	disabled, err := c.store.CountDisabledScans(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count disabled scans")
	}
	snap.DisabledScans = disabled
	metrics.DisabledScans.Set(float64(disabled))

	stats, err := c.store.AlertStatsSince(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: alert stats")
	}
	snap.AlertsSent = stats.Sent
	snap.AlertsFailed = stats.Failed
	snap.AlertsCancelled = stats.Cancelled

	if finished := stats.Sent + stats.Failed; finished > 0 {
		snap.AlertFailureRate = float64(stats.Failed) / float64(finished)
	}

	return snap, nil
}
