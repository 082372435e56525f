// Package scheduler runs scan cycles: it recovers stale claims, selects due
// scan states, claims each one atomically and drives fetch, diff, registry
// and alert enqueueing for it.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-monitor/internal/diff"
	"github.com/sells-group/catalog-monitor/internal/metrics"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/provider"
	"github.com/sells-group/catalog-monitor/internal/releases"
	"github.com/sells-group/catalog-monitor/internal/store"
)

// Enqueuer creates alerts for unconfirmed detections.
type Enqueuer interface {
	Enqueue(ctx context.Context, r model.DetectedRelease) (bool, error)
}

// Config tunes a Scheduler.
type Config struct {
	BatchSize    int
	Concurrency  int
	FetchTimeout time.Duration
	StaleAfter   time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
}

// CycleResult summarises one RunCycle.
type CycleResult struct {
	Recovered      int
	Due            int
	Claimed        int
	Completed      int
	Unchanged      int
	Failed         int
	Disabled       int
	NewReleases    int
	AlertsEnqueued int
}

// Scheduler is the scan orchestrator.
type Scheduler struct {
	store     store.ScanStore
	providers *provider.Registry
	registry  *releases.Registry
	alerts    Enqueuer
	cfg       Config
	now       func() time.Time
	log       *zap.Logger
}

// New creates a Scheduler.
func New(s store.ScanStore, providers *provider.Registry, registry *releases.Registry, alerts Enqueuer, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		store:     s,
		providers: providers,
		registry:  registry,
		alerts:    alerts,
		cfg:       cfg,
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "scheduler")),
	}
}

type scanOutcome struct {
	claimed  bool
	status   string // completed, unchanged, failed, disabled
	inserted int
	enqueued int
}

// RunCycle processes one batch of due scans.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	now := s.now().UTC()
	res := &CycleResult{}

	recovered, err := s.store.RecoverStaleScans(ctx, now.Add(-s.cfg.StaleAfter), now)
	if err != nil {
		return res, eris.Wrap(err, "scheduler: recover stale scans")
	}
	if recovered > 0 {
		metrics.StaleRecovered.WithLabelValues("scan").Add(float64(recovered))
		s.log.Warn("recovered stale scans", zap.Int("count", recovered))
	}
	res.Recovered = recovered

	due, err := s.store.ListDueScans(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return res, eris.Wrap(err, "scheduler: list due scans")
	}
	res.Due = len(due)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, st := range due {
		g.Go(func() error {
			out := s.scan(gctx, st)
			mu.Lock()
			defer mu.Unlock()
			if !out.claimed {
				return nil
			}
			res.Claimed++
			res.NewReleases += out.inserted
			res.AlertsEnqueued += out.enqueued
			switch out.status {
			case "completed":
				res.Completed++
			case "unchanged":
				res.Unchanged++
			case "failed":
				res.Failed++
			case "disabled":
				res.Disabled++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, eris.Wrap(err, "scheduler: scan batch")
	}

	s.log.Info("scan cycle complete",
		zap.Int("recovered", res.Recovered),
		zap.Int("due", res.Due),
		zap.Int("claimed", res.Claimed),
		zap.Int("completed", res.Completed),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("failed", res.Failed),
		zap.Int("disabled", res.Disabled),
		zap.Int("new_releases", res.NewReleases),
	)
	return res, nil
}

// scan claims and runs one scan state. A lost claim is not an error.
func (s *Scheduler) scan(ctx context.Context, st model.ScanState) scanOutcome {
	log := s.log.With(
		zap.String("scan_id", st.ID),
		zap.String("creator_id", st.CreatorID),
		zap.String("provider_id", st.ProviderID),
	)

	ok, err := s.store.ClaimScan(ctx, st.ID, s.now().UTC())
	if err != nil {
		log.Error("claim scan failed", zap.Error(err))
		return scanOutcome{}
	}
	if !ok {
		log.Debug("scan already claimed")
		metrics.ScansTotal.WithLabelValues(st.ProviderID, "skipped").Inc()
		return scanOutcome{}
	}

	start := time.Now()
	out := scanOutcome{claimed: true}
	defer func() {
		metrics.ScanDuration.WithLabelValues(st.ProviderID).Observe(time.Since(start).Seconds())
		metrics.ScansTotal.WithLabelValues(st.ProviderID, out.status).Inc()
	}()

	inserted, enqueued, unchanged, err := s.run(ctx, st, log)
	out.inserted, out.enqueued = inserted, enqueued
	if err != nil {
		out.status = s.fail(ctx, st, err, log)
		return out
	}
	if unchanged {
		out.status = "unchanged"
	} else {
		out.status = "completed"
	}
	return out
}

// run performs fetch, diff, registry and enqueue, then completes the row.
func (s *Scheduler) run(ctx context.Context, st model.ScanState, log *zap.Logger) (inserted, enqueued int, unchanged bool, err error) {
	fetcher, err := s.providers.Get(st.ProviderID)
	if err != nil {
		return 0, 0, false, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	fetched, err := fetcher.Fetch(fetchCtx, st.CredentialRef)
	cancel()
	if err != nil {
		return 0, 0, false, err
	}
	if fetched.Skipped > 0 {
		log.Warn("skipped malformed provider items", zap.Int("skipped", fetched.Skipped))
	}

	now := s.now().UTC()
	result := diff.Diff(fetched.Releases, st.LastSnapshot)

	if st.LastSnapshotHash != "" && !result.Changed(st.LastSnapshotHash) {
		if _, err := s.registry.TouchAll(ctx, st.CreatorID, st.ProviderID, fetched.Releases, now); err != nil {
			return 0, 0, false, err
		}
		return 0, 0, true, s.complete(ctx, st, fetched.Releases, result.SnapshotHash, now, log)
	}

	outcome, err := s.registry.Observe(ctx, releases.Observation{
		CreatorID:  st.CreatorID,
		ProviderID: st.ProviderID,
		Current:    fetched.Releases,
		Diff:       result,
		SeenAt:     now,
	})
	if err != nil {
		return 0, 0, false, err
	}
	metrics.ReleasesDetected.WithLabelValues(st.ProviderID, string(model.ReleaseAutoConfirmed)).Add(float64(outcome.AutoConfirmed))
	metrics.ReleasesDetected.WithLabelValues(st.ProviderID, string(model.ReleaseUnconfirmed)).Add(float64(len(outcome.Unconfirmed)))

	for _, rel := range outcome.Unconfirmed {
		added, err := s.alerts.Enqueue(ctx, rel)
		if err != nil {
			return outcome.Inserted, enqueued, false, err
		}
		if added {
			enqueued++
		}
	}

	log.Info("catalog changed",
		zap.Int("new", len(result.NewReleases)),
		zap.Int("removed", len(result.RemovedExternalIDs)),
		zap.Int("inserted", outcome.Inserted),
		zap.Int("auto_confirmed", outcome.AutoConfirmed),
		zap.Int("reappeared", outcome.Reappeared),
		zap.Int("alerts_enqueued", enqueued),
	)
	return outcome.Inserted, enqueued, false, s.complete(ctx, st, fetched.Releases, result.SnapshotHash, now, log)
}

func (s *Scheduler) complete(ctx context.Context, st model.ScanState, snapshot []model.ReleaseRef, hash string, now time.Time, log *zap.Logger) error {
	err := s.store.CompleteScan(ctx, st.ID, store.ScanSuccess{
		Snapshot:   snapshot,
		Hash:       hash,
		ScannedAt:  now,
		NextScanAt: now.Add(st.Interval()),
	})
	if errors.Is(err, store.ErrClaimLost) {
		log.Warn("scan claim lost before completion")
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "scheduler: complete scan")
	}
	return nil
}

// fail records a failed scan with the backoff schedule. Auth failures
// disable the row immediately. Returns the outcome label.
func (s *Scheduler) fail(ctx context.Context, st model.ScanState, cause error, log *zap.Logger) string {
	now := s.now().UTC()
	failures := st.ConsecutiveFailures + 1
	delay, disable := Backoff(failures, st.Interval())

	f := store.ScanFailure{
		Failures:  failures,
		ScannedAt: now,
		LastError: cause.Error(),
	}
	switch {
	case provider.IsAuth(cause):
		f.Disable, f.Reason = true, model.DisabledAuth
	case disable:
		f.Disable, f.Reason = true, model.DisabledFailures
	}

	var rl *provider.RateLimitError
	if errors.As(cause, &rl) && rl.RetryAfter > delay {
		delay = rl.RetryAfter
	}
	f.NextScanAt = now.Add(delay)

	if err := s.store.FailScan(ctx, st.ID, f); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			log.Warn("scan claim lost before failure was recorded", zap.Error(cause))
		} else {
			log.Error("record scan failure failed", zap.Error(err), zap.NamedError("cause", cause))
		}
		return "failed"
	}

	if f.Disable {
		log.Warn("scan disabled",
			zap.String("reason", string(f.Reason)),
			zap.Int("consecutive_failures", failures),
			zap.Error(cause),
		)
		return "disabled"
	}
	log.Warn("scan failed",
		zap.Int("consecutive_failures", failures),
		zap.Time("next_scan_at", f.NextScanAt),
		zap.Error(cause),
	)
	return "failed"
}
