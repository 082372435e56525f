// Package alerts turns unconfirmed detections into deduplicated alert rows
// and runs the cycle that claims, validates, signs and sends them.
package alerts

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-monitor/internal/metrics"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/notify"
	"github.com/sells-group/catalog-monitor/internal/store"
	"github.com/sells-group/catalog-monitor/internal/tokens"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	store.AlertStore
	store.ReleaseStore
	store.CreatorStore
}

// Config tunes the dispatcher.
type Config struct {
	BatchSize     int
	Concurrency   int
	SendTimeout   time.Duration
	StaleAfter    time.Duration
	Period        Period
	Delay         time.Duration
	Channel       model.Channel
	ActionBaseURL string
	TokenTTL      time.Duration
	ReminderBatch int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.Period == "" {
		c.Period = PeriodWeekly
	}
	if c.Channel == "" {
		c.Channel = model.ChannelWebhook
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 7 * 24 * time.Hour
	}
	if c.ReminderBatch <= 0 {
		c.ReminderBatch = 500
	}
}

// CycleResult summarises one RunCycle.
type CycleResult struct {
	Recovered int
	Enqueued  int
	Claimed   int
	Sent      int
	Failed    int
	Cancelled int
	Skipped   int
}

// Dispatcher is the alert dispatcher.
type Dispatcher struct {
	store    Store
	signer   *tokens.Signer
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
	log      *zap.Logger
}

// New creates a Dispatcher.
func New(s Store, signer *tokens.Signer, n notify.Notifier, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		store:    s,
		signer:   signer,
		notifier: n,
		cfg:      cfg,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "alerts")),
	}
}

// Enqueue creates a pending alert for an unconfirmed release unless one
// already exists for the current period. It reports whether a row was added.
func (d *Dispatcher) Enqueue(ctx context.Context, r model.DetectedRelease) (bool, error) {
	if r.Status != model.ReleaseUnconfirmed {
		return false, nil
	}
	now := d.now().UTC()
	a := &model.Alert{
		ID:                uuid.New().String(),
		DetectedReleaseID: r.ID,
		AlertType:         model.AlertNewRelease,
		Channel:           d.cfg.Channel,
		Status:            model.AlertPending,
		ScheduledFor:      now.Add(d.cfg.Delay),
		DedupKey:          DedupKey(r.CreatorID, r.ProviderID, r.ExternalReleaseID, model.AlertNewRelease, d.cfg.Period.Key(now)),
		CreatedAt:         now,
	}
	inserted, err := d.store.InsertAlert(ctx, a)
	if err != nil {
		return false, eris.Wrapf(err, "alerts: enqueue for release %s", r.ID)
	}
	if inserted {
		metrics.AlertsTotal.WithLabelValues("enqueued").Inc()
		d.log.Debug("alert enqueued",
			zap.String("alert_id", a.ID),
			zap.String("detected_release_id", r.ID),
			zap.String("creator_id", r.CreatorID),
		)
	}
	return inserted, nil
}

// eligibility caches entitlement lookups for one cycle.
type eligibility struct {
	store store.CreatorStore
	mu    sync.Mutex
	seen  map[string]*model.CreatorEntitlement
}

func newEligibility(s store.CreatorStore) *eligibility {
	return &eligibility{store: s, seen: make(map[string]*model.CreatorEntitlement)}
}

func (e *eligibility) get(ctx context.Context, creatorID string) (*model.CreatorEntitlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.seen[creatorID]; ok {
		return ent, nil
	}
	ent, err := e.store.Entitlement(ctx, creatorID)
	if err != nil {
		return nil, eris.Wrapf(err, "alerts: entitlement for %s", creatorID)
	}
	e.seen[creatorID] = ent
	return ent, nil
}

// Reevaluate enqueues a current-period alert for every still-unconfirmed
// release of an eligible creator. Failed or unanswered alerts resurface
// this way once the period rolls over.
func (d *Dispatcher) Reevaluate(ctx context.Context) (int, error) {
	return d.reevaluate(ctx, newEligibility(d.store))
}

func (d *Dispatcher) reevaluate(ctx context.Context, elig *eligibility) (int, error) {
	enqueued := 0
	var cursor store.UnconfirmedCursor
	for {
		pending, err := d.store.ListUnconfirmed(ctx, cursor, d.cfg.ReminderBatch)
		if err != nil {
			return enqueued, eris.Wrap(err, "alerts: list unconfirmed")
		}
		for _, r := range pending {
			ent, err := elig.get(ctx, r.CreatorID)
			if err != nil {
				return enqueued, err
			}
			if !ent.MonitoringActive {
				continue
			}
			ok, err := d.Enqueue(ctx, r)
			if err != nil {
				return enqueued, err
			}
			if ok {
				enqueued++
			}
		}
		if len(pending) < d.cfg.ReminderBatch {
			return enqueued, nil
		}
		cursor = store.After(pending[len(pending)-1])
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
	outcomeCancelled
)

// RunCycle recovers stale sends, re-evaluates unresolved detections, then
// claims and delivers due alerts with bounded parallelism.
func (d *Dispatcher) RunCycle(ctx context.Context) (*CycleResult, error) {
	now := d.now().UTC()
	res := &CycleResult{}

	recovered, err := d.store.RecoverStaleAlerts(ctx, now.Add(-d.cfg.StaleAfter), now)
	if err != nil {
		return res, eris.Wrap(err, "alerts: recover stale")
	}
	if recovered > 0 {
		metrics.StaleRecovered.WithLabelValues("alert").Add(float64(recovered))
		d.log.Warn("recovered stale alerts", zap.Int("count", recovered))
	}
	res.Recovered = recovered

	elig := newEligibility(d.store)
	res.Enqueued, err = d.reevaluate(ctx, elig)
	if err != nil {
		return res, err
	}

	due, err := d.store.ClaimDueAlerts(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return res, eris.Wrap(err, "alerts: claim due")
	}
	res.Claimed = len(due)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for _, a := range due {
		g.Go(func() error {
			out := d.process(gctx, a, elig)
			mu.Lock()
			switch out {
			case outcomeSent:
				res.Sent++
			case outcomeFailed:
				res.Failed++
			case outcomeCancelled:
				res.Cancelled++
			default:
				res.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, eris.Wrap(err, "alerts: send batch")
	}

	d.log.Info("alert cycle complete",
		zap.Int("recovered", res.Recovered),
		zap.Int("enqueued", res.Enqueued),
		zap.Int("claimed", res.Claimed),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("cancelled", res.Cancelled),
	)
	return res, nil
}

// process handles one claimed alert. Storage errors leave the row in
// sending for the recovery sweep.
func (d *Dispatcher) process(ctx context.Context, a model.Alert, elig *eligibility) outcome {
	log := d.log.With(zap.String("alert_id", a.ID), zap.String("detected_release_id", a.DetectedReleaseID))

	rel, err := d.store.GetRelease(ctx, a.DetectedReleaseID)
	if errors.Is(err, store.ErrNotFound) {
		return d.cancel(ctx, log, a, "release missing")
	}
	if err != nil {
		log.Error("load release failed", zap.Error(err))
		return outcomeSkipped
	}
	if rel.Status != model.ReleaseUnconfirmed {
		return d.cancel(ctx, log, a, "release "+string(rel.Status))
	}

	ent, err := elig.get(ctx, rel.CreatorID)
	if err != nil {
		log.Error("load entitlement failed", zap.Error(err))
		return outcomeSkipped
	}
	if !ent.MonitoringActive {
		return d.cancel(ctx, log, a, "creator not eligible")
	}

	now := d.now().UTC()
	expires := now.Add(d.cfg.TokenTTL)
	tokenID := uuid.New().String()

	urls, err := d.actionURLs(tokens.Grant{
		TokenID:           tokenID,
		AlertID:           a.ID,
		DetectedReleaseID: rel.ID,
		CreatorID:         rel.CreatorID,
		ExpiresAt:         expires,
	})
	if err != nil {
		return d.fail(ctx, log, a, err)
	}

	if err := d.store.AttachAlertToken(ctx, a.ID, tokenID, expires); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			log.Warn("alert claim lost before send")
		} else {
			log.Error("attach token failed", zap.Error(err))
		}
		return outcomeSkipped
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	_, err = d.notifier.Send(sendCtx, notify.Message{
		AlertID:           a.ID,
		DetectedReleaseID: rel.ID,
		CreatorID:         rel.CreatorID,
		ProviderID:        rel.ProviderID,
		ExternalReleaseID: rel.ExternalReleaseID,
		Title:             rel.Title,
		ReleaseType:       rel.ReleaseType,
		ReleaseDate:       rel.ReleaseDate,
		ArtworkRef:        rel.ArtworkRef,
		Channel:           a.Channel,
		Recipient:         ent.ContactEmail,
		ActionURLs:        urls,
		ExpiresAt:         expires,
	})
	if err != nil {
		return d.fail(ctx, log, a, err)
	}

	if err := d.store.MarkAlertSent(ctx, a.ID, d.now().UTC()); err != nil {
		log.Error("mark sent failed", zap.Error(err))
		return outcomeSkipped
	}
	metrics.AlertsTotal.WithLabelValues("sent").Inc()
	log.Info("alert sent", zap.String("creator_id", rel.CreatorID))
	return outcomeSent
}

func (d *Dispatcher) cancel(ctx context.Context, log *zap.Logger, a model.Alert, reason string) outcome {
	if err := d.store.CancelAlert(ctx, a.ID, reason, d.now().UTC()); err != nil {
		log.Error("cancel alert failed", zap.Error(err))
		return outcomeSkipped
	}
	metrics.AlertsTotal.WithLabelValues("cancelled").Inc()
	log.Info("alert cancelled", zap.String("reason", reason))
	return outcomeCancelled
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, a model.Alert, cause error) outcome {
	log.Warn("alert delivery failed", zap.Error(cause))
	if err := d.store.MarkAlertFailed(ctx, a.ID, cause.Error(), d.now().UTC()); err != nil {
		log.Error("mark failed failed", zap.Error(err))
		return outcomeSkipped
	}
	metrics.AlertsTotal.WithLabelValues("failed").Inc()
	return outcomeFailed
}

var linkActions = []model.Action{model.ActionConfirm, model.ActionDispute}

// actionURLs signs one token per link action and renders
// <base>?token=<signed>&action=<action>.
func (d *Dispatcher) actionURLs(g tokens.Grant) (map[model.Action]string, error) {
	base, err := url.Parse(d.cfg.ActionBaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "alerts: parse action base url")
	}
	out := make(map[model.Action]string, len(linkActions))
	for _, act := range linkActions {
		g.Action = act
		signed, err := d.signer.Sign(g)
		if err != nil {
			return nil, eris.Wrapf(err, "alerts: sign %s token", act)
		}
		u := *base
		q := u.Query()
		q.Set("token", signed)
		q.Set("action", string(act))
		u.RawQuery = q.Encode()
		out[act] = u.String()
	}
	return out, nil
}
