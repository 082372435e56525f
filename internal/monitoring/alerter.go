package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/config"
)

// FindingType identifies an operator-facing health problem.
type FindingType string

const (
	FindingDisabledScans       FindingType = "disabled_scans"
	FindingDeliveryFailureRate FindingType = "alert_delivery_failure_rate"
)

// minDeliverySample is the number of finished deliveries needed before the
// failure rate is evaluated.
const minDeliverySample = 5

// Finding is one breached threshold.
type Finding struct {
	Type     FindingType    `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Report is the payload posted to the operator webhook.
type Report struct {
	Service  string           `json:"service"`
	Findings []Finding        `json:"findings"`
	Snapshot *MetricsSnapshot `json:"snapshot"`
	SentAt   time.Time        `json:"sent_at"`
}

// Alerter evaluates snapshots against thresholds and reports breaches to
// the operator webhook. A finding already reported is held back until
// RepeatAfterMins pass or it clears and returns.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	reported map[FindingType]time.Time
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		reported: make(map[FindingType]time.Time),
	}
}

// Evaluate returns the thresholds snap breaches.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Finding {
	var out []Finding

	// Disabled scans need a creator to reconnect or an operator to re-enable.
	if a.cfg.DisabledScanThreshold > 0 && snap.DisabledScans >= a.cfg.DisabledScanThreshold {
		out = append(out, Finding{
			Type:     FindingDisabledScans,
			Severity: "medium",
			Message: fmt.Sprintf("%d scan state(s) disabled (threshold %d)",
				snap.DisabledScans, a.cfg.DisabledScanThreshold),
			Details: map[string]any{
				"disabled":  snap.DisabledScans,
				"threshold": a.cfg.DisabledScanThreshold,
			},
		})
	}

	finished := snap.AlertsSent + snap.AlertsFailed
	if finished >= minDeliverySample && snap.AlertFailureRate > a.cfg.AlertFailureRateThreshold {
		out = append(out, Finding{
			Type:     FindingDeliveryFailureRate,
			Severity: "high",
			Message: fmt.Sprintf("alert delivery failure rate %.1f%% exceeds %.1f%% (%d failed / %d finished in last %dh)",
				snap.AlertFailureRate*100, a.cfg.AlertFailureRateThreshold*100,
				snap.AlertsFailed, finished, snap.LookbackHours),
			Details: map[string]any{
				"failure_rate": snap.AlertFailureRate,
				"threshold":    a.cfg.AlertFailureRateThreshold,
				"failed":       snap.AlertsFailed,
				"finished":     finished,
			},
		})
	}

	return out
}

// due drops findings reported within the repeat window and forgets findings
// that have cleared.
func (a *Alerter) due(findings []Finding) []Finding {
	a.mu.Lock()
	defer a.mu.Unlock()

	repeat := time.Duration(a.cfg.RepeatAfterMins) * time.Minute
	now := a.now()

	for t := range a.reported {
		if !slices.ContainsFunc(findings, func(f Finding) bool { return f.Type == t }) {
			delete(a.reported, t)
		}
	}

	var out []Finding
	for _, f := range findings {
		last, seen := a.reported[f.Type]
		if seen && now.Sub(last) < repeat {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (a *Alerter) markReported(findings []Finding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for _, f := range findings {
		a.reported[f.Type] = now
	}
}

// Report posts the findings that are due and returns how many were sent.
// Nothing is marked reported when delivery fails, so the next check retries.
func (a *Alerter) Report(ctx context.Context, snap *MetricsSnapshot, findings []Finding) (int, error) {
	if a.cfg.WebhookURL == "" {
		return 0, nil
	}
	due := a.due(findings)
	if len(due) == 0 {
		return 0, nil
	}

	if err := a.post(ctx, Report{
		Service:  "catalog-monitor",
		Findings: due,
		Snapshot: snap,
		SentAt:   a.now().UTC(),
	}); err != nil {
		return 0, err
	}
	a.markReported(due)

	for _, f := range due {
		zap.L().Info("monitoring: finding reported",
			zap.String("type", string(f.Type)),
			zap.String("severity", f.Severity),
		)
	}
	return len(due), nil
}

func (a *Alerter) post(ctx context.Context, r Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal report")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
