package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-monitor/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		DisabledScanThreshold:     10,
		AlertFailureRateThreshold: 0.20,
		LookbackWindowHours:       24,
		RepeatAfterMins:           60,
	}
}

func TestAlerter_Evaluate_NoFindings(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	findings := a.Evaluate(&MetricsSnapshot{
		DisabledScans:    2,
		AlertsSent:       95,
		AlertsFailed:     5,
		AlertFailureRate: 0.05,
		LookbackHours:    24,
	})
	assert.Empty(t, findings)
}

func TestAlerter_Evaluate_DisabledScans(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	findings := a.Evaluate(&MetricsSnapshot{DisabledScans: 12, LookbackHours: 24})
	require.Len(t, findings, 1)
	assert.Equal(t, FindingDisabledScans, findings[0].Type)
	assert.Equal(t, "medium", findings[0].Severity)
	assert.Contains(t, findings[0].Message, "12 scan state(s) disabled")
}

func TestAlerter_Evaluate_DisabledThresholdOff(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.DisabledScanThreshold = 0
	a := NewAlerter(cfg)

	assert.Empty(t, a.Evaluate(&MetricsSnapshot{DisabledScans: 500}))
}

func TestAlerter_Evaluate_DeliveryFailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	findings := a.Evaluate(&MetricsSnapshot{
		AlertsSent:       12,
		AlertsFailed:     8,
		AlertFailureRate: 0.4,
		LookbackHours:    24,
	})
	require.Len(t, findings, 1)
	assert.Equal(t, FindingDeliveryFailureRate, findings[0].Type)
	assert.Equal(t, "high", findings[0].Severity)
	assert.Contains(t, findings[0].Message, "40.0%")
	assert.Equal(t, 20, findings[0].Details["finished"])
}

func TestAlerter_Evaluate_SmallSampleIgnored(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	// 2 of 3 failed is above threshold but below the sample floor.
	assert.Empty(t, a.Evaluate(&MetricsSnapshot{AlertsSent: 1, AlertsFailed: 2, AlertFailureRate: 0.66}))
}

type webhookSink struct {
	srv    *httptest.Server
	hits   atomic.Int32
	status atomic.Int32
	last   atomic.Pointer[Report]
}

func newSink(t *testing.T) *webhookSink {
	t.Helper()
	s := &webhookSink{}
	s.status.Store(http.StatusOK)
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var rep Report
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&rep)) {
			s.last.Store(&rep)
		}
		s.hits.Add(1)
		w.WriteHeader(int(s.status.Load()))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func TestAlerter_Report_BatchesFindings(t *testing.T) {
	sink := newSink(t)
	cfg := testMonitoringConfig()
	cfg.WebhookURL = sink.srv.URL
	a := NewAlerter(cfg)

	snap := &MetricsSnapshot{DisabledScans: 10, AlertsSent: 5, AlertsFailed: 5, AlertFailureRate: 0.5}
	sent, err := a.Report(context.Background(), snap, a.Evaluate(snap))
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(1), sink.hits.Load())

	rep := sink.last.Load()
	require.NotNil(t, rep)
	assert.Equal(t, "catalog-monitor", rep.Service)
	assert.Len(t, rep.Findings, 2)
	assert.Equal(t, 10, rep.Snapshot.DisabledScans)
}

func TestAlerter_Report_RepeatWindow(t *testing.T) {
	sink := newSink(t)
	cfg := testMonitoringConfig()
	cfg.WebhookURL = sink.srv.URL
	a := NewAlerter(cfg)

	clock := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	snap := &MetricsSnapshot{DisabledScans: 11}
	report := func() int {
		n, err := a.Report(context.Background(), snap, a.Evaluate(snap))
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, 1, report())
	clock = clock.Add(30 * time.Minute)
	assert.Equal(t, 0, report(), "held back inside the window")
	clock = clock.Add(31 * time.Minute)
	assert.Equal(t, 1, report(), "repeated after the window")

	// Clearing forgets the finding, so a recurrence reports at once.
	clock = clock.Add(time.Minute)
	_, err := a.Report(context.Background(), &MetricsSnapshot{}, nil)
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	assert.Equal(t, 1, report())
	assert.Equal(t, int32(3), sink.hits.Load())
}

func TestAlerter_Report_WebhookErrorRetriesNextCheck(t *testing.T) {
	sink := newSink(t)
	sink.status.Store(http.StatusInternalServerError)
	cfg := testMonitoringConfig()
	cfg.WebhookURL = sink.srv.URL
	a := NewAlerter(cfg)

	findings := []Finding{{Type: FindingDisabledScans}}
	_, err := a.Report(context.Background(), &MetricsSnapshot{}, findings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	sink.status.Store(http.StatusOK)
	sent, err := a.Report(context.Background(), &MetricsSnapshot{}, findings)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestAlerter_Report_NoURL(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	sent, err := a.Report(context.Background(), &MetricsSnapshot{}, []Finding{{Type: FindingDisabledScans}})
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}
