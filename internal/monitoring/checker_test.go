package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/catalog-monitor/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{
		CheckIntervalSecs:     1,
		LookbackWindowHours:   24,
		DisabledScanThreshold: 1,
		RepeatAfterMins:       60,
		WebhookURL:            srv.URL,
	}
	checker := NewChecker(NewCollector(&mockSource{disabled: 4}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// The first check runs immediately on start.
	assert.Eventually(t, func() bool { return hits.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
	assert.Equal(t, int32(1), hits.Load(), "repeat window holds back the second report")
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&mockSource{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, 5*time.Minute, checker.interval)

	// A cancelled context returns without checking.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSkipsCollectErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{DisabledScanThreshold: 1, WebhookURL: srv.URL}
	checker := NewChecker(NewCollector(&mockSource{disabledErr: assert.AnError}), NewAlerter(cfg), cfg)

	checker.Check(context.Background())
	assert.Equal(t, int32(0), hits.Load())
}
