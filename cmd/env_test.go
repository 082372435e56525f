package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-monitor/internal/alerts"
	"github.com/sells-group/catalog-monitor/internal/config"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/notify"
	"github.com/sells-group/catalog-monitor/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CATALOG_STORE_DRIVER", "memory")
	t.Setenv("CATALOG_TOKENS_SECRET", "test-secret")
	t.Setenv("CATALOG_ALERTS_ACTION_BASE_URL", "https://app.example.com/actions")
	t.Setenv("CATALOG_ALERTS_CHANNEL", "noop")
	c, err := config.Load()
	require.NoError(t, err)
	return c
}

func TestInitStore_Memory(t *testing.T) {
	c := testConfig(t)
	st, err := initStore(context.Background(), c)
	require.NoError(t, err)
	_, ok := st.(*store.MemoryStore)
	assert.True(t, ok)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "sqlite"
	_, err := initStore(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEnv_ValidatesMode(t *testing.T) {
	c := testConfig(t)
	c.Tokens.Secret = ""
	_, err := initEnv(context.Background(), c, "alerts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokens.secret")
}

func TestDispatcherConfig(t *testing.T) {
	c := testConfig(t)
	c.Alerts.Period = "daily"
	c.Alerts.DelayMins = 30
	c.Alerts.TokenTTLHours = 48

	got, err := dispatcherConfig(c)
	require.NoError(t, err)
	assert.Equal(t, alerts.PeriodDaily, got.Period)
	assert.Equal(t, 30*time.Minute, got.Delay)
	assert.Equal(t, 48*time.Hour, got.TokenTTL)
	assert.Equal(t, model.ChannelNoop, got.Channel)
	assert.Equal(t, "https://app.example.com/actions", got.ActionBaseURL)

	c.Alerts.Period = "monthly"
	_, err = dispatcherConfig(c)
	assert.Error(t, err)
}

func TestBuildProviders(t *testing.T) {
	c := testConfig(t)
	st := store.NewMemory()

	assert.Empty(t, buildProviders(c, st).IDs())

	c.Providers.DSP.BaseURL = "https://dsp.example.com"
	c.Providers.File.Dir = t.TempDir()
	reg := buildProviders(c, st)
	assert.Equal(t, []string{"dsp", "file"}, reg.IDs())

	_, err := reg.Get("dsp")
	assert.NoError(t, err)
}

func TestBuildNotifier(t *testing.T) {
	c := testConfig(t)
	r := buildNotifier(c)

	d, err := r.Send(context.Background(), notify.Message{AlertID: "a1", Channel: model.ChannelNoop})
	require.NoError(t, err)
	assert.Equal(t, "noop", d.Reference)

	_, err = r.Send(context.Background(), notify.Message{AlertID: "a1", Channel: model.ChannelWebhook})
	assert.Error(t, err, "webhook is unregistered without a url")
}

// An end-to-end dry run: enroll a file-provider scan, run one scan cycle
// and one alert cycle, then resolve the release through the processor.
func TestBuildEnv_DryRun(t *testing.T) {
	c := testConfig(t)
	dir := t.TempDir()
	c.Providers.File.Dir = dir
	writeCatalog(t, dir, "acct-1")

	st := store.NewMemory()
	st.SetEntitlement(model.CreatorEntitlement{CreatorID: "creator-1", MonitoringActive: true})

	env, err := buildEnv(st, c)
	require.NoError(t, err)
	defer env.Close()

	ctx := context.Background()
	_, err = st.EnrollScan(ctx, store.EnrollParams{
		CreatorID:     "creator-1",
		ProviderID:    "file",
		CredentialRef: "acct-1",
		IntervalHours: 24,
	}, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	scanRes, err := env.Scheduler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scanRes.Completed)
	assert.Equal(t, 1, scanRes.NewReleases)
	assert.Equal(t, 1, scanRes.AlertsEnqueued)

	alertRes, err := env.Dispatcher.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, alertRes.Sent)

	pending, err := st.ListUnconfirmed(ctx, store.UnconfirmedCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	res, err := env.Actions.Apply(ctx, pending[0].ID, "creator-1", model.ActionDismiss, "")
	require.NoError(t, err)
	assert.Equal(t, model.ReleaseDismissed, res.Status)
}

func writeCatalog(t *testing.T, dir, ref string) {
	t.Helper()
	data := []byte(`releases:
  - id: rel-100
    title: Midnight Tapes
    type: single
    release_date: "2026-02-13"
    track_count: 1
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ref+".yaml"), data, 0o644))
}
