package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-monitor/internal/alerts"
	"github.com/sells-group/catalog-monitor/internal/matcher"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/notify"
	"github.com/sells-group/catalog-monitor/internal/provider"
	"github.com/sells-group/catalog-monitor/internal/releases"
	"github.com/sells-group/catalog-monitor/internal/store"
	"github.com/sells-group/catalog-monitor/internal/tokens"
)

type fakeFetcher struct {
	mu       sync.Mutex
	id       string
	releases []model.ReleaseRef
	err      error
	calls    int
}

func (f *fakeFetcher) ID() string { return f.id }

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (*provider.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &provider.FetchResult{Releases: slices.Clone(f.releases), FetchedAt: time.Now()}, nil
}

func (f *fakeFetcher) set(rels []model.ReleaseRef, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases, f.err = rels, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	st    *store.MemoryStore
	fetch *fakeFetcher
	sched *Scheduler
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		st:    store.NewMemory(),
		fetch: &fakeFetcher{id: "spotify"},
		now:   time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
	}
	h.sched = h.newScheduler()
	return h
}

func (h *harness) newScheduler() *Scheduler {
	reg := releases.New(h.st, matcher.New(h.st, matcher.Options{}))
	disp := alerts.New(h.st, tokens.NewSigner(tokens.StaticSecret("x")), notify.Noop{}, alerts.Config{
		ActionBaseURL: "https://app.example.com/actions",
	})
	s := New(h.st, provider.NewRegistry(h.fetch), reg, disp, Config{})
	s.now = func() time.Time { return h.now }
	return s
}

func (h *harness) enroll(t *testing.T, creatorID, providerID string) *model.ScanState {
	t.Helper()
	st, err := h.st.EnrollScan(context.Background(), store.EnrollParams{
		CreatorID:     creatorID,
		ProviderID:    providerID,
		CredentialRef: "cred-" + creatorID,
		IntervalHours: 24,
	}, h.now)
	require.NoError(t, err)
	return st
}

func (h *harness) scanState(t *testing.T) *model.ScanState {
	t.Helper()
	st, err := h.st.GetScan(context.Background(), "creator-1", "spotify")
	require.NoError(t, err)
	return st
}

func ref(id, title, upc string) model.ReleaseRef {
	return model.ReleaseRef{ExternalID: id, Title: title, ReleaseType: "single", TrackCount: 1, UPC: upc}
}

func TestBackoff(t *testing.T) {
	interval := 24 * time.Hour
	cases := []struct {
		failures int
		delay    time.Duration
		disable  bool
	}{
		{1, interval, false},
		{2, 24 * time.Hour, false},
		{3, 48 * time.Hour, false},
		{4, 72 * time.Hour, false},
		{5, interval, true},
		{9, interval, true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("failures=%d", tc.failures), func(t *testing.T) {
			d, dis := Backoff(tc.failures, interval)
			assert.Equal(t, tc.disable, dis)
			if !tc.disable {
				assert.Equal(t, tc.delay, d)
			}
		})
	}
}

func TestRunCycle_UPCMatchAutoConfirmsWithoutAlert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.st.AddCatalogRelease(model.CatalogRelease{ID: "cat-1", CreatorID: "creator-1", Title: "Old Song", UPC: "0602445790128"})
	h.enroll(t, "creator-1", "spotify")
	h.fetch.set([]model.ReleaseRef{ref("ext-1", "Old Song (Remastered)", "0602445790128")}, nil)

	res, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.NewReleases)
	assert.Equal(t, 0, res.AlertsEnqueued)

	rel, err := h.st.GetReleaseByExternalID(ctx, "creator-1", "spotify", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReleaseAutoConfirmed, rel.Status)
	assert.Equal(t, model.ConfidenceUPC, rel.MatchConfidence)
	require.NotNil(t, rel.MatchedCatalogID)
	assert.Equal(t, "cat-1", *rel.MatchedCatalogID)

	as, err := h.st.ListAlertsForRelease(ctx, rel.ID)
	require.NoError(t, err)
	assert.Empty(t, as)
}

func TestRunCycle_UnmatchedReleaseEnqueuesAlert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "creator-1", "spotify")
	h.fetch.set([]model.ReleaseRef{ref("ext-1", "Brand New Thing", "")}, nil)

	res, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 1, res.AlertsEnqueued)

	st := h.scanState(t)
	assert.Equal(t, model.ScanStatusCompleted, st.Status)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Equal(t, h.now.Add(24*time.Hour), st.NextScanAt)
	assert.NotEmpty(t, st.LastSnapshotHash)
	require.Len(t, st.LastSnapshot, 1)

	rel, err := h.st.GetReleaseByExternalID(ctx, "creator-1", "spotify", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReleaseUnconfirmed, rel.Status)
	assert.Equal(t, model.ConfidenceNone, rel.MatchConfidence)

	as, err := h.st.ListAlertsForRelease(ctx, rel.ID)
	require.NoError(t, err)
	require.Len(t, as, 1)
	assert.Equal(t, model.AlertPending, as[0].Status)
}

func TestRunCycle_NotDueIsNotScanned(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "creator-1", "spotify")
	h.fetch.set([]model.ReleaseRef{ref("ext-1", "A", "")}, nil)

	_, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	h.now = h.now.Add(time.Hour)
	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
	assert.Equal(t, 1, h.fetch.callCount())
}

func TestRunCycle_UnchangedCatalogOnlyTouches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "creator-1", "spotify")
	h.fetch.set([]model.ReleaseRef{ref("ext-1", "Brand New Thing", "")}, nil)

	_, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)

	h.now = h.now.Add(24 * time.Hour)
	res, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 0, res.AlertsEnqueued)

	rel, err := h.st.GetReleaseByExternalID(ctx, "creator-1", "spotify", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, h.now, rel.LastSeenAt)

	as, err := h.st.ListAlertsForRelease(ctx, rel.ID)
	require.NoError(t, err)
	assert.Len(t, as, 1)
	assert.Equal(t, h.now.Add(24*time.Hour), h.scanState(t).NextScanAt)
}

func TestRunCycle_KnownReleaseIsNotRealerted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "creator-1", "spotify")
	h.fetch.set([]model.ReleaseRef{ref("ext-1", "Brand New Thing", "")}, nil)

	_, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)

	// A second release appears; the first is already registered and alerted.
	h.now = h.now.Add(24 * time.Hour)
	h.fetch.set([]model.ReleaseRef{ref("ext-1", "Brand New Thing", ""), ref("ext-2", "Another", "")}, nil)
	res, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewReleases)
	assert.Equal(t, 1, res.AlertsEnqueued)

	rel, err := h.st.GetReleaseByExternalID(ctx, "creator-1", "spotify", "ext-1")
	require.NoError(t, err)
	as, err := h.st.ListAlertsForRelease(ctx, rel.ID)
	require.NoError(t, err)
	assert.Len(t, as, 1)
}

func TestRunCycle_RemovedAndReappeared(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "creator-1", "spotify")
	both := []model.ReleaseRef{ref("ext-1", "A", ""), ref("ext-2", "B", "")}
	h.fetch.set(both, nil)

	_, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)

	h.now = h.now.Add(24 * time.Hour)
	h.fetch.set(both[:1], nil)
	_, err = h.sched.RunCycle(ctx)
	require.NoError(t, err)

	rel, err := h.st.GetReleaseByExternalID(ctx, "creator-1", "spotify", "ext-2")
	require.NoError(t, err)
	assert.True(t, rel.WasRemoved)
	assert.Equal(t, model.ReleaseUnconfirmed, rel.Status)

	h.now = h.now.Add(24 * time.Hour)
	h.fetch.set(both, nil)
	res, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewReleases)

	rel, err = h.st.GetReleaseByExternalID(ctx, "creator-1", "spotify", "ext-2")
	require.NoError(t, err)
	assert.False(t, rel.WasRemoved)
}

func TestRunCycle_FailureBackoffThenDisable(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "creator-1", "spotify")
	h.fetch.set(nil, &provider.FetchError{Provider: "spotify", StatusCode: 503, Err: errors.New("unavailable")})

	want := []time.Duration{24 * time.Hour, 24 * time.Hour, 48 * time.Hour, 72 * time.Hour}
	for i, delay := range want {
		res, err := h.sched.RunCycle(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, res.Failed, "attempt %d", i+1)

		st := h.scanState(t)
		assert.Equal(t, model.ScanStatusFailed, st.Status)
		assert.Equal(t, i+1, st.ConsecutiveFailures)
		assert.Equal(t, h.now.Add(delay), st.NextScanAt, "attempt %d", i+1)
		assert.Contains(t, st.LastError, "503")
		assert.False(t, st.Disabled)
		h.now = st.NextScanAt
	}

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Disabled)

	st := h.scanState(t)
	assert.True(t, st.Disabled)
	assert.Equal(t, model.DisabledFailures, st.DisabledReason)
	assert.Equal(t, 5, st.ConsecutiveFailures)

	h.now = h.now.Add(30 * 24 * time.Hour)
	res, err = h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
	assert.Equal(t, 5, h.fetch.callCount())
}

func TestRunCycle_SuccessResetsFailures(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "creator-1", "spotify")
	h.fetch.set(nil, &provider.FetchError{Provider: "spotify", Err: errors.New("connection reset")})

	_, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	h.now = h.scanState(t).NextScanAt

	h.fetch.set([]model.ReleaseRef{ref("ext-1", "A", "")}, nil)
	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	st := h.scanState(t)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Empty(t, st.LastError)
}

func TestRunCycle_AuthErrorDisablesImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "creator-1", "spotify")
	h.fetch.set(nil, &provider.AuthError{Provider: "spotify", Reason: "token revoked"})

	res, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Disabled)

	st := h.scanState(t)
	assert.True(t, st.Disabled)
	assert.Equal(t, model.DisabledAuth, st.DisabledReason)
	assert.Equal(t, 1, st.ConsecutiveFailures)

	n, err := h.st.CountDisabledScans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Manual re-enable makes the row due again.
	require.NoError(t, h.st.ReenableScan(ctx, "creator-1", "spotify", h.now))
	h.fetch.set([]model.ReleaseRef{ref("ext-1", "A", "")}, nil)
	res, err = h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.False(t, h.scanState(t).Disabled)
}

func TestRunCycle_RateLimitHonoursRetryAfter(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "creator-1", "spotify")
	h.fetch.set(nil, &provider.RateLimitError{Provider: "spotify", RetryAfter: 72 * time.Hour})

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	st := h.scanState(t)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, h.now.Add(72*time.Hour), st.NextScanAt)
}

func TestRunCycle_UnknownProviderFails(t *testing.T) {
	h := newHarness(t)
	st, err := h.st.EnrollScan(context.Background(), store.EnrollParams{
		CreatorID: "creator-1", ProviderID: "tidal", CredentialRef: "c", IntervalHours: 24,
	}, h.now)
	require.NoError(t, err)

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, err := h.st.GetScan(context.Background(), st.CreatorID, "tidal")
	require.NoError(t, err)
	assert.Contains(t, got.LastError, "unknown provider")
}

func TestRunCycle_RecoversStaleScan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st := h.enroll(t, "creator-1", "spotify")
	h.fetch.set([]model.ReleaseRef{ref("ext-1", "A", "")}, nil)

	// A worker claimed the row and crashed.
	ok, err := h.st.ClaimScan(ctx, st.ID, h.now)
	require.NoError(t, err)
	require.True(t, ok)

	h.now = h.now.Add(10 * time.Minute)
	res, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Recovered)
	assert.Equal(t, 0, res.Due)

	h.now = h.now.Add(25 * time.Minute)
	res, err = h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recovered)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, h.fetch.callCount())
}

func TestRunCycle_ConcurrentWorkersScanEachRowOnce(t *testing.T) {
	h := newHarness(t)
	const creators = 12
	for i := range creators {
		h.enroll(t, fmt.Sprintf("creator-%d", i), "spotify")
	}
	h.fetch.set([]model.ReleaseRef{ref("ext-1", "A", "")}, nil)

	workers := []*Scheduler{h.sched, h.newScheduler(), h.newScheduler()}
	results := make([]*CycleResult, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := w.RunCycle(context.Background())
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	claimed := 0
	for _, r := range results {
		require.NotNil(t, r)
		claimed += r.Claimed
	}
	assert.Equal(t, creators, claimed)
	assert.Equal(t, creators, h.fetch.callCount())
}
