package releases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-monitor/internal/diff"
	"github.com/sells-group/catalog-monitor/internal/matcher"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/store"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	st.AddCatalogRelease(model.CatalogRelease{ID: "cat-1", CreatorID: "creator-1", Title: "Known", UPC: "00012345"})
	return New(st, matcher.New(st, matcher.Options{})), st
}

func observe(t *testing.T, r *Registry, current, last []model.ReleaseRef, at time.Time) *Outcome {
	t.Helper()
	out, err := r.Observe(context.Background(), Observation{
		CreatorID: "creator-1", ProviderID: "dsp", Current: current, Diff: diff.Diff(current, last), SeenAt: at,
	})
	require.NoError(t, err)
	return out
}

func TestObserve_FirstScanInsertsAndMatches(t *testing.T) {
	r, st := newRegistry(t)
	current := []model.ReleaseRef{
		{ExternalID: "A", Title: "Known", UPC: "12345"},
		{ExternalID: "B", Title: "Stranger"},
	}

	out := observe(t, r, current, nil, t0)
	assert.Equal(t, 2, out.Inserted)
	assert.Equal(t, 1, out.AutoConfirmed)
	require.Len(t, out.Unconfirmed, 1)
	assert.Equal(t, "B", out.Unconfirmed[0].ExternalReleaseID)

	a, err := st.GetReleaseByExternalID(context.Background(), "creator-1", "dsp", "A")
	require.NoError(t, err)
	assert.Equal(t, model.ReleaseAutoConfirmed, a.Status)
	assert.Equal(t, model.ConfidenceUPC, a.MatchConfidence)
	require.NotNil(t, a.MatchedCatalogID)
	assert.Equal(t, "cat-1", *a.MatchedCatalogID)
}

func TestObserve_KnownReleasesOnlyTouched(t *testing.T) {
	r, st := newRegistry(t)
	snap := []model.ReleaseRef{{ExternalID: "B", Title: "Stranger"}}
	observe(t, r, snap, nil, t0)

	later := t0.Add(24 * time.Hour)
	out := observe(t, r, snap, snap, later)
	assert.Zero(t, out.Inserted)
	assert.Equal(t, 1, out.Touched)
	assert.Empty(t, out.Unconfirmed)

	b, _ := st.GetReleaseByExternalID(context.Background(), "creator-1", "dsp", "B")
	assert.Equal(t, later, b.LastSeenAt)
	assert.Equal(t, t0, b.FirstDetectedAt)
}

func TestObserve_RemovalAndReappearance(t *testing.T) {
	r, st := newRegistry(t)
	ctx := context.Background()
	full := []model.ReleaseRef{{ExternalID: "A", Title: "Known", UPC: "12345"}, {ExternalID: "B", Title: "Stranger"}}
	onlyB := full[1:]

	observe(t, r, full, nil, t0)
	out := observe(t, r, onlyB, full, t0.Add(time.Hour))
	assert.Equal(t, 1, out.Removed)

	a, _ := st.GetReleaseByExternalID(ctx, "creator-1", "dsp", "A")
	assert.True(t, a.WasRemoved)
	assert.Equal(t, model.ReleaseAutoConfirmed, a.Status, "removal never changes status")

	out = observe(t, r, full, onlyB, t0.Add(2*time.Hour))
	assert.Equal(t, 1, out.Reappeared)
	assert.Zero(t, out.Inserted)

	a, _ = st.GetReleaseByExternalID(ctx, "creator-1", "dsp", "A")
	assert.False(t, a.WasRemoved)
}

func TestTouchAll(t *testing.T) {
	r, st := newRegistry(t)
	snap := []model.ReleaseRef{{ExternalID: "B", Title: "Stranger"}}
	observe(t, r, snap, nil, t0)

	n, err := r.TouchAll(context.Background(), "creator-1", "dsp", snap, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, _ := st.GetReleaseByExternalID(context.Background(), "creator-1", "dsp", "B")
	assert.Equal(t, t0.Add(time.Hour), b.LastSeenAt)
}
