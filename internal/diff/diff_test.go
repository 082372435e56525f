package diff

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-monitor/internal/model"
)

func refs(ids ...string) []model.ReleaseRef {
	out := make([]model.ReleaseRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.ReleaseRef{ExternalID: id, Title: "Title " + id})
	}
	return out
}

func TestDiff_NewReleaseAppended(t *testing.T) {
	res := Diff(refs("A", "B", "C"), refs("A", "B"))

	require.Len(t, res.NewReleases, 1)
	assert.Equal(t, "C", res.NewReleases[0].ExternalID)
	assert.Empty(t, res.RemovedExternalIDs)
	assert.Equal(t, SnapshotHash(refs("A", "B", "C")), res.SnapshotHash)
}

func TestDiff_Removed(t *testing.T) {
	res := Diff(refs("A"), refs("A", "B"))

	assert.Empty(t, res.NewReleases)
	assert.Equal(t, []string{"B"}, res.RemovedExternalIDs)
}

func TestDiff_EmptySnapshotTreatsAllAsNew(t *testing.T) {
	res := Diff(refs("A", "B"), nil)
	assert.Len(t, res.NewReleases, 2)
	assert.Empty(t, res.RemovedExternalIDs)
}

func TestDiff_Identical(t *testing.T) {
	s := refs("A", "B", "C")
	res := Diff(s, s)
	assert.Empty(t, res.NewReleases)
	assert.Empty(t, res.RemovedExternalIDs)
	assert.False(t, res.Changed(SnapshotHash(s)))
}

func TestSnapshotHash_OrderAndMetadataInsensitive(t *testing.T) {
	a := refs("A", "B", "C")
	b := refs("C", "A", "B")
	b[0].Title = "renamed"

	assert.Equal(t, SnapshotHash(a), SnapshotHash(b))
}

func TestSnapshotHash_DiffersForDifferentIDSets(t *testing.T) {
	assert.NotEqual(t, SnapshotHash(refs("A", "B")), SnapshotHash(refs("A", "C")))
	assert.NotEqual(t, SnapshotHash(refs("AB")), SnapshotHash(refs("A", "B")))
	assert.NotEqual(t, SnapshotHash(nil), SnapshotHash(refs("A")))
	assert.NotEqual(t, SnapshotHash(refs("a\x00b")), SnapshotHash(refs("a", "b")))
}

func TestDiff_RandomSnapshots(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))

	for i := 0; i < 200; i++ {
		var s1, s2 []string
		for j := 0; j < 30; j++ {
			id := fmt.Sprintf("R%02d", j)
			if r.IntN(2) == 0 {
				s1 = append(s1, id)
			}
			if r.IntN(2) == 0 {
				s2 = append(s2, id)
			}
		}

		res := Diff(refs(s2...), refs(s1...))

		in1 := make(map[string]bool)
		for _, id := range s1 {
			in1[id] = true
		}
		in2 := make(map[string]bool)
		for _, id := range s2 {
			in2[id] = true
		}

		var wantNew, wantRemoved []string
		for _, id := range s2 {
			if !in1[id] {
				wantNew = append(wantNew, id)
			}
		}
		for _, id := range s1 {
			if !in2[id] {
				wantRemoved = append(wantRemoved, id)
			}
		}

		assert.ElementsMatch(t, wantNew, ExternalIDs(res.NewReleases))
		assert.ElementsMatch(t, wantRemoved, res.RemovedExternalIDs)

		again := Diff(refs(s2...), refs(s2...))
		assert.Empty(t, again.NewReleases)
		assert.Equal(t, res.SnapshotHash, again.SnapshotHash)
	}
}

func TestDedupe(t *testing.T) {
	in := []model.ReleaseRef{
		{ExternalID: "A", Title: "first"},
		{ExternalID: ""},
		{ExternalID: "B"},
		{ExternalID: "A", Title: "second"},
	}
	out := Dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Title)
	assert.Equal(t, "B", out[1].ExternalID)
}
