// Package diff compares a provider's current catalog against the last stored
// snapshot. It has no side effects.
package diff

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/sells-group/catalog-monitor/internal/model"
)

// Result is the outcome of comparing two snapshots.
type Result struct {
	NewReleases        []model.ReleaseRef `json:"new_releases"`
	RemovedExternalIDs []string           `json:"removed_external_ids"`
	SnapshotHash       string             `json:"snapshot_hash"`
}

// Changed reports whether the current catalog hash differs from prevHash.
func (r Result) Changed(prevHash string) bool {
	return r.SnapshotHash != prevHash
}

// Diff returns the releases in current whose external ID is absent from
// last, the external IDs in last absent from current, and the hash of
// current. Output order follows input order.
func Diff(current, last []model.ReleaseRef) Result {
	lastIDs := make(map[string]struct{}, len(last))
	for _, r := range last {
		lastIDs[r.ExternalID] = struct{}{}
	}
	currentIDs := make(map[string]struct{}, len(current))
	for _, r := range current {
		currentIDs[r.ExternalID] = struct{}{}
	}

	res := Result{
		NewReleases:        []model.ReleaseRef{},
		RemovedExternalIDs: []string{},
		SnapshotHash:       SnapshotHash(current),
	}
	for _, r := range current {
		if _, ok := lastIDs[r.ExternalID]; !ok {
			res.NewReleases = append(res.NewReleases, r)
		}
	}
	for _, r := range last {
		if _, ok := currentIDs[r.ExternalID]; !ok {
			res.RemovedExternalIDs = append(res.RemovedExternalIDs, r.ExternalID)
		}
	}
	return res
}

// SnapshotHash is the hex SHA-256 of the sorted, de-duplicated external IDs
// of refs. It depends only on the ID set, not on order or metadata.
func SnapshotHash(refs []model.ReleaseRef) string {
	ids := ExternalIDs(refs)
	sort.Strings(ids)

	h := sha256.New()
	prev := ""
	for i, id := range ids {
		if i > 0 && id == prev {
			continue
		}
		// Length-prefixed so no two ID sets share an encoding.
		_ = binary.Write(h, binary.BigEndian, uint64(len(id)))
		h.Write([]byte(id))
		prev = id
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ExternalIDs returns the external IDs of refs in input order.
func ExternalIDs(refs []model.ReleaseRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ExternalID)
	}
	return ids
}

// Dedupe drops later duplicates of an external ID and blank IDs, keeping the
// first occurrence.
func Dedupe(refs []model.ReleaseRef) []model.ReleaseRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]model.ReleaseRef, 0, len(refs))
	for _, r := range refs {
		id := strings.TrimSpace(r.ExternalID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out
}
