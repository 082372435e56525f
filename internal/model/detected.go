package model

import "time"

// ReleaseStatus is the review state of a DetectedRelease.
type ReleaseStatus string

const (
	ReleaseUnconfirmed   ReleaseStatus = "unconfirmed"
	ReleaseAutoConfirmed ReleaseStatus = "auto_confirmed"
	ReleaseConfirmed     ReleaseStatus = "confirmed"
	ReleaseDisputed      ReleaseStatus = "disputed"
	ReleaseDismissed     ReleaseStatus = "dismissed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s ReleaseStatus) Terminal() bool {
	switch s {
	case ReleaseConfirmed, ReleaseDisputed, ReleaseDismissed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether s -> to is an edge of the review state
// machine: unconfirmed and auto_confirmed may move to confirmed, disputed or
// dismissed; nothing else moves.
func (s ReleaseStatus) CanTransitionTo(to ReleaseStatus) bool {
	if s != ReleaseUnconfirmed && s != ReleaseAutoConfirmed {
		return false
	}
	return to.Terminal()
}

// MatchConfidence identifies which matcher strategy reconciled a release.
type MatchConfidence string

const (
	ConfidenceExactID   MatchConfidence = "exact_id"
	ConfidenceUPC       MatchConfidence = "upc"
	ConfidenceISRC      MatchConfidence = "isrc"
	ConfidenceTitleDate MatchConfidence = "title_date"
	ConfidenceNone      MatchConfidence = "none"
)

// DetectedRelease is the durable audit record of a release seen on a provider.
type DetectedRelease struct {
	ID                string          `json:"id"`
	CreatorID         string          `json:"creator_id"`
	ProviderID        string          `json:"provider_id"`
	ExternalReleaseID string          `json:"external_release_id"`
	Title             string          `json:"title"`
	ReleaseType       string          `json:"release_type"`
	ReleaseDate       *time.Time      `json:"release_date,omitempty"`
	ArtworkRef        string          `json:"artwork_ref,omitempty"`
	TrackCount        int             `json:"track_count"`
	UPC               string          `json:"upc,omitempty"`
	ISRCs             []string        `json:"isrcs,omitempty"`
	MatchedCatalogID  *string         `json:"matched_catalog_id,omitempty"`
	MatchConfidence   MatchConfidence `json:"match_confidence"`
	Status            ReleaseStatus   `json:"status"`
	DisputeNotes      *string         `json:"dispute_notes,omitempty"`
	FirstDetectedAt   time.Time       `json:"first_detected_at"`
	LastSeenAt        time.Time       `json:"last_seen_at"`
	WasRemoved        bool            `json:"was_removed"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}
