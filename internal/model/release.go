package model

import "time"

// ReleaseRef is one release as reported by a provider catalog. Snapshots are
// ordered lists of ReleaseRef.
type ReleaseRef struct {
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	ReleaseType string     `json:"release_type"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	ArtworkRef  string     `json:"artwork_ref,omitempty"`
	TrackCount  int        `json:"track_count"`
	UPC         string     `json:"upc,omitempty"`
	ISRCs       []string   `json:"isrcs,omitempty"` // track order; [0] is the lead track
}

// LeadISRC returns the ISRC of the first track, or "" when none is known.
func (r ReleaseRef) LeadISRC() string {
	if len(r.ISRCs) == 0 {
		return ""
	}
	return r.ISRCs[0]
}

// CatalogRelease is an entry in the creator's own discography.
type CatalogRelease struct {
	ID          string     `json:"id"`
	CreatorID   string     `json:"creator_id"`
	Title       string     `json:"title"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	UPC         string     `json:"upc,omitempty"`
	ISRCs       []string   `json:"isrcs,omitempty"`
}

// ProviderCredential is a linked provider account, owned by the OAuth layer.
type ProviderCredential struct {
	Ref         string `json:"ref"`
	ProviderID  string `json:"provider_id"`
	AccountID   string `json:"account_id"`
	AccessToken string `json:"-"`
	Revoked     bool   `json:"revoked"`
}
