package model

import "time"

// ScanStatus is the lifecycle state of a ScanState row.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusScanning  ScanStatus = "scanning"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// DisabledReason records why monitoring was switched off for a row.
type DisabledReason string

const (
	DisabledAuth     DisabledReason = "auth"
	DisabledFailures DisabledReason = "failures"
)

// ScanState is the per (creator, provider) scheduling and snapshot row.
type ScanState struct {
	ID                  string         `json:"id"`
	CreatorID           string         `json:"creator_id"`
	ProviderID          string         `json:"provider_id"`
	CredentialRef       string         `json:"credential_ref"`
	ScanIntervalHours   int            `json:"scan_interval_hours"`
	LastScanAt          *time.Time     `json:"last_scan_at,omitempty"`
	NextScanAt          time.Time      `json:"next_scan_at"`
	LastSnapshot        []ReleaseRef   `json:"last_snapshot"`
	LastSnapshotHash    string         `json:"last_snapshot_hash"`
	Status              ScanStatus     `json:"status"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastError           string         `json:"last_error,omitempty"`
	Disabled            bool           `json:"disabled"`
	DisabledReason      DisabledReason `json:"disabled_reason,omitempty"`
	ClaimedAt           *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Interval returns the configured scan interval as a duration.
func (s ScanState) Interval() time.Duration {
	return time.Duration(s.ScanIntervalHours) * time.Hour
}
