// Package store persists scan states, detected releases and alerts, and reads
// the catalog, entitlement and credential tables owned by other services.
//
// Every coordination point is a conditional update on a single row so that
// any number of worker processes can share one database.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-monitor/internal/model"
)

var (
	// ErrNotFound is returned when a keyed lookup matches no row.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicate is returned when an insert hits a uniqueness constraint.
	ErrDuplicate = eris.New("store: duplicate")
	// ErrClaimLost is returned when a row is no longer held by the caller,
	// typically because a recovery sweep reclaimed it.
	ErrClaimLost = eris.New("store: claim lost")
	// ErrInvalidTransition is returned for a status change outside the
	// detected release state machine.
	ErrInvalidTransition = eris.New("store: invalid status transition")
	// ErrTokenConsumed is returned when an alert's action token was already used
	// or no longer matches the alert.
	ErrTokenConsumed = eris.New("store: action token already used")
)

// EnrollParams creates or updates a ScanState for a linked provider.
type EnrollParams struct {
	CreatorID     string
	ProviderID    string
	CredentialRef string
	IntervalHours int
}

// ScanSuccess is written when a scan finishes cleanly.
type ScanSuccess struct {
	Snapshot   []model.ReleaseRef
	Hash       string
	ScannedAt  time.Time
	NextScanAt time.Time
}

// ScanFailure is written when a scan fails. Failures is the new
// consecutive failure count, already incremented by the caller.
type ScanFailure struct {
	Failures   int
	ScannedAt  time.Time
	NextScanAt time.Time
	LastError  string
	Disable    bool
	Reason     model.DisabledReason
}

// TokenUse binds a resolution to the alert whose token authorised it.
type TokenUse struct {
	AlertID string
	TokenID string
}

// Resolution is a creator decision to apply to a detected release.
type Resolution struct {
	ReleaseID string
	CreatorID string
	Target    model.ReleaseStatus
	Notes     *string
	At        time.Time
	Token     *TokenUse
}

// ResolutionResult reports what ApplyResolution did.
type ResolutionResult struct {
	Previous        model.ReleaseStatus
	Status          model.ReleaseStatus
	Changed         bool
	CancelledAlerts int
}

// AlertStats counts alert outcomes within a window.
type AlertStats struct {
	Sent      int
	Failed    int
	Cancelled int
}

// ScanStore persists per (creator, provider) scheduling state.
type ScanStore interface {
	EnrollScan(ctx context.Context, p EnrollParams, now time.Time) (*model.ScanState, error)
	ReenableScan(ctx context.Context, creatorID, providerID string, now time.Time) error
	GetScan(ctx context.Context, creatorID, providerID string) (*model.ScanState, error)
	RecoverStaleScans(ctx context.Context, claimedBefore, now time.Time) (int, error)
	ListDueScans(ctx context.Context, now time.Time, limit int) ([]model.ScanState, error)
	ClaimScan(ctx context.Context, id string, now time.Time) (bool, error)
	CompleteScan(ctx context.Context, id string, s ScanSuccess) error
	FailScan(ctx context.Context, id string, f ScanFailure) error
	CountDisabledScans(ctx context.Context) (int, error)
}

// UnconfirmedCursor pages ListUnconfirmed by (first_detected_at, id). The
// zero value starts from the beginning.
type UnconfirmedCursor struct {
	FirstDetectedAt time.Time
	ID              string
}

// After returns the cursor positioned past r.
func After(r model.DetectedRelease) UnconfirmedCursor {
	return UnconfirmedCursor{FirstDetectedAt: r.FirstDetectedAt, ID: r.ID}
}

// ReleaseStore persists DetectedRelease rows.
type ReleaseStore interface {
	GetRelease(ctx context.Context, id string) (*model.DetectedRelease, error)
	GetReleaseByExternalID(ctx context.Context, creatorID, providerID, externalID string) (*model.DetectedRelease, error)
	InsertRelease(ctx context.Context, r *model.DetectedRelease) error
	TouchReleases(ctx context.Context, creatorID, providerID string, externalIDs []string, seenAt time.Time) (int, error)
	MarkRemoved(ctx context.Context, creatorID, providerID string, externalIDs []string) (int, error)
	ListUnconfirmed(ctx context.Context, after UnconfirmedCursor, limit int) ([]model.DetectedRelease, error)
	ApplyResolution(ctx context.Context, r Resolution) (*ResolutionResult, error)
}

// AlertStore persists Alert rows.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *model.Alert) (bool, error)
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	ListAlertsForRelease(ctx context.Context, releaseID string) ([]model.Alert, error)
	RecoverStaleAlerts(ctx context.Context, claimedBefore, now time.Time) (int, error)
	ClaimDueAlerts(ctx context.Context, now time.Time, limit int) ([]model.Alert, error)
	AttachAlertToken(ctx context.Context, id, tokenID string, expiresAt time.Time) error
	MarkAlertSent(ctx context.Context, id string, sentAt time.Time) error
	MarkAlertFailed(ctx context.Context, id, lastError string, at time.Time) error
	CancelAlert(ctx context.Context, id, reason string, at time.Time) error
	AlertStatsSince(ctx context.Context, since time.Time) (AlertStats, error)
}

// CatalogStore reads the creator's own discography.
type CatalogStore interface {
	CatalogReleases(ctx context.Context, creatorID string) ([]model.CatalogRelease, error)
}

// CreatorStore reads billing entitlements.
type CreatorStore interface {
	Entitlement(ctx context.Context, creatorID string) (*model.CreatorEntitlement, error)
}

// CredentialStore reads provider credentials owned by the OAuth layer.
type CredentialStore interface {
	Credential(ctx context.Context, ref string) (*model.ProviderCredential, error)
}

// Store is the full persistence surface.
type Store interface {
	ScanStore
	ReleaseStore
	AlertStore
	CatalogStore
	CreatorStore
	CredentialStore

	Ping(ctx context.Context) error
	Close() error
}
