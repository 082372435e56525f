package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/catalog-monitor/internal/model"
)

// MemoryStore is an in-process Store with the same conditional-update
// semantics as PostgresStore. A single mutex stands in for row locks.
type MemoryStore struct {
	mu           sync.Mutex
	scans        map[string]*model.ScanState
	releases     map[string]*model.DetectedRelease
	alerts       map[string]*model.Alert
	alertUpdated map[string]time.Time
	catalog      map[string][]model.CatalogRelease
	entitlements map[string]model.CreatorEntitlement
	credentials  map[string]model.ProviderCredential
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		scans:        make(map[string]*model.ScanState),
		releases:     make(map[string]*model.DetectedRelease),
		alerts:       make(map[string]*model.Alert),
		alertUpdated: make(map[string]time.Time),
		catalog:      make(map[string][]model.CatalogRelease),
		entitlements: make(map[string]model.CreatorEntitlement),
		credentials:  make(map[string]model.ProviderCredential),
	}
}

// AddCatalogRelease seeds the creator's discography.
func (m *MemoryStore) AddCatalogRelease(c model.CatalogRelease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	m.catalog[c.CreatorID] = append(m.catalog[c.CreatorID], c)
}

// SetEntitlement seeds or replaces a creator entitlement.
func (m *MemoryStore) SetEntitlement(e model.CreatorEntitlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entitlements[e.CreatorID] = e
}

// PutCredential seeds or replaces a provider credential.
func (m *MemoryStore) PutCredential(c model.ProviderCredential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[c.Ref] = c
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error { return nil }

// --- scan states ---

func cloneScan(s *model.ScanState) *model.ScanState {
	c := *s
	c.LastSnapshot = slices.Clone(s.LastSnapshot)
	return &c
}

func claimable(s *model.ScanState) bool {
	switch s.Status {
	case model.ScanStatusPending, model.ScanStatusCompleted, model.ScanStatusFailed:
		return !s.Disabled
	default:
		return false
	}
}

func (m *MemoryStore) findScan(creatorID, providerID string) *model.ScanState {
	for _, s := range m.scans {
		if s.CreatorID == creatorID && s.ProviderID == providerID {
			return s
		}
	}
	return nil
}

func (m *MemoryStore) EnrollScan(_ context.Context, p EnrollParams, now time.Time) (*model.ScanState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.findScan(p.CreatorID, p.ProviderID); s != nil {
		s.CredentialRef = p.CredentialRef
		s.ScanIntervalHours = p.IntervalHours
		s.UpdatedAt = now
		return cloneScan(s), nil
	}
	s := &model.ScanState{
		ID:                uuid.New().String(),
		CreatorID:         p.CreatorID,
		ProviderID:        p.ProviderID,
		CredentialRef:     p.CredentialRef,
		ScanIntervalHours: p.IntervalHours,
		NextScanAt:        now,
		Status:            model.ScanStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.scans[s.ID] = s
	return cloneScan(s), nil
}

func (m *MemoryStore) ReenableScan(_ context.Context, creatorID, providerID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findScan(creatorID, providerID)
	if s == nil {
		return ErrNotFound
	}
	s.Disabled = false
	s.DisabledReason = ""
	s.ConsecutiveFailures = 0
	s.Status = model.ScanStatusPending
	s.NextScanAt = now
	s.LastError = ""
	s.ClaimedAt = nil
	s.UpdatedAt = now
	return nil
}

func (m *MemoryStore) GetScan(_ context.Context, creatorID, providerID string) (*model.ScanState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findScan(creatorID, providerID)
	if s == nil {
		return nil, ErrNotFound
	}
	return cloneScan(s), nil
}

func (m *MemoryStore) RecoverStaleScans(_ context.Context, claimedBefore, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.scans {
		if s.Status == model.ScanStatusScanning && (s.ClaimedAt == nil || s.ClaimedAt.Before(claimedBefore)) {
			s.Status = model.ScanStatusPending
			s.ClaimedAt = nil
			s.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListDueScans(_ context.Context, now time.Time, limit int) ([]model.ScanState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []model.ScanState
	for _, s := range m.scans {
		if claimable(s) && !s.NextScanAt.After(now) {
			due = append(due, *cloneScan(s))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextScanAt.Equal(due[j].NextScanAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextScanAt.Before(due[j].NextScanAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) ClaimScan(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scans[id]
	if !ok || !claimable(s) || s.NextScanAt.After(now) {
		return false, nil
	}
	s.Status = model.ScanStatusScanning
	claimed := now
	s.ClaimedAt = &claimed
	s.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) CompleteScan(_ context.Context, id string, r ScanSuccess) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scans[id]
	if !ok || s.Status != model.ScanStatusScanning {
		return ErrClaimLost
	}
	scanned := r.ScannedAt
	s.Status = model.ScanStatusCompleted
	s.LastScanAt = &scanned
	s.NextScanAt = r.NextScanAt
	s.LastSnapshot = slices.Clone(snapshotOrEmpty(r.Snapshot))
	s.LastSnapshotHash = r.Hash
	s.ConsecutiveFailures = 0
	s.LastError = ""
	s.ClaimedAt = nil
	s.UpdatedAt = r.ScannedAt
	return nil
}

func (m *MemoryStore) FailScan(_ context.Context, id string, f ScanFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scans[id]
	if !ok || s.Status != model.ScanStatusScanning {
		return ErrClaimLost
	}
	scanned := f.ScannedAt
	s.Status = model.ScanStatusFailed
	s.LastScanAt = &scanned
	s.NextScanAt = f.NextScanAt
	s.ConsecutiveFailures = f.Failures
	s.LastError = f.LastError
	s.Disabled = f.Disable
	s.DisabledReason = f.Reason
	s.ClaimedAt = nil
	s.UpdatedAt = f.ScannedAt
	return nil
}

func (m *MemoryStore) CountDisabledScans(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.scans {
		if s.Disabled {
			n++
		}
	}
	return n, nil
}

// --- detected releases ---

func cloneRelease(r *model.DetectedRelease) *model.DetectedRelease {
	c := *r
	c.ISRCs = slices.Clone(r.ISRCs)
	return &c
}

func (m *MemoryStore) findRelease(creatorID, providerID, externalID string) *model.DetectedRelease {
	for _, r := range m.releases {
		if r.CreatorID == creatorID && r.ProviderID == providerID && r.ExternalReleaseID == externalID {
			return r
		}
	}
	return nil
}

func (m *MemoryStore) GetRelease(_ context.Context, id string) (*model.DetectedRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.releases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRelease(r), nil
}

func (m *MemoryStore) GetReleaseByExternalID(_ context.Context, creatorID, providerID, externalID string) (*model.DetectedRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.findRelease(creatorID, providerID, externalID)
	if r == nil {
		return nil, ErrNotFound
	}
	return cloneRelease(r), nil
}

func (m *MemoryStore) InsertRelease(_ context.Context, r *model.DetectedRelease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findRelease(r.CreatorID, r.ProviderID, r.ExternalReleaseID) != nil {
		return ErrDuplicate
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	m.releases[r.ID] = cloneRelease(r)
	return nil
}

func (m *MemoryStore) TouchReleases(_ context.Context, creatorID, providerID string, externalIDs []string, seenAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range externalIDs {
		if r := m.findRelease(creatorID, providerID, id); r != nil {
			r.LastSeenAt = seenAt
			r.WasRemoved = false
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MarkRemoved(_ context.Context, creatorID, providerID string, externalIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range externalIDs {
		if r := m.findRelease(creatorID, providerID, id); r != nil && !r.WasRemoved {
			r.WasRemoved = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListUnconfirmed(_ context.Context, after UnconfirmedCursor, limit int) ([]model.DetectedRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DetectedRelease
	for _, r := range m.releases {
		if r.Status == model.ReleaseUnconfirmed && cursorLess(after, r.FirstDetectedAt, r.ID) {
			out = append(out, *cloneRelease(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return cursorLess(After(out[i]), out[j].FirstDetectedAt, out[j].ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cursorLess reports whether (at, id) sorts strictly after c.
func cursorLess(c UnconfirmedCursor, at time.Time, id string) bool {
	if at.Equal(c.FirstDetectedAt) {
		return c.ID < id
	}
	return c.FirstDetectedAt.Before(at)
}

func (m *MemoryStore) ApplyResolution(_ context.Context, r Resolution) (*ResolutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tokenAlert *model.Alert
	if r.Token != nil {
		a, ok := m.alerts[r.Token.AlertID]
		if !ok || a.ActionToken != r.Token.TokenID || a.ActionTakenAt != nil {
			return nil, ErrTokenConsumed
		}
		tokenAlert = a
	}

	rel, ok := m.releases[r.ReleaseID]
	if !ok || rel.CreatorID != r.CreatorID {
		return nil, ErrNotFound
	}

	res := &ResolutionResult{Previous: rel.Status, Status: rel.Status}
	if rel.Status != r.Target && !rel.Status.CanTransitionTo(r.Target) {
		return nil, ErrInvalidTransition
	}

	if tokenAlert != nil {
		taken := r.At
		tokenAlert.ActionTakenAt = &taken
		m.alertUpdated[tokenAlert.ID] = r.At
	}
	if rel.Status == r.Target {
		return res, nil
	}

	rel.Status = r.Target
	if r.Notes != nil {
		notes := *r.Notes
		rel.DisputeNotes = &notes
	}
	resolved := r.At
	rel.ResolvedAt = &resolved

	for _, a := range m.alerts {
		if a.DetectedReleaseID == rel.ID && (a.Status == model.AlertPending || a.Status == model.AlertSending) {
			a.Status = model.AlertCancelled
			a.LastError = "resolved: " + string(r.Target)
			a.ClaimedAt = nil
			m.alertUpdated[a.ID] = r.At
			res.CancelledAlerts++
		}
	}
	res.Status = r.Target
	res.Changed = true
	return res, nil
}

// --- alerts ---

func cloneAlert(a *model.Alert) *model.Alert {
	c := *a
	return &c
}

func (m *MemoryStore) InsertAlert(_ context.Context, a *model.Alert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.alerts {
		if existing.DedupKey == a.DedupKey {
			return false, nil
		}
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	m.alerts[a.ID] = cloneAlert(a)
	m.alertUpdated[a.ID] = a.CreatedAt
	return true, nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id string) (*model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAlert(a), nil
}

func (m *MemoryStore) ListAlertsForRelease(_ context.Context, releaseID string) ([]model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Alert
	for _, a := range m.alerts {
		if a.DetectedReleaseID == releaseID {
			out = append(out, *cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) RecoverStaleAlerts(_ context.Context, claimedBefore, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.alerts {
		if a.Status == model.AlertSending && (a.ClaimedAt == nil || a.ClaimedAt.Before(claimedBefore)) {
			a.Status = model.AlertPending
			a.ClaimedAt = nil
			m.alertUpdated[a.ID] = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ClaimDueAlerts(_ context.Context, now time.Time, limit int) ([]model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*model.Alert
	for _, a := range m.alerts {
		if a.Status == model.AlertPending && !a.ScheduledFor.After(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]model.Alert, 0, len(due))
	for _, a := range due {
		a.Status = model.AlertSending
		claimed := now
		a.ClaimedAt = &claimed
		m.alertUpdated[a.ID] = now
		out = append(out, *cloneAlert(a))
	}
	return out, nil
}

func (m *MemoryStore) sendingAlert(id string) (*model.Alert, error) {
	a, ok := m.alerts[id]
	if !ok || a.Status != model.AlertSending {
		return nil, ErrClaimLost
	}
	return a, nil
}

func (m *MemoryStore) AttachAlertToken(_ context.Context, id, tokenID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.sendingAlert(id)
	if err != nil {
		return err
	}
	a.ActionToken = tokenID
	exp := expiresAt
	a.TokenExpiresAt = &exp
	return nil
}

func (m *MemoryStore) MarkAlertSent(_ context.Context, id string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.sendingAlert(id)
	if err != nil {
		return err
	}
	a.Status = model.AlertSent
	sent := sentAt
	a.SentAt = &sent
	a.ClaimedAt = nil
	a.LastError = ""
	m.alertUpdated[id] = sentAt
	return nil
}

func (m *MemoryStore) MarkAlertFailed(_ context.Context, id, lastError string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.sendingAlert(id)
	if err != nil {
		return err
	}
	a.Status = model.AlertFailed
	a.LastError = lastError
	a.ClaimedAt = nil
	m.alertUpdated[id] = at
	return nil
}

func (m *MemoryStore) CancelAlert(_ context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || (a.Status != model.AlertPending && a.Status != model.AlertSending) {
		return nil
	}
	a.Status = model.AlertCancelled
	a.LastError = reason
	a.ClaimedAt = nil
	m.alertUpdated[id] = at
	return nil
}

func (m *MemoryStore) AlertStatsSince(_ context.Context, since time.Time) (AlertStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st AlertStats
	for id, a := range m.alerts {
		if m.alertUpdated[id].Before(since) {
			continue
		}
		switch a.Status {
		case model.AlertSent:
			st.Sent++
		case model.AlertFailed:
			st.Failed++
		case model.AlertCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

// --- read-only collaborators ---

func (m *MemoryStore) CatalogReleases(_ context.Context, creatorID string) ([]model.CatalogRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.catalog[creatorID]), nil
}

func (m *MemoryStore) Entitlement(_ context.Context, creatorID string) (*model.CreatorEntitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entitlements[creatorID]
	if !ok {
		return &model.CreatorEntitlement{CreatorID: creatorID}, nil
	}
	return &e, nil
}

func (m *MemoryStore) Credential(_ context.Context, ref string) (*model.ProviderCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
