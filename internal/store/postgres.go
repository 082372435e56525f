package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-monitor/internal/db"
	"github.com/sells-group/catalog-monitor/internal/model"
)

const (
	constraintScanKey    = "scan_states_creator_provider_key"
	constraintReleaseKey = "detected_releases_creator_provider_external_key"
	constraintDedupKey   = "alerts_dedup_key_key"
)

// claimableScanStatuses are the states a due row may be claimed from.
var claimableScanStatuses = []string{
	string(model.ScanStatusPending),
	string(model.ScanStatusCompleted),
	string(model.ScanStatusFailed),
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for migrations.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- scan states ---

const scanColumns = `id, creator_id, provider_id, credential_ref, scan_interval_hours,
	last_scan_at, next_scan_at, last_snapshot, last_snapshot_hash, status,
	consecutive_failures, COALESCE(last_error, ''), disabled, COALESCE(disabled_reason, ''),
	claimed_at, created_at, updated_at`

func scanScanState(row pgx.Row) (*model.ScanState, error) {
	var (
		st       model.ScanState
		snapshot []byte
		status   string
		reason   string
	)
	if err := row.Scan(
		&st.ID, &st.CreatorID, &st.ProviderID, &st.CredentialRef, &st.ScanIntervalHours,
		&st.LastScanAt, &st.NextScanAt, &snapshot, &st.LastSnapshotHash, &status,
		&st.ConsecutiveFailures, &st.LastError, &st.Disabled, &reason,
		&st.ClaimedAt, &st.CreatedAt, &st.UpdatedAt,
	); err != nil {
		return nil, err
	}
	st.Status = model.ScanStatus(status)
	st.DisabledReason = model.DisabledReason(reason)
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &st.LastSnapshot); err != nil {
			return nil, eris.Wrap(err, "postgres: decode snapshot")
		}
	}
	return &st, nil
}

func (s *PostgresStore) EnrollScan(ctx context.Context, p EnrollParams, now time.Time) (*model.ScanState, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO scan_states (id, creator_id, provider_id, credential_ref, scan_interval_hours,
			next_scan_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $6, $6)
		ON CONFLICT ON CONSTRAINT `+constraintScanKey+` DO UPDATE SET
			credential_ref = EXCLUDED.credential_ref,
			scan_interval_hours = EXCLUDED.scan_interval_hours,
			updated_at = EXCLUDED.updated_at
		RETURNING `+scanColumns,
		uuid.New().String(), p.CreatorID, p.ProviderID, p.CredentialRef, p.IntervalHours, now,
	)
	st, err := scanScanState(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enroll scan")
	}
	return st, nil
}

func (s *PostgresStore) ReenableScan(ctx context.Context, creatorID, providerID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_states SET disabled = false, disabled_reason = NULL, consecutive_failures = 0,
			status = 'pending', next_scan_at = $3, last_error = NULL, claimed_at = NULL, updated_at = $3
		WHERE creator_id = $1 AND provider_id = $2`,
		creatorID, providerID, now,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: reenable scan")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetScan(ctx context.Context, creatorID, providerID string) (*model.ScanState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scanColumns+` FROM scan_states WHERE creator_id = $1 AND provider_id = $2`,
		creatorID, providerID,
	)
	st, err := scanScanState(row)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get scan")
	}
	return st, nil
}

func (s *PostgresStore) RecoverStaleScans(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_states SET status = 'pending', claimed_at = NULL, updated_at = $2
		WHERE status = 'scanning' AND (claimed_at IS NULL OR claimed_at < $1)`,
		claimedBefore, now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: recover stale scans")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListDueScans(ctx context.Context, now time.Time, limit int) ([]model.ScanState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scanColumns+` FROM scan_states
		WHERE next_scan_at <= $1 AND NOT disabled AND status = ANY($2)
		ORDER BY next_scan_at
		LIMIT $3`,
		now, claimableScanStatuses, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due scans")
	}
	defer rows.Close()

	var out []model.ScanState
	for rows.Next() {
		st, err := scanScanState(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan due row")
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate due scans")
}

// ClaimScan moves a due row to scanning. The due check is repeated so that a
// row another worker already scanned and rescheduled cannot be claimed again
// from a stale listing.
func (s *PostgresStore) ClaimScan(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_states SET status = 'scanning', claimed_at = $2, updated_at = $2
		WHERE id = $1 AND NOT disabled AND next_scan_at <= $2 AND status = ANY($3)`,
		id, now, claimableScanStatuses,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: claim scan")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteScan(ctx context.Context, id string, r ScanSuccess) error {
	snapshot, err := json.Marshal(snapshotOrEmpty(r.Snapshot))
	if err != nil {
		return eris.Wrap(err, "postgres: encode snapshot")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_states SET status = 'completed', last_scan_at = $2, next_scan_at = $3,
			last_snapshot = $4, last_snapshot_hash = $5, consecutive_failures = 0,
			last_error = NULL, claimed_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'scanning'`,
		id, r.ScannedAt, r.NextScanAt, snapshot, r.Hash,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: complete scan")
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

func (s *PostgresStore) FailScan(ctx context.Context, id string, f ScanFailure) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_states SET status = 'failed', last_scan_at = $2, next_scan_at = $3,
			consecutive_failures = $4, last_error = $5, disabled = $6,
			disabled_reason = NULLIF($7, ''), claimed_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'scanning'`,
		id, f.ScannedAt, f.NextScanAt, f.Failures, f.LastError, f.Disable, string(f.Reason),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: fail scan")
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

func (s *PostgresStore) CountDisabledScans(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scan_states WHERE disabled`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count disabled scans")
	}
	return n, nil
}

// --- detected releases ---

const releaseColumns = `id, creator_id, provider_id, external_release_id, title, release_type,
	release_date, artwork_ref, track_count, COALESCE(upc, ''), isrcs, matched_catalog_id,
	match_confidence, status, dispute_notes, first_detected_at, last_seen_at, was_removed, resolved_at`

func scanRelease(row pgx.Row) (*model.DetectedRelease, error) {
	var (
		r          model.DetectedRelease
		confidence string
		status     string
	)
	if err := row.Scan(
		&r.ID, &r.CreatorID, &r.ProviderID, &r.ExternalReleaseID, &r.Title, &r.ReleaseType,
		&r.ReleaseDate, &r.ArtworkRef, &r.TrackCount, &r.UPC, &r.ISRCs, &r.MatchedCatalogID,
		&confidence, &status, &r.DisputeNotes, &r.FirstDetectedAt, &r.LastSeenAt, &r.WasRemoved, &r.ResolvedAt,
	); err != nil {
		return nil, err
	}
	r.MatchConfidence = model.MatchConfidence(confidence)
	r.Status = model.ReleaseStatus(status)
	return &r, nil
}

func (s *PostgresStore) GetRelease(ctx context.Context, id string) (*model.DetectedRelease, error) {
	r, err := scanRelease(s.pool.QueryRow(ctx,
		`SELECT `+releaseColumns+` FROM detected_releases WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get release")
	}
	return r, nil
}

func (s *PostgresStore) GetReleaseByExternalID(ctx context.Context, creatorID, providerID, externalID string) (*model.DetectedRelease, error) {
	r, err := scanRelease(s.pool.QueryRow(ctx,
		`SELECT `+releaseColumns+` FROM detected_releases
		WHERE creator_id = $1 AND provider_id = $2 AND external_release_id = $3`,
		creatorID, providerID, externalID))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get release by external id")
	}
	return r, nil
}

func (s *PostgresStore) InsertRelease(ctx context.Context, r *model.DetectedRelease) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	isrcs := r.ISRCs
	if isrcs == nil {
		isrcs = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO detected_releases (id, creator_id, provider_id, external_release_id, title,
			release_type, release_date, artwork_ref, track_count, upc, isrcs, matched_catalog_id,
			match_confidence, status, first_detected_at, last_seen_at, was_removed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14, $15, $16, false)`,
		r.ID, r.CreatorID, r.ProviderID, r.ExternalReleaseID, r.Title,
		r.ReleaseType, r.ReleaseDate, r.ArtworkRef, r.TrackCount, r.UPC, isrcs, r.MatchedCatalogID,
		string(r.MatchConfidence), string(r.Status), r.FirstDetectedAt, r.LastSeenAt,
	)
	if db.IsUniqueViolation(err, constraintReleaseKey) {
		return ErrDuplicate
	}
	return eris.Wrap(err, "postgres: insert release")
}

func (s *PostgresStore) TouchReleases(ctx context.Context, creatorID, providerID string, externalIDs []string, seenAt time.Time) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE detected_releases SET last_seen_at = $4, was_removed = false
		WHERE creator_id = $1 AND provider_id = $2 AND external_release_id = ANY($3)`,
		creatorID, providerID, externalIDs, seenAt,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: touch releases")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) MarkRemoved(ctx context.Context, creatorID, providerID string, externalIDs []string) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE detected_releases SET was_removed = true
		WHERE creator_id = $1 AND provider_id = $2 AND external_release_id = ANY($3) AND NOT was_removed`,
		creatorID, providerID, externalIDs,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark removed")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListUnconfirmed(ctx context.Context, after UnconfirmedCursor, limit int) ([]model.DetectedRelease, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+releaseColumns+` FROM detected_releases
		WHERE status = 'unconfirmed' AND (first_detected_at, id) > ($1, $2)
		ORDER BY first_detected_at, id
		LIMIT $3`,
		after.FirstDetectedAt, after.ID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unconfirmed")
	}
	defer rows.Close()

	var out []model.DetectedRelease
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan unconfirmed row")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate unconfirmed")
}

// ApplyResolution consumes the token (if any), transitions the release and
// cancels its outstanding alerts in one transaction. Re-applying the current
// status is a successful no-op.
func (s *PostgresStore) ApplyResolution(ctx context.Context, r Resolution) (*ResolutionResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin resolution")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if r.Token != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE alerts SET action_taken_at = $3, updated_at = $3
			WHERE id = $1 AND action_token = $2 AND action_taken_at IS NULL`,
			r.Token.AlertID, r.Token.TokenID, r.At,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: consume action token")
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrTokenConsumed
		}
	}

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM detected_releases WHERE id = $1 AND creator_id = $2 FOR UPDATE`,
		r.ReleaseID, r.CreatorID,
	).Scan(&current)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lock release")
	}

	res := &ResolutionResult{Previous: model.ReleaseStatus(current), Status: model.ReleaseStatus(current)}
	if res.Previous == r.Target {
		if err := tx.Commit(ctx); err != nil {
			return nil, eris.Wrap(err, "postgres: commit resolution")
		}
		return res, nil
	}
	if !res.Previous.CanTransitionTo(r.Target) {
		return nil, ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx,
		`UPDATE detected_releases SET status = $2, dispute_notes = COALESCE($3, dispute_notes), resolved_at = $4
		WHERE id = $1`,
		r.ReleaseID, string(r.Target), r.Notes, r.At,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: update release status")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE alerts SET status = 'cancelled', last_error = $2, claimed_at = NULL, updated_at = $3
		WHERE detected_release_id = $1 AND status IN ('pending', 'sending')`,
		r.ReleaseID, "resolved: "+string(r.Target), r.At,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cancel alerts")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit resolution")
	}
	res.Status = r.Target
	res.Changed = true
	res.CancelledAlerts = int(tag.RowsAffected())
	return res, nil
}

// --- alerts ---

const alertColumns = `id, detected_release_id, alert_type, channel, status, scheduled_for, dedup_key,
	COALESCE(action_token, ''), token_expires_at, action_taken_at, claimed_at, sent_at,
	COALESCE(last_error, ''), created_at`

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var (
		a         model.Alert
		alertType string
		channel   string
		status    string
	)
	if err := row.Scan(
		&a.ID, &a.DetectedReleaseID, &alertType, &channel, &status, &a.ScheduledFor, &a.DedupKey,
		&a.ActionToken, &a.TokenExpiresAt, &a.ActionTakenAt, &a.ClaimedAt, &a.SentAt,
		&a.LastError, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.AlertType = model.AlertType(alertType)
	a.Channel = model.Channel(channel)
	a.Status = model.AlertStatus(status)
	return &a, nil
}

func collectAlerts(rows pgx.Rows) ([]model.Alert, error) {
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// InsertAlert creates a pending alert. It returns false without error when an
// alert with the same dedup key already exists.
func (s *PostgresStore) InsertAlert(ctx context.Context, a *model.Alert) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, detected_release_id, alert_type, channel, status, scheduled_for,
			dedup_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		a.ID, a.DetectedReleaseID, string(a.AlertType), string(a.Channel), string(a.Status),
		a.ScheduledFor, a.DedupKey, a.CreatedAt,
	)
	if db.IsUniqueViolation(err, constraintDedupKey) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert alert")
	}
	return true, nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get alert")
	}
	return a, nil
}

func (s *PostgresStore) ListAlertsForRelease(ctx context.Context, releaseID string) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE detected_release_id = $1 ORDER BY created_at`,
		releaseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	out, err := collectAlerts(rows)
	return out, eris.Wrap(err, "postgres: scan alerts")
}

func (s *PostgresStore) RecoverStaleAlerts(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = 'pending', claimed_at = NULL, updated_at = $2
		WHERE status = 'sending' AND (claimed_at IS NULL OR claimed_at < $1)`,
		claimedBefore, now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: recover stale alerts")
	}
	return int(tag.RowsAffected()), nil
}

// ClaimDueAlerts atomically moves up to limit due pending alerts to sending.
// SKIP LOCKED lets concurrent dispatchers take disjoint batches.
func (s *PostgresStore) ClaimDueAlerts(ctx context.Context, now time.Time, limit int) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE alerts SET status = 'sending', claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM alerts
			WHERE status = 'pending' AND scheduled_for <= $1
			ORDER BY scheduled_for
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+alertColumns,
		now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim alerts")
	}
	out, err := collectAlerts(rows)
	return out, eris.Wrap(err, "postgres: scan claimed alerts")
}

func (s *PostgresStore) AttachAlertToken(ctx context.Context, id, tokenID string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET action_token = $2, token_expires_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'sending'`,
		id, tokenID, expiresAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: attach alert token")
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

func (s *PostgresStore) MarkAlertSent(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = 'sent', sent_at = $2, claimed_at = NULL, last_error = NULL, updated_at = $2
		WHERE id = $1 AND status = 'sending'`,
		id, sentAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: mark alert sent")
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

func (s *PostgresStore) MarkAlertFailed(ctx context.Context, id, lastError string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = 'failed', last_error = $2, claimed_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'sending'`,
		id, lastError, at,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: mark alert failed")
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

func (s *PostgresStore) CancelAlert(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = 'cancelled', last_error = $2, claimed_at = NULL, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'sending')`,
		id, reason, at,
	)
	return eris.Wrap(err, "postgres: cancel alert")
}

func (s *PostgresStore) AlertStatsSince(ctx context.Context, since time.Time) (AlertStats, error) {
	var st AlertStats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE status = 'sent'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'cancelled')
		FROM alerts WHERE updated_at >= $1`,
		since,
	).Scan(&st.Sent, &st.Failed, &st.Cancelled)
	if err != nil {
		return AlertStats{}, eris.Wrap(err, "postgres: alert stats")
	}
	return st, nil
}

// --- read-only collaborators ---

func (s *PostgresStore) CatalogReleases(ctx context.Context, creatorID string) ([]model.CatalogRelease, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.creator_id, r.title, r.release_date, COALESCE(r.upc, ''),
			COALESCE(array_agg(t.isrc ORDER BY t.position) FILTER (WHERE t.isrc IS NOT NULL), '{}')
		FROM catalog_releases r
		LEFT JOIN catalog_tracks t ON t.catalog_release_id = r.id
		WHERE r.creator_id = $1
		GROUP BY r.id
		ORDER BY r.id`,
		creatorID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: catalog releases")
	}
	defer rows.Close()

	var out []model.CatalogRelease
	for rows.Next() {
		var c model.CatalogRelease
		if err := rows.Scan(&c.ID, &c.CreatorID, &c.Title, &c.ReleaseDate, &c.UPC, &c.ISRCs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog release")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate catalog releases")
}

func (s *PostgresStore) Entitlement(ctx context.Context, creatorID string) (*model.CreatorEntitlement, error) {
	e := model.CreatorEntitlement{CreatorID: creatorID}
	err := s.pool.QueryRow(ctx,
		`SELECT monitoring_active, COALESCE(contact_email, '') FROM creator_entitlements WHERE creator_id = $1`,
		creatorID,
	).Scan(&e.MonitoringActive, &e.ContactEmail)
	if db.IsNoRows(err) {
		return &e, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: entitlement")
	}
	return &e, nil
}

func (s *PostgresStore) Credential(ctx context.Context, ref string) (*model.ProviderCredential, error) {
	var c model.ProviderCredential
	err := s.pool.QueryRow(ctx,
		`SELECT ref, provider_id, account_id, access_token, revoked FROM provider_credentials WHERE ref = $1`,
		ref,
	).Scan(&c.Ref, &c.ProviderID, &c.AccountID, &c.AccessToken, &c.Revoked)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: credential")
	}
	return &c, nil
}

func snapshotOrEmpty(refs []model.ReleaseRef) []model.ReleaseRef {
	if refs == nil {
		return []model.ReleaseRef{}
	}
	return refs
}
