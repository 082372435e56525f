// Package releases owns the lifecycle of every release ever observed on a
// provider. Matching and status assignment happen exactly once, at first
// detection; later scans only move lastSeenAt and wasRemoved.
package releases

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/diff"
	"github.com/sells-group/catalog-monitor/internal/matcher"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/store"
)

// CatalogMatcher loads a creator's catalog prepared for matching.
type CatalogMatcher interface {
	ForCreator(ctx context.Context, creatorID string) (*matcher.CreatorCatalog, error)
}

// Registry records detections.
type Registry struct {
	store   store.ReleaseStore
	matcher CatalogMatcher
	log     *zap.Logger
}

// New creates a Registry.
func New(s store.ReleaseStore, m CatalogMatcher) *Registry {
	return &Registry{
		store:   s,
		matcher: m,
		log:     zap.L().With(zap.String("component", "releases")),
	}
}

// Observation is one scan's view of a creator/provider catalog.
type Observation struct {
	CreatorID  string
	ProviderID string
	Current    []model.ReleaseRef
	Diff       diff.Result
	SeenAt     time.Time
}

// Outcome summarises what Observe changed.
type Outcome struct {
	Inserted      int
	AutoConfirmed int
	Reappeared    int
	Touched       int
	Removed       int
	// Unconfirmed holds releases inserted in this call that need an alert.
	Unconfirmed []model.DetectedRelease
}

// Observe applies a diff to the registry. New external IDs are matched and
// inserted; IDs already known are touched (clearing wasRemoved); removed IDs
// are flagged without any status change.
func (r *Registry) Observe(ctx context.Context, obs Observation) (*Outcome, error) {
	out := &Outcome{}
	log := r.log.With(zap.String("creator_id", obs.CreatorID), zap.String("provider_id", obs.ProviderID))

	newIDs := make(map[string]struct{}, len(obs.Diff.NewReleases))
	for _, ref := range obs.Diff.NewReleases {
		newIDs[ref.ExternalID] = struct{}{}
	}
	var known []string
	for _, ref := range obs.Current {
		if _, isNew := newIDs[ref.ExternalID]; !isNew {
			known = append(known, ref.ExternalID)
		}
	}

	touched, err := r.store.TouchReleases(ctx, obs.CreatorID, obs.ProviderID, known, obs.SeenAt)
	if err != nil {
		return nil, eris.Wrap(err, "releases: touch known")
	}
	out.Touched = touched

	if len(obs.Diff.NewReleases) > 0 {
		catalog, err := r.matcher.ForCreator(ctx, obs.CreatorID)
		if err != nil {
			return nil, eris.Wrap(err, "releases: load catalog")
		}
		for _, ref := range obs.Diff.NewReleases {
			if err := r.observeNew(ctx, obs, ref, catalog, out, log); err != nil {
				return nil, err
			}
		}
	}

	removed, err := r.store.MarkRemoved(ctx, obs.CreatorID, obs.ProviderID, obs.Diff.RemovedExternalIDs)
	if err != nil {
		return nil, eris.Wrap(err, "releases: mark removed")
	}
	out.Removed = removed

	return out, nil
}

func (r *Registry) observeNew(ctx context.Context, obs Observation, ref model.ReleaseRef, catalog *matcher.CreatorCatalog, out *Outcome, log *zap.Logger) error {
	existing, err := r.store.GetReleaseByExternalID(ctx, obs.CreatorID, obs.ProviderID, ref.ExternalID)
	switch {
	case err == nil:
		// Known from an earlier scan: absent from the last snapshot because it
		// was removed, or the snapshot was reset.
		if err := r.touch(ctx, obs, ref.ExternalID); err != nil {
			return err
		}
		if existing.WasRemoved {
			out.Reappeared++
		} else {
			out.Touched++
		}
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return eris.Wrapf(err, "releases: lookup %s", ref.ExternalID)
	}

	verdict := catalog.Match(ref)
	rel := &model.DetectedRelease{
		CreatorID:         obs.CreatorID,
		ProviderID:        obs.ProviderID,
		ExternalReleaseID: ref.ExternalID,
		Title:             ref.Title,
		ReleaseType:       ref.ReleaseType,
		ReleaseDate:       ref.ReleaseDate,
		ArtworkRef:        ref.ArtworkRef,
		TrackCount:        ref.TrackCount,
		UPC:               ref.UPC,
		ISRCs:             ref.ISRCs,
		MatchConfidence:   verdict.Confidence,
		Status:            model.ReleaseUnconfirmed,
		FirstDetectedAt:   obs.SeenAt,
		LastSeenAt:        obs.SeenAt,
	}
	if verdict.Matched {
		id := verdict.MatchedCatalogID
		rel.MatchedCatalogID = &id
		rel.Status = model.ReleaseAutoConfirmed
	}

	err = r.store.InsertRelease(ctx, rel)
	if errors.Is(err, store.ErrDuplicate) {
		// Another worker inserted it first; its verdict stands.
		out.Touched++
		return r.touch(ctx, obs, ref.ExternalID)
	}
	if err != nil {
		return eris.Wrapf(err, "releases: insert %s", ref.ExternalID)
	}

	out.Inserted++
	log.Info("release detected",
		zap.String("external_id", ref.ExternalID),
		zap.String("detected_release_id", rel.ID),
		zap.String("status", string(rel.Status)),
		zap.String("confidence", string(rel.MatchConfidence)),
	)
	if rel.Status == model.ReleaseAutoConfirmed {
		out.AutoConfirmed++
		return nil
	}
	out.Unconfirmed = append(out.Unconfirmed, *rel)
	return nil
}

func (r *Registry) touch(ctx context.Context, obs Observation, externalID string) error {
	if _, err := r.store.TouchReleases(ctx, obs.CreatorID, obs.ProviderID, []string{externalID}, obs.SeenAt); err != nil {
		return eris.Wrapf(err, "releases: touch %s", externalID)
	}
	return nil
}

// TouchAll bumps lastSeenAt for an unchanged catalog in one statement.
func (r *Registry) TouchAll(ctx context.Context, creatorID, providerID string, current []model.ReleaseRef, seenAt time.Time) (int, error) {
	n, err := r.store.TouchReleases(ctx, creatorID, providerID, diff.ExternalIDs(current), seenAt)
	if err != nil {
		return 0, eris.Wrap(err, "releases: touch unchanged catalog")
	}
	return n, nil
}
