// Package matcher reconciles newly detected provider releases against the
// creator's known discography.
//
// Strategies run in strict priority order and stop at the first hit:
// UPC, lead-track ISRC, then normalized title similarity within a release
// date window. Within a tier the candidate with the most recent release date
// wins.
package matcher

import (
	"context"
	"sort"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-monitor/internal/model"
)

// Defaults for the title/date strategy.
const (
	DefaultTitleThreshold = 0.92
	DefaultDateWindow     = 7 * 24 * time.Hour
)

// CatalogSource loads a creator's known discography.
type CatalogSource interface {
	CatalogReleases(ctx context.Context, creatorID string) ([]model.CatalogRelease, error)
}

// Options tunes the fuzzy strategy.
type Options struct {
	TitleThreshold float64
	DateWindow     time.Duration
}

// Result is the matcher verdict for one release.
type Result struct {
	Matched          bool                  `json:"matched"`
	MatchedCatalogID string                `json:"matched_catalog_id,omitempty"`
	Confidence       model.MatchConfidence `json:"confidence"`
	Similarity       float64               `json:"similarity,omitempty"`
}

// Matcher resolves catalogs through a CatalogSource.
type Matcher struct {
	catalog CatalogSource
	opts    Options
}

// New creates a Matcher. Zero option values take the package defaults.
func New(catalog CatalogSource, opts Options) *Matcher {
	if opts.TitleThreshold <= 0 {
		opts.TitleThreshold = DefaultTitleThreshold
	}
	if opts.DateWindow <= 0 {
		opts.DateWindow = DefaultDateWindow
	}
	return &Matcher{catalog: catalog, opts: opts}
}

// Match loads the creator's catalog and matches a single release.
func (m *Matcher) Match(ctx context.Context, detected model.ReleaseRef, creatorID string) (Result, error) {
	cc, err := m.ForCreator(ctx, creatorID)
	if err != nil {
		return Result{}, err
	}
	return cc.Match(detected), nil
}

// ForCreator loads the creator's catalog once so a scan can match many
// releases against it.
func (m *Matcher) ForCreator(ctx context.Context, creatorID string) (*CreatorCatalog, error) {
	releases, err := m.catalog.CatalogReleases(ctx, creatorID)
	if err != nil {
		return nil, eris.Wrapf(err, "matcher: load catalog for %s", creatorID)
	}
	return NewCreatorCatalog(releases, m.opts), nil
}

type entry struct {
	release model.CatalogRelease
	title   string
	upc     string
	isrcs   map[string]struct{}
}

// CreatorCatalog is one creator's discography prepared for matching.
type CreatorCatalog struct {
	entries []entry
	opts    Options
}

// NewCreatorCatalog indexes releases for matching.
func NewCreatorCatalog(releases []model.CatalogRelease, opts Options) *CreatorCatalog {
	if opts.TitleThreshold <= 0 {
		opts.TitleThreshold = DefaultTitleThreshold
	}
	if opts.DateWindow <= 0 {
		opts.DateWindow = DefaultDateWindow
	}

	entries := make([]entry, 0, len(releases))
	for _, r := range releases {
		e := entry{
			release: r,
			title:   NormalizeTitle(r.Title),
			upc:     NormalizeUPC(r.UPC),
			isrcs:   make(map[string]struct{}, len(r.ISRCs)),
		}
		for _, isrc := range r.ISRCs {
			if n := NormalizeISRC(isrc); n != "" {
				e.isrcs[n] = struct{}{}
			}
		}
		entries = append(entries, e)
	}
	return &CreatorCatalog{entries: entries, opts: opts}
}

// Len returns the number of catalog releases.
func (c *CreatorCatalog) Len() int { return len(c.entries) }

// Match applies the strategies in priority order.
func (c *CreatorCatalog) Match(detected model.ReleaseRef) Result {
	if r, ok := c.matchUPC(detected); ok {
		return r
	}
	if r, ok := c.matchISRC(detected); ok {
		return r
	}
	if r, ok := c.matchTitleDate(detected); ok {
		return r
	}
	return Result{Confidence: model.ConfidenceNone}
}

func (c *CreatorCatalog) matchUPC(detected model.ReleaseRef) (Result, bool) {
	upc := NormalizeUPC(detected.UPC)
	if upc == "" {
		return Result{}, false
	}
	var hits []candidate
	for _, e := range c.entries {
		if e.upc != "" && e.upc == upc {
			hits = append(hits, candidate{entry: e, score: 1})
		}
	}
	return pick(hits, model.ConfidenceUPC)
}

func (c *CreatorCatalog) matchISRC(detected model.ReleaseRef) (Result, bool) {
	isrc := NormalizeISRC(detected.LeadISRC())
	if isrc == "" {
		return Result{}, false
	}
	var hits []candidate
	for _, e := range c.entries {
		if _, ok := e.isrcs[isrc]; ok {
			hits = append(hits, candidate{entry: e, score: 1})
		}
	}
	return pick(hits, model.ConfidenceISRC)
}

func (c *CreatorCatalog) matchTitleDate(detected model.ReleaseRef) (Result, bool) {
	if detected.ReleaseDate == nil {
		return Result{}, false
	}
	title := NormalizeTitle(detected.Title)
	if title == "" {
		return Result{}, false
	}

	jw := metrics.NewJaroWinkler()
	var hits []candidate
	for _, e := range c.entries {
		if e.release.ReleaseDate == nil || e.title == "" {
			continue
		}
		if absDuration(e.release.ReleaseDate.Sub(*detected.ReleaseDate)) > c.opts.DateWindow {
			continue
		}
		sim := strutil.Similarity(title, e.title, jw)
		if sim >= c.opts.TitleThreshold {
			hits = append(hits, candidate{entry: e, score: sim})
		}
	}
	return pick(hits, model.ConfidenceTitleDate)
}

type candidate struct {
	entry entry
	score float64
}

// pick breaks ties by most recent release date, then by score, then by ID so
// the verdict is deterministic.
func pick(hits []candidate, conf model.MatchConfidence) (Result, bool) {
	if len(hits) == 0 {
		return Result{}, false
	}
	sort.SliceStable(hits, func(i, j int) bool {
		di, dj := hits[i].entry.release.ReleaseDate, hits[j].entry.release.ReleaseDate
		switch {
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.After(*dj)
		}
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.release.ID < hits[j].entry.release.ID
	})
	best := hits[0]
	return Result{
		Matched:          true,
		MatchedCatalogID: best.entry.release.ID,
		Confidence:       conf,
		Similarity:       best.score,
	}, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
