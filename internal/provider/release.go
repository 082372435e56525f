package provider

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalog-monitor/internal/diff"
	"github.com/sells-group/catalog-monitor/internal/model"
)

// rawRelease is the wire shape shared by the DSP API and YAML catalogs.
type rawRelease struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Type        string   `json:"type" yaml:"type"`
	ReleaseDate string   `json:"release_date" yaml:"release_date"`
	Artwork     string   `json:"artwork_url" yaml:"artwork"`
	TrackCount  int      `json:"total_tracks" yaml:"track_count"`
	UPC         string   `json:"upc" yaml:"upc"`
	ISRCs       []string `json:"isrcs" yaml:"isrcs"`
}

// decodeJSONItems decodes each item on its own so a type mismatch in one
// record only drops that record.
func decodeJSONItems(providerID string, raw []json.RawMessage) ([]rawRelease, int) {
	out := make([]rawRelease, 0, len(raw))
	skipped := 0
	for i, msg := range raw {
		var r rawRelease
		if err := json.Unmarshal(msg, &r); err != nil {
			warnUndecodable(providerID, i, err)
			skipped++
			continue
		}
		out = append(out, r)
	}
	return out, skipped
}

// decodeYAMLItems is decodeJSONItems for YAML catalogs.
func decodeYAMLItems(providerID string, nodes []yaml.Node) ([]rawRelease, int) {
	out := make([]rawRelease, 0, len(nodes))
	skipped := 0
	for i := range nodes {
		var r rawRelease
		if err := nodes[i].Decode(&r); err != nil {
			warnUndecodable(providerID, i, err)
			skipped++
			continue
		}
		out = append(out, r)
	}
	return out, skipped
}

func warnUndecodable(providerID string, index int, err error) {
	zap.L().With(zap.String("component", "provider"), zap.String("provider_id", providerID)).
		Warn("skipping malformed release: undecodable", zap.Int("index", index), zap.Error(err))
}

// toReleaseRefs converts raw items, skipping malformed ones, and returns the
// deduplicated list plus the number skipped. One bad record never fails the
// whole fetch.
func toReleaseRefs(providerID string, items []rawRelease) ([]model.ReleaseRef, int) {
	log := zap.L().With(zap.String("component", "provider"), zap.String("provider_id", providerID))

	out := make([]model.ReleaseRef, 0, len(items))
	skipped := 0
	for i, it := range items {
		id := strings.TrimSpace(it.ID)
		title := strings.TrimSpace(it.Title)
		if id == "" || title == "" {
			log.Warn("skipping malformed release: missing id or title", zap.Int("index", i), zap.String("external_id", id))
			skipped++
			continue
		}
		date, err := parseReleaseDate(it.ReleaseDate)
		if err != nil {
			log.Warn("skipping malformed release: bad date", zap.String("external_id", id), zap.Error(err))
			skipped++
			continue
		}
		out = append(out, model.ReleaseRef{
			ExternalID:  id,
			Title:       title,
			ReleaseType: strings.ToLower(strings.TrimSpace(it.Type)),
			ReleaseDate: date,
			ArtworkRef:  it.Artwork,
			TrackCount:  it.TrackCount,
			UPC:         strings.TrimSpace(it.UPC),
			ISRCs:       it.ISRCs,
		})
	}
	return diff.Dedupe(out), skipped
}
