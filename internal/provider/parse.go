package provider

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var releaseDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01",
	"2006",
}

// parseReleaseDate accepts day, month or year precision dates. An empty
// string yields nil without error.
func parseReleaseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range releaseDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d, nil
		}
	}
	return nil, eris.Errorf("provider: unparseable release date %q", s)
}
