package alerts

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-monitor/internal/model"
)

// Period is the dedup window granularity. One alert per unresolved
// detection is created per period.
type Period string

const (
	PeriodWeekly Period = "weekly"
	PeriodDaily  Period = "daily"
)

// ParsePeriod validates a configured period, defaulting to weekly.
func ParsePeriod(s string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(s))) {
	case "", PeriodWeekly:
		return PeriodWeekly, nil
	case PeriodDaily:
		return PeriodDaily, nil
	default:
		return "", eris.Errorf("alerts: unknown period %q", s)
	}
}

// Key returns the period label containing t, e.g. "2026-W10" or "2026-03-06".
func (p Period) Key(t time.Time) string {
	t = t.UTC()
	if p == PeriodDaily {
		return t.Format("2006-01-02")
	}
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// DedupKey is the stable identity of an alert for one unresolved detection
// within one period. Fields are length-prefixed so no separator can collide.
func DedupKey(creatorID, providerID, externalReleaseID string, alertType model.AlertType, period string) string {
	h := sha256.New()
	for _, f := range []string{creatorID, providerID, externalReleaseID, string(alertType), period} {
		_ = binary.Write(h, binary.BigEndian, uint64(len(f)))
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
