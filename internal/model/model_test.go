package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []ReleaseStatus{
	ReleaseUnconfirmed, ReleaseAutoConfirmed, ReleaseConfirmed, ReleaseDisputed, ReleaseDismissed,
}

func TestCanTransitionTo_OnlyAllowedEdges(t *testing.T) {
	allowed := map[ReleaseStatus]map[ReleaseStatus]bool{
		ReleaseUnconfirmed:   {ReleaseConfirmed: true, ReleaseDisputed: true, ReleaseDismissed: true},
		ReleaseAutoConfirmed: {ReleaseConfirmed: true, ReleaseDisputed: true, ReleaseDismissed: true},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[from][to]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, ReleaseUnconfirmed.Terminal())
	assert.False(t, ReleaseAutoConfirmed.Terminal())
	assert.True(t, ReleaseConfirmed.Terminal())
	assert.True(t, ReleaseDisputed.Terminal())
	assert.True(t, ReleaseDismissed.Terminal())
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("dispute")
	assert.True(t, ok)
	assert.Equal(t, ActionDispute, a)
	assert.Equal(t, ReleaseDisputed, a.TargetStatus())

	_, ok = ParseAction("delete")
	assert.False(t, ok)
}

func TestLeadISRC(t *testing.T) {
	assert.Equal(t, "", ReleaseRef{}.LeadISRC())
	assert.Equal(t, "USABC2400001", ReleaseRef{ISRCs: []string{"USABC2400001", "USABC2400002"}}.LeadISRC())
}
