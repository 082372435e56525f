package model

import "time"

// AlertStatus is the delivery state of an Alert.
type AlertStatus string

const (
	AlertPending   AlertStatus = "pending"
	AlertSending   AlertStatus = "sending"
	AlertSent      AlertStatus = "sent"
	AlertFailed    AlertStatus = "failed"
	AlertCancelled AlertStatus = "cancelled"
)

// AlertType identifies why an alert was raised.
type AlertType string

const (
	AlertNewRelease AlertType = "new_release"
)

// Channel names the notification transport.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelEmail   Channel = "email"
	ChannelNoop    Channel = "noop" // log only; dry runs
)

// Alert is one notification attempt for a DetectedRelease. The reference is
// one-directional: DetectedRelease never points back at its alerts.
type Alert struct {
	ID                string      `json:"id"`
	DetectedReleaseID string      `json:"detected_release_id"`
	AlertType         AlertType   `json:"alert_type"`
	Channel           Channel     `json:"channel"`
	Status            AlertStatus `json:"status"`
	ScheduledFor      time.Time   `json:"scheduled_for"`
	DedupKey          string      `json:"dedup_key"`
	ActionToken       string      `json:"-"`
	TokenExpiresAt    *time.Time  `json:"token_expires_at,omitempty"`
	ActionTakenAt     *time.Time  `json:"action_taken_at,omitempty"`
	ClaimedAt         *time.Time  `json:"claimed_at,omitempty"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
	LastError         string      `json:"last_error,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Action is a creator decision on a DetectedRelease.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionDispute Action = "dispute"
	ActionDismiss Action = "dismiss"
)

// ParseAction validates a wire action name.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionConfirm, ActionDispute, ActionDismiss:
		return Action(s), true
	default:
		return "", false
	}
}

// TargetStatus maps an action to the release status it produces.
func (a Action) TargetStatus() ReleaseStatus {
	switch a {
	case ActionConfirm:
		return ReleaseConfirmed
	case ActionDispute:
		return ReleaseDisputed
	case ActionDismiss:
		return ReleaseDismissed
	default:
		return ""
	}
}
