// Package notify delivers new-release alerts to creators. Rendering and
// transport live here; the dispatcher only hands over a Message.
package notify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/model"
)

// Message is everything a channel needs to render one alert.
type Message struct {
	AlertID           string                  `json:"alert_id"`
	DetectedReleaseID string                  `json:"detected_release_id"`
	CreatorID         string                  `json:"creator_id"`
	ProviderID        string                  `json:"provider_id"`
	ExternalReleaseID string                  `json:"external_release_id"`
	Title             string                  `json:"title"`
	ReleaseType       string                  `json:"release_type,omitempty"`
	ReleaseDate       *time.Time              `json:"release_date,omitempty"`
	ArtworkRef        string                  `json:"artwork_ref,omitempty"`
	Channel           model.Channel           `json:"channel"`
	Recipient         string                  `json:"-"`
	ActionURLs        map[model.Action]string `json:"action_urls"`
	ExpiresAt         time.Time               `json:"expires_at"`
}

// Delivery is the transport's receipt.
type Delivery struct {
	Channel   model.Channel
	Reference string
}

// Notifier sends one message.
type Notifier interface {
	Send(ctx context.Context, msg Message) (*Delivery, error)
}

// Router picks a Notifier by the alert's channel.
type Router struct {
	channels map[model.Channel]Notifier
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{channels: make(map[model.Channel]Notifier)}
}

// Handle registers n for channel c.
func (r *Router) Handle(c model.Channel, n Notifier) *Router {
	r.channels[c] = n
	return r
}

// Send implements Notifier.
func (r *Router) Send(ctx context.Context, msg Message) (*Delivery, error) {
	n, ok := r.channels[msg.Channel]
	if !ok {
		return nil, eris.Errorf("notify: no notifier for channel %q", msg.Channel)
	}
	return n.Send(ctx, msg)
}

// Noop logs messages instead of sending them. Used for dry runs.
type Noop struct{}

// Send implements Notifier.
func (Noop) Send(_ context.Context, msg Message) (*Delivery, error) {
	zap.L().Info("notify: noop delivery",
		zap.String("alert_id", msg.AlertID),
		zap.String("creator_id", msg.CreatorID),
		zap.String("title", msg.Title),
		zap.Int("actions", len(msg.ActionURLs)),
	)
	return &Delivery{Channel: msg.Channel, Reference: "noop"}, nil
}
