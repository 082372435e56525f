package model

// CreatorEntitlement is the billing layer's view of a creator. Creators with
// no entitlement row are not eligible for monitoring.
type CreatorEntitlement struct {
	CreatorID        string `json:"creator_id"`
	MonitoringActive bool   `json:"monitoring_active"`
	ContactEmail     string `json:"contact_email,omitempty"`
}
