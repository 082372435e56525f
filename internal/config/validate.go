package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings required by a command mode: migrate, enroll,
// scan, alerts or serve.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "migrate":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "enroll", "scan", "alerts", "serve":
		errs = append(errs, c.validateStore()...)
		if mode == "alerts" || mode == "serve" {
			errs = append(errs, c.validateAlerts()...)
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Scan.Concurrency < 1 || c.Scan.Concurrency > 50 {
		errs = append(errs, "scan.concurrency must be between 1 and 50")
	}
	if c.Alerts.Concurrency < 1 || c.Alerts.Concurrency > 50 {
		errs = append(errs, "alerts.concurrency must be between 1 and 50")
	}
	if c.Match.TitleThreshold <= 0 || c.Match.TitleThreshold > 1 {
		errs = append(errs, "match.title_threshold must be in (0, 1]")
	}
	if c.Match.DateWindowDays < 0 {
		errs = append(errs, "match.date_window_days must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	case "memory":
	default:
		return []string{"store.driver must be postgres or memory"}
	}
	return nil
}

func (c *Config) validateAlerts() []string {
	var errs []string
	if c.Tokens.Secret == "" {
		errs = append(errs, "tokens.secret is required")
	}
	if c.Alerts.ActionBaseURL == "" {
		errs = append(errs, "alerts.action_base_url is required")
	}
	switch strings.ToLower(c.Alerts.Period) {
	case "weekly", "daily":
	default:
		errs = append(errs, "alerts.period must be weekly or daily")
	}
	switch c.Alerts.Channel {
	case "webhook":
		if c.Notify.WebhookURL == "" {
			errs = append(errs, "notify.webhook_url is required for the webhook channel")
		}
	case "email":
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "" {
			errs = append(errs, "notify.smtp.host and notify.smtp.from are required for the email channel")
		}
	case "noop":
	default:
		errs = append(errs, "alerts.channel must be webhook, email or noop")
	}
	if c.Alerts.TokenTTLHours <= 0 {
		errs = append(errs, "alerts.token_ttl_hours must be > 0")
	}
	return errs
}
