package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Scan       ScanConfig       `yaml:"scan" mapstructure:"scan"`
	Alerts     AlertsConfig     `yaml:"alerts" mapstructure:"alerts"`
	Match      MatchConfig      `yaml:"match" mapstructure:"match"`
	Tokens     TokensConfig     `yaml:"tokens" mapstructure:"tokens"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the action intake server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ScanConfig configures the scan scheduler.
type ScanConfig struct {
	BatchSize            int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency          int    `yaml:"concurrency" mapstructure:"concurrency"`
	FetchTimeoutSecs     int    `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	StaleAfterMins       int    `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	DefaultIntervalHours int    `yaml:"default_interval_hours" mapstructure:"default_interval_hours"`
	Cron                 string `yaml:"cron" mapstructure:"cron"`
}

// AlertsConfig configures the alert dispatcher.
type AlertsConfig struct {
	BatchSize       int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency     int    `yaml:"concurrency" mapstructure:"concurrency"`
	SendTimeoutSecs int    `yaml:"send_timeout_secs" mapstructure:"send_timeout_secs"`
	StaleAfterMins  int    `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	Period          string `yaml:"period" mapstructure:"period"`
	DelayMins       int    `yaml:"delay_mins" mapstructure:"delay_mins"`
	Channel         string `yaml:"channel" mapstructure:"channel"`
	ActionBaseURL   string `yaml:"action_base_url" mapstructure:"action_base_url"`
	TokenTTLHours   int    `yaml:"token_ttl_hours" mapstructure:"token_ttl_hours"`
	ReminderBatch   int    `yaml:"reminder_batch" mapstructure:"reminder_batch"`
	Cron            string `yaml:"cron" mapstructure:"cron"`
}

// MatchConfig tunes the fuzzy title/date strategy.
type MatchConfig struct {
	TitleThreshold float64 `yaml:"title_threshold" mapstructure:"title_threshold"`
	DateWindowDays int     `yaml:"date_window_days" mapstructure:"date_window_days"`
}

// TokensConfig holds the action token signing secret.
type TokensConfig struct {
	Secret string `yaml:"secret" mapstructure:"secret"`
}

// ProvidersConfig configures the provider adapters.
type ProvidersConfig struct {
	DSP  DSPConfig  `yaml:"dsp" mapstructure:"dsp"`
	File FileConfig `yaml:"file" mapstructure:"file"`
}

// DSPConfig configures the HTTP catalog provider.
type DSPConfig struct {
	ID                      string  `yaml:"id" mapstructure:"id"`
	BaseURL                 string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize                int     `yaml:"page_size" mapstructure:"page_size"`
	MaxPages                int     `yaml:"max_pages" mapstructure:"max_pages"`
	RatePerSec              float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst                   int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs             int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries              int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerFailureThreshold int     `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetSecs        int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// FileConfig configures the YAML file provider.
type FileConfig struct {
	ID  string `yaml:"id" mapstructure:"id"`
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// NotifyConfig configures alert delivery.
type NotifyConfig struct {
	WebhookURL  string     `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int        `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SMTP        SMTPConfig `yaml:"smtp" mapstructure:"smtp"`
}

// SMTPConfig configures outgoing email.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
}

// MonitoringConfig configures operator health checks.
type MonitoringConfig struct {
	Enabled                   bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL                string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs         int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours       int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	DisabledScanThreshold     int     `yaml:"disabled_scan_threshold" mapstructure:"disabled_scan_threshold"`
	AlertFailureRateThreshold float64 `yaml:"alert_failure_rate_threshold" mapstructure:"alert_failure_rate_threshold"`
	RepeatAfterMins           int     `yaml:"repeat_after_mins" mapstructure:"repeat_after_mins"`
}

func newViper() *viper.Viper {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one, even empty, so that env-only values
	// reach Unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("scan.batch_size", 50)
	v.SetDefault("scan.concurrency", 5)
	v.SetDefault("scan.fetch_timeout_secs", 60)
	v.SetDefault("scan.stale_after_mins", 30)
	v.SetDefault("scan.default_interval_hours", 24)
	v.SetDefault("scan.cron", "*/15 * * * *")
	v.SetDefault("alerts.batch_size", 100)
	v.SetDefault("alerts.concurrency", 10)
	v.SetDefault("alerts.send_timeout_secs", 30)
	v.SetDefault("alerts.stale_after_mins", 15)
	v.SetDefault("alerts.period", "weekly")
	v.SetDefault("alerts.delay_mins", 0)
	v.SetDefault("alerts.channel", "webhook")
	v.SetDefault("alerts.action_base_url", "")
	v.SetDefault("alerts.token_ttl_hours", 168)
	v.SetDefault("alerts.reminder_batch", 500)
	v.SetDefault("alerts.cron", "*/5 * * * *")
	v.SetDefault("match.title_threshold", 0.92)
	v.SetDefault("match.date_window_days", 7)
	v.SetDefault("tokens.secret", "")
	v.SetDefault("providers.dsp.id", "dsp")
	v.SetDefault("providers.dsp.base_url", "")
	v.SetDefault("providers.dsp.page_size", 50)
	v.SetDefault("providers.dsp.max_pages", 200)
	v.SetDefault("providers.dsp.rate_per_sec", 5.0)
	v.SetDefault("providers.dsp.burst", 5)
	v.SetDefault("providers.dsp.timeout_secs", 30)
	v.SetDefault("providers.dsp.max_retries", 3)
	v.SetDefault("providers.dsp.initial_backoff_ms", 500)
	v.SetDefault("providers.dsp.max_backoff_ms", 10000)
	v.SetDefault("providers.dsp.breaker_failure_threshold", 5)
	v.SetDefault("providers.dsp.breaker_reset_secs", 30)
	v.SetDefault("providers.file.id", "file")
	v.SetDefault("providers.file.dir", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.user", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.disabled_scan_threshold", 10)
	v.SetDefault("monitoring.alert_failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.repeat_after_mins", 60)

	return v
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := newViper()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// TokenSecret reloads configuration and returns the action token secret.
// It is passed to the token signer so a rotated secret applies without a
// restart.
func TokenSecret() ([]byte, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	return []byte(cfg.Tokens.Secret), nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
