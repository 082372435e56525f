package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/actions"
	"github.com/sells-group/catalog-monitor/internal/alerts"
	"github.com/sells-group/catalog-monitor/internal/config"
	"github.com/sells-group/catalog-monitor/internal/db"
	"github.com/sells-group/catalog-monitor/internal/matcher"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/notify"
	"github.com/sells-group/catalog-monitor/internal/provider"
	"github.com/sells-group/catalog-monitor/internal/releases"
	"github.com/sells-group/catalog-monitor/internal/resilience"
	"github.com/sells-group/catalog-monitor/internal/scheduler"
	"github.com/sells-group/catalog-monitor/internal/store"
	"github.com/sells-group/catalog-monitor/internal/tokens"
)

// monitorEnv holds the store and engines used by the scan/alerts/serve
// commands.
type monitorEnv struct {
	Store      store.Store
	Scheduler  *scheduler.Scheduler
	Dispatcher *alerts.Dispatcher
	Actions    *actions.Processor
}

// Close releases resources held by the environment.
func (e *monitorEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, c.Store.DatabaseURL, db.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(pool), nil
	case "memory":
		zap.L().Warn("using in-memory store; state is lost on exit")
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initEnv validates config for mode and wires every engine against one
// store. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*monitorEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	env, err := buildEnv(st, c)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

func buildEnv(st store.Store, c *config.Config) (*monitorEnv, error) {
	signer := tokens.NewSigner(config.TokenSecret)

	alertCfg, err := dispatcherConfig(c)
	if err != nil {
		return nil, err
	}
	dispatcher := alerts.New(st, signer, buildNotifier(c), alertCfg)

	m := matcher.New(st, matcher.Options{
		TitleThreshold: c.Match.TitleThreshold,
		DateWindow:     time.Duration(c.Match.DateWindowDays) * 24 * time.Hour,
	})
	registry := releases.New(st, m)

	sched := scheduler.New(st, buildProviders(c, st), registry, dispatcher, scheduler.Config{
		BatchSize:    c.Scan.BatchSize,
		Concurrency:  c.Scan.Concurrency,
		FetchTimeout: time.Duration(c.Scan.FetchTimeoutSecs) * time.Second,
		StaleAfter:   time.Duration(c.Scan.StaleAfterMins) * time.Minute,
	})

	return &monitorEnv{
		Store:      st,
		Scheduler:  sched,
		Dispatcher: dispatcher,
		Actions:    actions.New(st, signer),
	}, nil
}

func dispatcherConfig(c *config.Config) (alerts.Config, error) {
	period, err := alerts.ParsePeriod(c.Alerts.Period)
	if err != nil {
		return alerts.Config{}, err
	}
	return alerts.Config{
		BatchSize:     c.Alerts.BatchSize,
		Concurrency:   c.Alerts.Concurrency,
		SendTimeout:   time.Duration(c.Alerts.SendTimeoutSecs) * time.Second,
		StaleAfter:    time.Duration(c.Alerts.StaleAfterMins) * time.Minute,
		Period:        period,
		Delay:         time.Duration(c.Alerts.DelayMins) * time.Minute,
		Channel:       model.Channel(c.Alerts.Channel),
		ActionBaseURL: c.Alerts.ActionBaseURL,
		TokenTTL:      time.Duration(c.Alerts.TokenTTLHours) * time.Hour,
		ReminderBatch: c.Alerts.ReminderBatch,
	}, nil
}

// buildProviders registers the adapters that have enough configuration to
// run. A scan for an unregistered provider fails and backs off.
func buildProviders(c *config.Config, creds provider.CredentialSource) *provider.Registry {
	reg := provider.NewRegistry()

	dsp := c.Providers.DSP
	if dsp.BaseURL != "" {
		reg.Register(provider.NewDSPProvider(provider.DSPOptions{
			ID:         dsp.ID,
			BaseURL:    dsp.BaseURL,
			PageSize:   dsp.PageSize,
			MaxPages:   dsp.MaxPages,
			RatePerSec: dsp.RatePerSec,
			Burst:      dsp.Burst,
			Timeout:    time.Duration(dsp.TimeoutSecs) * time.Second,
			Retry:      resilience.FromRetryConfig(dsp.MaxRetries, dsp.InitialBackoffMs, dsp.MaxBackoffMs),
			Breaker:    resilience.FromCircuitConfig(dsp.BreakerFailureThreshold, dsp.BreakerResetSecs),
		}, creds))
	} else {
		zap.L().Debug("CATALOG_PROVIDERS_DSP_BASE_URL not set, dsp provider disabled")
	}

	if c.Providers.File.Dir != "" {
		reg.Register(provider.NewFileProvider(c.Providers.File.ID, c.Providers.File.Dir))
	}

	zap.L().Info("providers registered", zap.Strings("providers", reg.IDs()))
	return reg
}

func buildNotifier(c *config.Config) *notify.Router {
	r := notify.NewRouter().Handle(model.ChannelNoop, notify.Noop{})
	if c.Notify.WebhookURL != "" {
		r.Handle(model.ChannelWebhook, notify.NewWebhook(c.Notify.WebhookURL, time.Duration(c.Notify.TimeoutSecs)*time.Second))
	}
	if c.Notify.SMTP.Host != "" {
		smtp := c.Notify.SMTP
		r.Handle(model.ChannelEmail, notify.NewEmail(notify.SMTPConfig{
			Host:     smtp.Host,
			Port:     smtp.Port,
			User:     smtp.User,
			Password: smtp.Password,
			From:     smtp.From,
		}))
	}
	return r
}
