package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/api"
	"github.com/sells-group/catalog-monitor/internal/monitoring"
)

var (
	servePort   int
	serveNoJobs bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve creator actions and run scan and alert cycles on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if !serveNoJobs {
			c, err := newCron(ctx, env, cfg.Scan.Cron, cfg.Alerts.Cron)
			if err != nil {
				return err
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		handler := api.NewRouter(env.Actions, env.Store, api.Options{CORSOrigins: cfg.Server.CORSOrigins})
		return startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port))
	},
}

// cycleRunner is one of the periodic engines.
type cycleRunner func(ctx context.Context) error

// newCron schedules the scan and alert cycles. A cycle still running when
// its next tick fires is skipped.
func newCron(ctx context.Context, env *monitorEnv, scanSpec, alertSpec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	jobs := []struct {
		name string
		spec string
		run  cycleRunner
	}{
		{"scan", scanSpec, func(ctx context.Context) error {
			_, err := env.Scheduler.RunCycle(ctx)
			return err
		}},
		{"alerts", alertSpec, func(ctx context.Context) error {
			_, err := env.Dispatcher.RunCycle(ctx)
			return err
		}},
	}

	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, func() { runJob(ctx, j.name, j.run) }); err != nil {
			return nil, eris.Wrapf(err, "schedule %s cycle %q", j.name, j.spec)
		}
		zap.L().Info("cycle scheduled", zap.String("job", j.name), zap.String("spec", j.spec))
	}
	return c, nil
}

func runJob(ctx context.Context, name string, run cycleRunner) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := run(ctx); err != nil {
		zap.L().Error("cycle failed", zap.String("job", name), zap.Error(err))
		return
	}
	zap.L().Debug("cycle finished", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
}

// resolvePort returns the flag port when set, otherwise the config port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler until ctx is cancelled, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoJobs, "no-jobs", false, "serve actions only; run cycles from an external scheduler")
	rootCmd.AddCommand(serveCmd)
}
