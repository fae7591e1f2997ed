package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/platinummonkey/pluginhost/pkg/httputil"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/registry"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start every provider and serve the admin API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	log := a.log
	shutdown := observability.NewShutdownManager(log, a.cfg.Server.ShutdownTimeout)

	otelProviders, err := observability.InitOTel(ctx, a.cfg.OTel(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var (
		gatherer prometheus.Gatherer
		metrics  *observability.Metrics
	)
	if a.cfg.Observability.MetricsEnabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(promReg)
		gatherer = promReg
	}

	reg, err := a.registry(
		registry.WithMetrics(metrics),
		registry.WithTracer(otel.Tracer(observability.TracerName)),
	)
	if err != nil {
		return err
	}

	report, err := reg.StartAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to start providers: %w", err)
	}
	entry := log.WithFields(logrus.Fields{"status": report.Status(), "run_id": report.RunID})
	if report.Status() == registry.StatusFailed {
		entry.Error(report.Summary())
		reg.ShutdownAll(context.WithoutCancel(ctx))
		observability.ShutdownOTel(context.WithoutCancel(ctx), otelProviders, log)
		return errors.New(report.Summary())
	}
	entry.Info(report.Summary())

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      a.handler(reg, gatherer, metrics),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	scheduler, err := a.scheduleHealthChecks(reg)
	if err != nil {
		reg.ShutdownAll(context.WithoutCancel(ctx))
		return err
	}

	// registration order is teardown order: stop taking requests first
	shutdown.Register("http-server", srv.Shutdown)
	if scheduler != nil {
		shutdown.Register("health-scheduler", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	shutdown.Register("registry", func(ctx context.Context) error {
		reg.ShutdownAll(ctx)
		return nil
	})
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, log)
	})

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(log, "admin server")
		log.WithField("addr", srv.Addr).Info("Admin server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Admin server failed")
			serveErr <- err
			cancel()
		}
	}()

	shutdownErr := shutdown.Wait(serveCtx)
	select {
	case err := <-serveErr:
		return errors.Join(err, shutdownErr)
	default:
		return shutdownErr
	}
}

// handler assembles the admin API: health, metrics, plugin and graph routes
func (a *app) handler(reg *registry.Registry, gatherer prometheus.Gatherer, metrics *observability.Metrics) http.Handler {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(reg, Version, a.cfg.Plugins.HealthTimeout))
	if gatherer != nil {
		observability.RegisterMetricsEndpoint(router, gatherer)
	}
	registry.NewHandlers(reg).RegisterRoutes(router)

	chain := httputil.Chain(
		httputil.RecoveryMiddleware(a.log),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(a.log),
	)
	return otelhttp.NewHandler(chain(router), "pluginhost.admin")
}

// scheduleHealthChecks runs HealthCheckAll on the configured cron schedule.
// Returns nil when no schedule is set.
func (a *app) scheduleHealthChecks(reg *registry.Registry) (*cron.Cron, error) {
	schedule := a.cfg.Server.HealthSchedule
	if schedule == "" {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(a.log, "scheduled health check")
		a.runHealthChecks(context.Background(), reg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule health checks: %w", err)
	}
	c.Start()
	a.log.WithField("schedule", schedule).Info("Scheduled provider health checks")
	return c, nil
}

func (a *app) runHealthChecks(ctx context.Context, reg *registry.Registry) map[plugins.Ref]plugins.HealthStatus {
	statuses := reg.HealthCheckAll(ctx)
	for ref, status := range statuses {
		if status.State == plugins.HealthHealthy {
			continue
		}
		a.log.WithFields(logrus.Fields{
			"plugin": ref.String(),
			"state":  status.State,
		}).Warn(status.Message)
	}
	return statuses
}
