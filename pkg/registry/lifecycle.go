package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/pluginhost/pkg/async"
	"github.com/platinummonkey/pluginhost/pkg/compatibility"
	"github.com/platinummonkey/pluginhost/pkg/dependencies"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/validation"
)

// StartAll discovers providers and brings each one up in dependency order:
// version check, config validation, instantiation, startup and a readiness
// health check. A provider failing any stage is marked FAILED and the rest
// carry on; only a dependency cycle aborts the batch, in which case the
// report is returned together with the *plugins.CyclicDependencyError.
func (r *Registry) StartAll(ctx context.Context) (*StartupReport, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, plugins.ErrRegistryClosed
	case r.started:
		r.mu.Unlock()
		return nil, plugins.ErrRegistryStarted
	}
	r.started = true
	r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "registry.StartAll")
	defer span.End()

	report := newStartupReport()
	r.log.WithContext(ctx).WithFields(observability.TraceFields(ctx)).
		WithField("run_id", report.RunID).Info("Starting plugins")

	if r.engine != nil {
		r.discover(ctx, report)
	}

	pending := r.pending()
	r.failUnsatisfied(ctx, pending, report)

	descs := make([]plugins.Descriptor, 0, len(pending))
	for _, rec := range pending {
		descs = append(descs, plugins.Descriptor{Category: rec.ref.Category, Metadata: rec.md})
	}
	order, err := dependencies.NewGraph(descs).Order()
	if err != nil {
		report.Fatal = err
		for _, rec := range pending {
			if r.stateOf(rec) == plugins.StateFailed {
				continue
			}
			r.fail(ctx, rec, plugins.StageDependencies, err, 0)
			report.add(r.outcome(rec, 0))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "cyclic plugin dependencies")
		r.finish(ctx, report)
		return report, err
	}
	report.Order = order

	for _, ref := range order {
		rec := r.lookup(ref)
		if r.stateOf(rec) == plugins.StateFailed {
			continue
		}
		target := plugins.StateStarted
		if rec.lazy {
			target = plugins.StateConfigured
		}
		start := time.Now()
		_ = r.bringUp(ctx, rec, target, nil)
		report.add(r.outcome(rec, time.Since(start)))
	}

	span.SetAttributes(
		attribute.Int("plugins.total", len(report.Outcomes)),
		attribute.Int("plugins.failed", len(report.Failed())),
	)
	if report.Status() != StatusHealthy {
		span.SetStatus(codes.Error, report.Summary())
	}
	r.finish(ctx, report)
	return report, nil
}

func (r *Registry) discover(ctx context.Context, report *StartupReport) {
	disc := r.engine.DiscoverAll(ctx, r.categories)
	for _, c := range r.categories {
		resolved, failed := disc.Counts(c)
		r.metrics.SetDeclarations(string(c), resolved, failed)
	}

	// resolved first so a broken duplicate cannot shadow a working provider
	for _, res := range disc.Resolved {
		if err := r.register(res.Declaration, res.Class, true); err != nil {
			ref := res.Declaration.Ref()
			r.logStage(ctx, ref, plugins.StageRegistration, "failed", 0, err)
			r.metrics.ObserveStage(string(ref.Category), string(plugins.StageRegistration), "failed", 0)
			report.add(Outcome{Ref: ref, State: plugins.StateFailed, Stage: plugins.StageRegistration, Err: err})
		}
	}
	for _, f := range disc.Failed {
		ref := f.Declaration.Ref()
		r.recordFailure(f.Declaration, plugins.StageDiscovery, f.Err)
		r.metrics.ObserveStage(string(ref.Category), string(plugins.StageDiscovery), "failed", 0)
		report.add(Outcome{Ref: ref, State: plugins.StateFailed, Stage: plugins.StageDiscovery, Err: f.Err})
	}
}

// pending returns records waiting to be started, sorted by ref
func (r *Registry) pending() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*record
	for _, rec := range r.records {
		if rec.state == plugins.StateResolved {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ref.Less(out[j].ref) })
	return out
}

// failUnsatisfied fails providers whose declared dependencies were never
// registered or failed before registration.
func (r *Registry) failUnsatisfied(ctx context.Context, pending []*record, report *StartupReport) {
	for _, rec := range pending {
		for _, dep := range rec.md.Dependencies {
			depRec := r.lookup(dep)
			var err error
			switch {
			case depRec == nil:
				err = &plugins.MissingDependencyError{Ref: rec.ref, Missing: dep}
			case r.stateOf(depRec) == plugins.StateFailed:
				err = &plugins.DependencyFailedError{Ref: rec.ref, Dependency: dep}
			default:
				continue
			}
			r.fail(ctx, rec, plugins.StageDependencies, err, 0)
			report.add(r.outcome(rec, 0))
			break
		}
	}
}

func (r *Registry) finish(ctx context.Context, report *StartupReport) {
	report.FinishedAt = time.Now()

	r.mu.Lock()
	r.report = report
	counts := make(map[string]int)
	for _, rec := range r.records {
		counts[string(rec.state)]++
	}
	r.mu.Unlock()
	r.metrics.SetStateCounts(counts)

	entry := r.log.WithContext(ctx).WithFields(logrus.Fields{
		"run_id":      report.RunID,
		"status":      report.Status(),
		"providers":   len(report.Outcomes),
		"failed":      len(report.Failed()),
		"duration_ms": report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	})
	switch report.Status() {
	case StatusHealthy:
		entry.Info(report.Summary())
	case StatusDegraded:
		entry.Warn(report.Summary())
	default:
		if report.Fatal != nil {
			entry = entry.WithError(report.Fatal)
		}
		entry.Error(report.Summary())
	}
}

// bringUp advances rec until it reaches target. Dependencies are started
// first when target is STARTED, each under its own start lock, so the
// dependency closure is checked for cycles before any lock is taken. path
// holds the refs being brought up by the callers and catches a cycle closed
// by a registration that lands mid-start.
func (r *Registry) bringUp(ctx context.Context, rec *record, target plugins.LifecycleState, path []plugins.Ref) error {
	if len(path) == 0 && target == plugins.StateStarted && r.stateOf(rec) != plugins.StateStarted {
		if cycles := r.cyclesFrom(rec); len(cycles) > 0 {
			err := &plugins.CyclicDependencyError{Cycles: cycles}
			for _, ref := range err.Members() {
				if member := r.lookup(ref); member != nil {
					r.fail(ctx, member, plugins.StageDependencies, err, 0)
				}
			}
			r.fail(ctx, rec, plugins.StageDependencies, err, 0)
			return err
		}
	}

	rec.startMu.Lock()
	defer rec.startMu.Unlock()

	if state := r.stateOf(rec); state.Terminal() {
		return &plugins.PluginNotFoundError{Ref: rec.ref, State: state}
	} else if state == target || state == plugins.StateStarted {
		return nil
	}

	if err := r.checkDependencies(ctx, rec, target, append(path, rec.ref)); err != nil {
		r.fail(ctx, rec, plugins.StageDependencies, err, 0)
		return err
	}

	for {
		state := r.stateOf(rec)
		if state == target || state == plugins.StateStarted {
			return nil
		}

		var err error
		switch state {
		case plugins.StateResolved:
			err = r.runStage(ctx, rec, plugins.StageVersionCheck, plugins.StateVersionChecked, r.checkVersion)
		case plugins.StateVersionChecked:
			err = r.runStage(ctx, rec, plugins.StageConfig, plugins.StateConfigured, r.validateConfig)
		case plugins.StateConfigured:
			err = r.start(ctx, rec)
		default:
			return &plugins.PluginNotFoundError{Ref: rec.ref, State: state}
		}
		if err != nil {
			return err
		}
	}
}

// cyclesFrom returns the dependency cycles reachable from rec
func (r *Registry) cyclesFrom(rec *record) [][]plugins.Ref {
	seen := map[plugins.Ref]bool{rec.ref: true}
	queue := []*record{rec}
	var descs []plugins.Descriptor
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		descs = append(descs, plugins.Descriptor{Category: cur.ref.Category, Metadata: cur.md})
		for _, dep := range cur.md.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if next := r.lookup(dep); next != nil {
				queue = append(queue, next)
			}
		}
	}
	return dependencies.NewGraph(descs).Cycles()
}

func (r *Registry) checkDependencies(ctx context.Context, rec *record, target plugins.LifecycleState, path []plugins.Ref) error {
	for _, dep := range rec.md.Dependencies {
		for i, p := range path {
			if p == dep {
				cycle := append([]plugins.Ref(nil), path[i:]...)
				return &plugins.CyclicDependencyError{Cycles: [][]plugins.Ref{cycle}}
			}
		}

		depRec := r.lookup(dep)
		if depRec == nil {
			return &plugins.MissingDependencyError{Ref: rec.ref, Missing: dep}
		}

		state := r.stateOf(depRec)
		if state.Terminal() {
			return &plugins.DependencyFailedError{Ref: rec.ref, Dependency: dep}
		}
		if target != plugins.StateStarted || state == plugins.StateStarted {
			continue
		}
		if err := r.bringUp(ctx, depRec, plugins.StateStarted, path); err != nil {
			var cyclic *plugins.CyclicDependencyError
			if errors.As(err, &cyclic) {
				return err
			}
			return &plugins.DependencyFailedError{Ref: rec.ref, Dependency: dep}
		}
	}
	return nil
}

// start runs instantiation, startup and readiness, then marks rec STARTED
func (r *Registry) start(ctx context.Context, rec *record) error {
	if err := r.runStage(ctx, rec, plugins.StageInstantiation, "", r.instantiate); err != nil {
		return err
	}
	if err := r.runStage(ctx, rec, plugins.StageStartup, "", r.startup); err != nil {
		return err
	}
	return r.runStage(ctx, rec, plugins.StageReadiness, plugins.StateStarted, r.readiness)
}

type stageFunc func(ctx context.Context, rec *record) error

// runStage runs fn inside a span, records the outcome and moves rec to next
// on success ("" keeps the current state).
func (r *Registry) runStage(ctx context.Context, rec *record, stage plugins.Stage, next plugins.LifecycleState, fn stageFunc) error {
	ctx, span := r.tracer.Start(ctx, "plugin."+string(stage), trace.WithAttributes(
		attribute.String("plugin.category", string(rec.ref.Category)),
		attribute.String("plugin.name", rec.ref.Name),
		attribute.String("plugin.stage", string(stage)),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx, rec)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.fail(ctx, rec, stage, err, elapsed)
		return err
	}

	r.mu.Lock()
	rec.lastStage = stage
	if next != "" {
		if !rec.state.CanTransition(next) {
			r.mu.Unlock()
			err := fmt.Errorf("plugin %s: illegal transition %s -> %s", rec.ref, rec.state, next)
			r.fail(ctx, rec, stage, err, elapsed)
			return err
		}
		rec.state = next
		if next == plugins.StateStarted {
			rec.startedAt = time.Now()
			r.startOrder = append(r.startOrder, rec.ref)
		}
	}
	r.mu.Unlock()

	r.metrics.ObserveStage(string(rec.ref.Category), string(stage), "ok", elapsed)
	r.logStage(ctx, rec.ref, stage, "ok", elapsed, nil)
	if next == plugins.StateStarted {
		r.log.WithContext(ctx).WithFields(logrus.Fields{
			"category": rec.ref.Category,
			"name":     rec.ref.Name,
			"version":  rec.md.Version,
		}).Info("Plugin started")
	}
	return nil
}

// fail moves rec to FAILED. A record already in a terminal state keeps its first error.
func (r *Registry) fail(ctx context.Context, rec *record, stage plugins.Stage, err error, elapsed time.Duration) {
	r.mu.Lock()
	if rec.state.Terminal() {
		r.mu.Unlock()
		return
	}
	rec.state = plugins.StateFailed
	rec.err = err
	rec.failedStage = stage
	r.mu.Unlock()

	r.metrics.ObserveStage(string(rec.ref.Category), string(stage), "failed", elapsed)
	r.logStage(ctx, rec.ref, stage, "failed", elapsed, err)
}

func (r *Registry) logStage(ctx context.Context, ref plugins.Ref, stage plugins.Stage, outcome string, elapsed time.Duration, err error) {
	entry := r.log.WithContext(ctx).WithFields(observability.TraceFields(ctx)).WithFields(logrus.Fields{
		"category":    ref.Category,
		"name":        ref.Name,
		"stage":       stage,
		"outcome":     outcome,
		"duration_ms": elapsed.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("Plugin stage failed")
		return
	}
	entry.Debug("Plugin stage complete")
}

func (r *Registry) checkVersion(ctx context.Context, rec *record) error {
	res, err := compatibility.Check(rec.md.HostAPIVersion, r.hostVersion)
	if err != nil {
		return &plugins.VersionIncompatibilityError{
			Ref:           rec.ref,
			PluginVersion: rec.md.HostAPIVersion,
			HostVersion:   r.hostVersion,
			Reason:        err.Error(),
		}
	}
	if !res.Compatible {
		return &plugins.VersionIncompatibilityError{
			Ref:           rec.ref,
			PluginVersion: rec.md.HostAPIVersion,
			HostVersion:   r.hostVersion,
			Reason:        res.Reason,
		}
	}
	return nil
}

func (r *Registry) validateConfig(ctx context.Context, rec *record) error {
	cfg, err := validation.Validate(rec.md.ConfigSchema, r.configs[rec.ref])
	if err != nil {
		var cfgErr *plugins.ConfigValidationError
		if errors.As(err, &cfgErr) {
			cfgErr.Ref = rec.ref
			return cfgErr
		}
		return fmt.Errorf("config schema for %s: %w", rec.ref, err)
	}
	rec.config = cfg
	return nil
}

func (r *Registry) instantiate(ctx context.Context, rec *record) error {
	p, err := async.CallValue(ctx, r.startupTimeout, taskName(rec.ref, plugins.StageInstantiation),
		func(context.Context) (plugins.Provider, error) {
			return rec.class.New()
		})
	if err != nil {
		return r.lifecycleErr(rec.ref, plugins.StageInstantiation, r.startupTimeout, err)
	}
	if p == nil {
		return fmt.Errorf("plugin %s: constructor returned a nil provider", rec.ref)
	}

	r.mu.Lock()
	rec.instance = p
	r.mu.Unlock()
	return nil
}

func (r *Registry) startup(ctx context.Context, rec *record) error {
	starter, ok := rec.instance.(plugins.Starter)
	if !ok {
		return nil
	}

	env := &plugins.Environment{
		Config:       rec.config,
		Dependencies: r.dependencyInstances(rec),
		Logger: r.log.WithFields(logrus.Fields{
			"category": rec.ref.Category,
			"name":     rec.ref.Name,
		}),
	}
	err := async.Call(ctx, r.startupTimeout, taskName(rec.ref, plugins.StageStartup), func(ctx context.Context) error {
		return starter.Startup(ctx, env)
	})
	if err != nil {
		return r.lifecycleErr(rec.ref, plugins.StageStartup, r.startupTimeout, err)
	}
	return nil
}

// readiness runs one health check. A provider that is not ready has already
// been started, so its Shutdown is attempted before it is marked FAILED.
func (r *Registry) readiness(ctx context.Context, rec *record) error {
	status, err := r.checkHealth(ctx, rec.ref, rec.instance, plugins.StageReadiness)
	if err == nil && status.State == plugins.HealthUnhealthy {
		err = fmt.Errorf("plugin %s reported UNHEALTHY: %s", rec.ref, status.Message)
	}
	if err != nil {
		if stopErr := r.stop(ctx, rec); stopErr != nil {
			r.log.WithContext(ctx).WithFields(logrus.Fields{
				"category": rec.ref.Category,
				"name":     rec.ref.Name,
				"stage":    plugins.StageShutdown,
			}).WithError(stopErr).Warn("Shutdown after failed readiness check failed")
		}
		return err
	}
	return nil
}

func (r *Registry) stop(ctx context.Context, rec *record) error {
	stopper, ok := rec.instance.(plugins.Stopper)
	if !ok {
		return nil
	}
	err := async.Call(ctx, r.shutdownTimeout, taskName(rec.ref, plugins.StageShutdown), stopper.Shutdown)
	if err != nil {
		return r.lifecycleErr(rec.ref, plugins.StageShutdown, r.shutdownTimeout, err)
	}
	return nil
}

// checkHealth runs a provider's health check under the health timeout. Timeouts and
// panics come back as UNHEALTHY together with the error.
func (r *Registry) checkHealth(ctx context.Context, ref plugins.Ref, p plugins.Provider, stage plugins.Stage) (plugins.HealthStatus, error) {
	checker, ok := p.(plugins.HealthChecker)
	if !ok {
		return plugins.DefaultHealthStatus(), nil
	}

	status, err := async.CallValue(ctx, r.healthTimeout, taskName(ref, stage), func(ctx context.Context) (plugins.HealthStatus, error) {
		return checker.HealthCheck(ctx), nil
	})
	if err != nil {
		err = r.lifecycleErr(ref, stage, r.healthTimeout, err)
		return plugins.Unhealthy(err.Error()), err
	}
	if status.State == "" {
		return plugins.Unhealthy("health check returned no state"), nil
	}
	if status.CheckedAt.IsZero() {
		status.CheckedAt = time.Now()
	}
	return status, nil
}

func (r *Registry) lifecycleErr(ref plugins.Ref, stage plugins.Stage, timeout time.Duration, err error) error {
	if errors.Is(err, async.ErrTimeout) {
		return &plugins.LifecycleTimeoutError{Ref: ref, Stage: stage, Timeout: timeout}
	}
	return err
}

func (r *Registry) dependencyInstances(rec *record) map[plugins.Ref]plugins.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	deps := make(map[plugins.Ref]plugins.Provider, len(rec.md.Dependencies))
	for _, dep := range rec.md.Dependencies {
		if d, ok := r.records[dep]; ok && d.instance != nil {
			deps[dep] = d.instance
		}
	}
	return deps
}

// ShutdownAll stops every STARTED provider in reverse start order. Failures
// are logged and the remaining providers are still stopped. After
// ShutdownAll the registry rejects Get, Register and StartAll.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	order := append([]plugins.Ref(nil), r.startOrder...)
	r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "registry.ShutdownAll")
	defer span.End()

	start := time.Now()
	stopped, failed := 0, 0
	for i := len(order) - 1; i >= 0; i-- {
		rec := r.lookup(order[i])
		if rec == nil || r.stateOf(rec) != plugins.StateStarted {
			continue
		}
		if err := r.runStage(ctx, rec, plugins.StageShutdown, plugins.StateShutdown, r.stop); err != nil {
			failed++
			continue
		}
		stopped++
	}

	span.SetAttributes(attribute.Int("plugins.stopped", stopped), attribute.Int("plugins.failed", failed))
	r.log.WithContext(ctx).WithFields(logrus.Fields{
		"stopped":     stopped,
		"failed":      failed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Plugin shutdown complete")
}

// HealthCheckAll checks every STARTED provider concurrently. Providers without
// a health check report DefaultHealthStatus; timeouts and panics report UNHEALTHY.
func (r *Registry) HealthCheckAll(ctx context.Context) map[plugins.Ref]plugins.HealthStatus {
	type target struct {
		ref      plugins.Ref
		instance plugins.Provider
	}

	r.mu.RLock()
	var targets []target
	for ref, rec := range r.records {
		if rec.state == plugins.StateStarted {
			targets = append(targets, target{ref: ref, instance: rec.instance})
		}
	}
	r.mu.RUnlock()

	ctx, span := r.tracer.Start(ctx, "registry.HealthCheckAll",
		trace.WithAttributes(attribute.Int("plugins.total", len(targets))))
	defer span.End()

	results := make(map[plugins.Ref]plugins.HealthStatus, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			status, err := r.checkHealth(gctx, t.ref, t.instance, plugins.StageHealthCheck)

			mu.Lock()
			results[t.ref] = status
			mu.Unlock()

			r.metrics.SetHealth(string(t.ref.Category), t.ref.Name, string(status.State))
			if status.State != plugins.HealthHealthy {
				entry := r.log.WithContext(ctx).WithFields(logrus.Fields{
					"category": t.ref.Category,
					"name":     t.ref.Name,
					"stage":    plugins.StageHealthCheck,
					"state":    status.State,
				})
				if err != nil {
					entry = entry.WithError(err)
				}
				entry.Warn(status.Message)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Registry) lookup(ref plugins.Ref) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[ref]
}

func (r *Registry) stateOf(rec *record) plugins.LifecycleState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return rec.state
}

func (r *Registry) outcome(rec *record, d time.Duration) Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stage := rec.lastStage
	if rec.state == plugins.StateFailed {
		stage = rec.failedStage
	}
	return Outcome{Ref: rec.ref, State: rec.state, Stage: stage, Err: rec.err, Duration: d}
}

func taskName(ref plugins.Ref, stage plugins.Stage) string {
	return ref.String() + " " + string(stage)
}
