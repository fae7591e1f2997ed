package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// recorder collects lifecycle events across providers in call order
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(e string) int {
	n := 0
	for _, got := range r.all() {
		if got == e {
			n++
		}
	}
	return n
}

// plainProvider implements no optional capability
type plainProvider struct {
	md plugins.Metadata
}

func (p *plainProvider) Metadata() plugins.Metadata { return p.md }

// hookedProvider implements Starter, Stopper and HealthChecker
type hookedProvider struct {
	md  plugins.Metadata
	rec *recorder

	startErr   error
	startBlock chan struct{} // Startup waits on it when set
	stopErr    error
	health     func(ctx context.Context) plugins.HealthStatus

	mu  sync.Mutex
	env *plugins.Environment
}

func (p *hookedProvider) Metadata() plugins.Metadata { return p.md }

func (p *hookedProvider) Startup(ctx context.Context, env *plugins.Environment) error {
	p.rec.add("start " + p.md.Name)
	p.mu.Lock()
	p.env = env
	p.mu.Unlock()
	if p.startBlock != nil {
		<-p.startBlock
	}
	return p.startErr
}

func (p *hookedProvider) Shutdown(ctx context.Context) error {
	p.rec.add("stop " + p.md.Name)
	return p.stopErr
}

func (p *hookedProvider) HealthCheck(ctx context.Context) plugins.HealthStatus {
	if p.health != nil {
		return p.health(ctx)
	}
	return plugins.Healthy("ok")
}

func (p *hookedProvider) environment() *plugins.Environment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.env
}

func meta(name string, deps ...plugins.Ref) plugins.Metadata {
	return plugins.Metadata{
		Name:           name,
		Version:        "0.1.0",
		HostAPIVersion: "1.2.0",
		Dependencies:   deps,
	}
}

func hooked(rec *recorder, name string, deps ...plugins.Ref) *hookedProvider {
	return &hookedProvider{md: meta(name, deps...), rec: rec}
}

// classOf wraps p in a class whose New records instantiation
func classOf(rec *recorder, p plugins.Provider) plugins.Class {
	return plugins.NewClass(p.Metadata(), func() (plugins.Provider, error) {
		rec.add("new " + p.Metadata().Name)
		return p, nil
	})
}

func quietLogger() (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)
	return log, buf
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	log, _ := quietLogger()
	base := []Option{
		WithLogger(log),
		WithStartupTimeout(time.Second),
		WithHealthTimeout(time.Second),
		WithShutdownTimeout(time.Second),
	}
	return New(append(base, opts...)...)
}

func mustRegister(t *testing.T, r *Registry, c plugins.Category, class plugins.Class) {
	t.Helper()
	require.NoError(t, r.Register(c, class.Metadata().Name, class))
}

func outcomeFor(t *testing.T, report *StartupReport, ref plugins.Ref) Outcome {
	t.Helper()
	for _, o := range report.Outcomes {
		if o.Ref == ref {
			return o
		}
	}
	t.Fatalf("no outcome for %s", ref)
	return Outcome{}
}

func asErr[T error](t *testing.T, err error) T {
	t.Helper()
	var target T
	require.True(t, errors.As(err, &target), "expected %T, got %v", target, err)
	return target
}

func decodeJSON(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

var (
	refCompute = plugins.NewRef(plugins.CategoryCompute, "duckdb")
	refCatalog = plugins.NewRef(plugins.CategoryCatalog, "polaris")
	refSecrets = plugins.NewRef(plugins.CategorySecrets, "env")
	refStorage = plugins.NewRef(plugins.CategoryStorage, "s3")
)
