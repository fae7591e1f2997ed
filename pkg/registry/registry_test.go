package registry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

func TestRegister_Duplicate(t *testing.T) {
	r := newTestRegistry(t)
	p := &plainProvider{md: meta("duckdb")}

	require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "duckdb", p))
	err := r.RegisterInstance(plugins.CategoryCompute, "duckdb", p)

	require.Error(t, err)
	dup := asErr[*plugins.DuplicateRegistrationError](t, err)
	assert.Equal(t, refCompute, dup.Ref)
	assert.Contains(t, err.Error(), "duckdb")
	assert.Contains(t, err.Error(), "COMPUTE")

	// same name in another category is a different provider
	require.NoError(t, r.RegisterInstance(plugins.CategoryCatalog, "duckdb", p))
}

func TestRegister_Uniqueness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	categories := []plugins.Category{plugins.CategoryCompute, plugins.CategoryCatalog, plugins.CategoryStorage}

	for run := 0; run < 50; run++ {
		r := newTestRegistry(t)
		seen := make(map[plugins.Ref]bool)
		for i := 0; i < 30; i++ {
			ref := plugins.NewRef(categories[rng.Intn(len(categories))], fmt.Sprintf("p%d", rng.Intn(8)))
			err := r.RegisterInstance(ref.Category, ref.Name, &plainProvider{md: meta(ref.Name)})
			if seen[ref] {
				asErr[*plugins.DuplicateRegistrationError](t, err)
				continue
			}
			require.NoError(t, err)
			seen[ref] = true
		}
		assert.Len(t, r.Plugins(), len(seen))
	}
}

func TestRegister_Invalid(t *testing.T) {
	r := newTestRegistry(t)
	tests := []struct {
		name     string
		category plugins.Category
		regName  string
		class    plugins.Class
		wantErr  string
	}{
		{
			name:     "unknown category",
			category: plugins.Category("WIDGETS"),
			regName:  "x",
			class:    plugins.InstanceClass(&plainProvider{md: meta("x")}),
			wantErr:  "unknown category",
		},
		{
			name:     "empty name",
			category: plugins.CategoryCompute,
			regName:  "",
			class:    plugins.InstanceClass(&plainProvider{md: meta("")}),
			wantErr:  "name is required",
		},
		{
			name:     "nil class",
			category: plugins.CategoryCompute,
			regName:  "x",
			wantErr:  "nil class",
		},
		{
			name:     "metadata name mismatch",
			category: plugins.CategoryCompute,
			regName:  "duckdb",
			class:    plugins.InstanceClass(&plainProvider{md: meta("sqlite")}),
			wantErr:  "does not match",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.category, tt.regName, tt.class)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
	assert.Error(t, r.RegisterInstance(plugins.CategoryCompute, "x", nil))
}

func TestGet_NotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Get(plugins.CategoryCompute, "missing")
	nf := asErr[*plugins.PluginNotFoundError](t, err)
	assert.Empty(t, nf.State)
	assert.EqualError(t, err, "plugin not found: COMPUTE/missing")
}

func TestGet_BeforeStartAll(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "duckdb", &plainProvider{md: meta("duckdb")}))

	_, err := r.Get(plugins.CategoryCompute, "duckdb")
	nf := asErr[*plugins.PluginNotFoundError](t, err)
	assert.Equal(t, plugins.StateResolved, nf.State)
}

func TestList(t *testing.T) {
	rec := &recorder{}
	r := newTestRegistry(t)
	for _, name := range []string{"spark", "duckdb", "trino"} {
		require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, name, &plainProvider{md: meta(name)}))
	}
	broken := hooked(rec, "broken")
	broken.startErr = fmt.Errorf("nope")
	mustRegister(t, r, plugins.CategoryCompute, classOf(rec, broken))

	assert.Equal(t, []string{"broken", "duckdb", "spark", "trino"}, r.List(plugins.CategoryCompute))

	_, err := r.StartAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"duckdb", "spark", "trino"}, r.List(plugins.CategoryCompute))
	empty := r.List(plugins.CategoryIdentity)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestInfoAndPlugins(t *testing.T) {
	r := newTestRegistry(t)
	md := meta("duckdb", refSecrets)
	md.Description = "embedded OLAP"
	require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "duckdb", &plainProvider{md: md}))
	require.NoError(t, r.RegisterInstance(plugins.CategorySecrets, "env", &plainProvider{md: meta("env")}))

	_, err := r.StartAll(context.Background())
	require.NoError(t, err)

	info, err := r.Info(plugins.CategoryCompute, "duckdb")
	require.NoError(t, err)
	assert.Equal(t, plugins.StateStarted, info.State)
	assert.Equal(t, "embedded OLAP", info.Description)
	assert.Equal(t, []plugins.Ref{refSecrets}, info.Dependencies)
	assert.Equal(t, "register", info.Source)
	assert.NotNil(t, info.StartedAt)

	_, err = r.Info(plugins.CategoryCompute, "nope")
	asErr[*plugins.PluginNotFoundError](t, err)

	all := r.Plugins()
	require.Len(t, all, 2)
	assert.Equal(t, refCompute, all[0].Ref)
	assert.Equal(t, refSecrets, all[1].Ref)

	descs := r.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, plugins.StateStarted, r.State(refSecrets))
	assert.Equal(t, plugins.LifecycleState(""), r.State(refStorage))
}

func TestLazyCategories(t *testing.T) {
	rec := &recorder{}
	r := newTestRegistry(t, WithLazyCategories(plugins.CategorySecrets))

	secrets := hooked(rec, "env")
	compute := hooked(rec, "duckdb")
	mustRegister(t, r, plugins.CategorySecrets, classOf(rec, secrets))
	mustRegister(t, r, plugins.CategoryCompute, classOf(rec, compute))

	report, err := r.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status())
	assert.Equal(t, plugins.StateConfigured, r.State(refSecrets))
	assert.Equal(t, plugins.StateStarted, r.State(refCompute))
	assert.Zero(t, rec.count("start env"))
	assert.Equal(t, plugins.StageConfig, outcomeFor(t, report, refSecrets).Stage)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.Get(plugins.CategorySecrets, "env")
			assert.NoError(t, err)
			assert.Same(t, secrets, p)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rec.count("new env"))
	assert.Equal(t, 1, rec.count("start env"))
	assert.Equal(t, plugins.StateStarted, r.State(refSecrets))
}

func TestLazyStartsDependenciesFirst(t *testing.T) {
	rec := &recorder{}
	r := newTestRegistry(t, WithLazyCategories(plugins.CategorySecrets, plugins.CategoryCatalog))

	mustRegister(t, r, plugins.CategorySecrets, classOf(rec, hooked(rec, "env")))
	catalog := hooked(rec, "polaris", refSecrets)
	mustRegister(t, r, plugins.CategoryCatalog, classOf(rec, catalog))

	_, err := r.StartAll(context.Background())
	require.NoError(t, err)

	_, err = r.Get(plugins.CategoryCatalog, "polaris")
	require.NoError(t, err)

	assert.Equal(t, []string{"new env", "start env", "new polaris", "start polaris"}, rec.all())
	dep, ok := catalog.environment().Dependency(plugins.CategorySecrets, "env")
	require.True(t, ok)
	assert.Equal(t, "env", dep.Metadata().Name)
}

func TestLazyStartFailure(t *testing.T) {
	rec := &recorder{}
	r := newTestRegistry(t, WithLazyCategories(plugins.CategorySecrets))
	p := hooked(rec, "env")
	p.startErr = fmt.Errorf("vault sealed")
	mustRegister(t, r, plugins.CategorySecrets, classOf(rec, p))

	_, err := r.StartAll(context.Background())
	require.NoError(t, err)

	_, err = r.Get(plugins.CategorySecrets, "env")
	assert.EqualError(t, err, "vault sealed")

	_, err = r.Get(plugins.CategorySecrets, "env")
	nf := asErr[*plugins.PluginNotFoundError](t, err)
	assert.Equal(t, plugins.StateFailed, nf.State)
	assert.Equal(t, 1, rec.count("start env"))
}

func TestLateRegistrationStartsOnGet(t *testing.T) {
	rec := &recorder{}
	r := newTestRegistry(t)
	_, err := r.StartAll(context.Background())
	require.NoError(t, err)

	mustRegister(t, r, plugins.CategoryStorage, classOf(rec, hooked(rec, "s3")))
	assert.Equal(t, plugins.StateResolved, r.State(refStorage))
	assert.True(t, plugins.StateDiscovered.CanTransition(r.State(refStorage)))

	_, err = r.Get(plugins.CategoryStorage, "s3")
	require.NoError(t, err)
	assert.Equal(t, plugins.StateStarted, r.State(refStorage))
}

func TestLateRegistrationCycle(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.StartAll(context.Background())
	require.NoError(t, err)

	a := plugins.NewRef(plugins.CategoryCompute, "a")
	b := plugins.NewRef(plugins.CategoryCompute, "b")
	require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "a", &plainProvider{md: meta("a", b)}))
	require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "b", &plainProvider{md: meta("b", a)}))

	_, err = r.Get(plugins.CategoryCompute, "a")
	cyclic := asErr[*plugins.CyclicDependencyError](t, err)
	assert.ElementsMatch(t, []plugins.Ref{a, b}, cyclic.Members())
	assert.Equal(t, plugins.StateFailed, r.State(a))
	assert.Equal(t, plugins.StateFailed, r.State(b))
}

func TestLateRegistrationCycle_ConcurrentGets(t *testing.T) {
	a := plugins.NewRef(plugins.CategoryCompute, "a")
	b := plugins.NewRef(plugins.CategoryCompute, "b")
	c := plugins.NewRef(plugins.CategoryCompute, "c")

	for i := 0; i < 20; i++ {
		r := newTestRegistry(t)
		_, err := r.StartAll(context.Background())
		require.NoError(t, err)
		require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "a", &plainProvider{md: meta("a", b)}))
		require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "b", &plainProvider{md: meta("b", a)}))
		require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "c", &plainProvider{md: meta("c", a)}))

		var wg sync.WaitGroup
		errs := make(chan error, 3)
		for _, ref := range []plugins.Ref{a, b, c} {
			wg.Add(1)
			go func(ref plugins.Ref) {
				defer wg.Done()
				_, err := r.Get(ref.Category, ref.Name)
				errs <- err
			}(ref)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent Gets on a dependency cycle did not return")
		}

		close(errs)
		for err := range errs {
			assert.Error(t, err)
		}
		for _, ref := range []plugins.Ref{a, b, c} {
			assert.Equal(t, plugins.StateFailed, r.State(ref), ref.String())
		}
	}
}

func TestReadiness(t *testing.T) {
	r := newTestRegistry(t)
	ready, msg := r.Readiness()
	assert.False(t, ready)
	assert.Equal(t, "startup has not run", msg)

	require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "duckdb", &plainProvider{md: meta("duckdb")}))
	_, err := r.StartAll(context.Background())
	require.NoError(t, err)

	ready, msg = r.Readiness()
	assert.True(t, ready)
	assert.Equal(t, "platform is fully healthy", msg)

	r.ShutdownAll(context.Background())
	ready, _ = r.Readiness()
	assert.False(t, ready)
}

func TestReadiness_AllFailed(t *testing.T) {
	r := newTestRegistry(t)
	md := meta("duckdb")
	md.HostAPIVersion = "9.0.0"
	require.NoError(t, r.RegisterInstance(plugins.CategoryCompute, "duckdb", &plainProvider{md: md}))

	report, err := r.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Status())

	ready, msg := r.Readiness()
	assert.False(t, ready)
	assert.Contains(t, msg, "all 1 providers failed")
}
