package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/pluginhost/pkg/discovery"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

const (
	DefaultStartupTimeout  = 30 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// record is the registry's bookkeeping for one provider
type record struct {
	ref      plugins.Ref
	decl     plugins.Declaration
	class    plugins.Class // nil when discovery failed
	md       plugins.Metadata
	lazy     bool
	config   map[string]any
	instance plugins.Provider

	state       plugins.LifecycleState
	err         error
	lastStage   plugins.Stage
	failedStage plugins.Stage
	startedAt   time.Time

	// held for the whole of a lazy start so concurrent Gets start a provider once
	startMu sync.Mutex
}

// PluginInfo is a read-only snapshot of a registered provider
type PluginInfo struct {
	Ref            plugins.Ref            `json:"ref"`
	Category       plugins.Category       `json:"category"`
	Name           string                 `json:"name"`
	Version        string                 `json:"version,omitempty"`
	HostAPIVersion string                 `json:"host_api_version,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Dependencies   []plugins.Ref          `json:"dependencies,omitempty"`
	Reference      string                 `json:"reference,omitempty"`
	Source         string                 `json:"source,omitempty"`
	State          plugins.LifecycleState `json:"state"`
	Lazy           bool                   `json:"lazy,omitempty"`
	FailedStage    plugins.Stage          `json:"failed_stage,omitempty"`
	Error          string                 `json:"error,omitempty"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
}

// Registry owns every provider's lifecycle. Construct one per process (or per
// test) with New; there is no package-level instance.
type Registry struct {
	hostVersion     string
	engine          *discovery.Engine
	categories      []plugins.Category
	lazy            map[plugins.Category]bool
	configs         map[plugins.Ref]map[string]any
	startupTimeout  time.Duration
	healthTimeout   time.Duration
	shutdownTimeout time.Duration
	log             *logrus.Logger
	metrics         *observability.Metrics
	tracer          trace.Tracer

	mu         sync.RWMutex
	records    map[plugins.Ref]*record
	startOrder []plugins.Ref
	started    bool
	closed     bool
	report     *StartupReport
}

// Option configures a Registry
type Option func(*Registry)

// WithHostAPIVersion overrides the platform API version providers are checked against
func WithHostAPIVersion(v string) Option {
	return func(r *Registry) { r.hostVersion = v }
}

// WithDiscovery sets the engine StartAll uses. Without one StartAll only
// considers explicitly registered providers.
func WithDiscovery(e *discovery.Engine) Option {
	return func(r *Registry) { r.engine = e }
}

// WithCategories limits discovery to the given categories
func WithCategories(categories ...plugins.Category) Option {
	return func(r *Registry) { r.categories = categories }
}

// WithLazyCategories defers instantiation and startup of providers in these
// categories until their first Get.
func WithLazyCategories(categories ...plugins.Category) Option {
	return func(r *Registry) {
		for _, c := range categories {
			r.lazy[c] = true
		}
	}
}

// WithStartupTimeout bounds each provider's Startup call
func WithStartupTimeout(d time.Duration) Option {
	return func(r *Registry) { r.startupTimeout = d }
}

// WithHealthTimeout bounds each HealthCheck call
func WithHealthTimeout(d time.Duration) Option {
	return func(r *Registry) { r.healthTimeout = d }
}

// WithShutdownTimeout bounds each provider's Shutdown call
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Registry) { r.shutdownTimeout = d }
}

// WithProviderConfig sets the raw configuration for one provider
func WithProviderConfig(ref plugins.Ref, config map[string]any) Option {
	return func(r *Registry) { r.configs[ref] = config }
}

// WithProviderConfigs sets raw configuration for several providers
func WithProviderConfigs(configs map[plugins.Ref]map[string]any) Option {
	return func(r *Registry) {
		for ref, cfg := range configs {
			r.configs[ref] = cfg
		}
	}
}

// WithLogger sets the logger
func WithLogger(log *logrus.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithMetrics records lifecycle metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		hostVersion:     plugins.HostAPIVersion,
		categories:      plugins.AllCategories(),
		lazy:            make(map[plugins.Category]bool),
		configs:         make(map[plugins.Ref]map[string]any),
		startupTimeout:  DefaultStartupTimeout,
		healthTimeout:   DefaultHealthTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		records:         make(map[plugins.Ref]*record),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logrus.New()
		r.log.SetOutput(os.Stderr)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(observability.TracerName)
	}
	return r
}

// HostAPIVersion returns the version providers are checked against
func (r *Registry) HostAPIVersion() string {
	return r.hostVersion
}

// Register adds a provider class under (category, name). The class metadata
// must carry the same name.
func (r *Registry) Register(category plugins.Category, name string, class plugins.Class) error {
	decl := plugins.Declaration{Category: category, Name: name, Source: "register"}
	return r.register(decl, class, false)
}

// RegisterInstance registers an already constructed provider
func (r *Registry) RegisterInstance(category plugins.Category, name string, p plugins.Provider) error {
	if p == nil {
		return fmt.Errorf("plugin %s/%s: nil provider", category, name)
	}
	return r.Register(category, name, plugins.InstanceClass(p))
}

func (r *Registry) register(decl plugins.Declaration, class plugins.Class, discovered bool) error {
	ref := decl.Ref()
	if !ref.Category.Valid() {
		return fmt.Errorf("plugin %q: unknown category %q", ref.Name, ref.Category)
	}
	if ref.Name == "" {
		return fmt.Errorf("plugin name is required (category %s)", ref.Category)
	}
	if class == nil {
		return fmt.Errorf("plugin %s: nil class", ref)
	}
	md := class.Metadata()
	if md.Name != ref.Name {
		return fmt.Errorf("plugin %s: metadata name %q does not match registered name", ref, md.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return plugins.ErrRegistryClosed
	}
	if _, exists := r.records[ref]; exists {
		return &plugins.DuplicateRegistrationError{Ref: ref}
	}

	r.records[ref] = &record{
		ref:   ref,
		decl:  decl,
		class: class,
		md:    md,
		// registered after StartAll: nothing will start it eagerly any more
		lazy:  r.lazy[ref.Category] || (r.started && !discovered),
		state: plugins.StateResolved,
	}
	r.log.WithFields(logrus.Fields{
		"category": ref.Category,
		"name":     ref.Name,
		"stage":    plugins.StageRegistration,
		"outcome":  "ok",
		"version":  md.Version,
	}).Debug("Plugin registered")
	return nil
}

// recordFailure stores a provider that never got a class, so lookups can say why
func (r *Registry) recordFailure(decl plugins.Declaration, stage plugins.Stage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref := decl.Ref()
	if _, exists := r.records[ref]; exists {
		return
	}
	r.records[ref] = &record{
		ref:         ref,
		decl:        decl,
		md:          plugins.Metadata{Name: decl.Name},
		state:       plugins.StateFailed,
		err:         err,
		failedStage: stage,
	}
}

// Get returns the started provider for (category, name)
func (r *Registry) Get(category plugins.Category, name string) (plugins.Provider, error) {
	return r.GetContext(context.Background(), category, name)
}

// GetContext is Get with a context for lazy startup
func (r *Registry) GetContext(ctx context.Context, category plugins.Category, name string) (plugins.Provider, error) {
	ref := plugins.NewRef(category, name)

	r.mu.RLock()
	closed, started := r.closed, r.started
	rec, ok := r.records[ref]
	var state plugins.LifecycleState
	var instance plugins.Provider
	if ok {
		state, instance = rec.state, rec.instance
	}
	r.mu.RUnlock()

	switch {
	case closed:
		return nil, &plugins.PluginNotFoundError{Ref: ref, State: state, Err: plugins.ErrRegistryClosed}
	case !ok:
		return nil, &plugins.PluginNotFoundError{Ref: ref}
	case state == plugins.StateStarted:
		return instance, nil
	case state.Terminal(), !rec.lazy, !started:
		return nil, &plugins.PluginNotFoundError{Ref: ref, State: state}
	}

	if err := r.bringUp(ctx, rec, plugins.StateStarted, nil); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return rec.instance, nil
}

// List returns the sorted names of every non-FAILED provider in category
func (r *Registry) List(category plugins.Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := []string{}
	for ref, rec := range r.records {
		if ref.Category == category && rec.state != plugins.StateFailed {
			names = append(names, ref.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Info returns a snapshot of one provider, including FAILED ones
func (r *Registry) Info(category plugins.Category, name string) (PluginInfo, error) {
	ref := plugins.NewRef(category, name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[ref]
	if !ok {
		return PluginInfo{}, &plugins.PluginNotFoundError{Ref: ref}
	}
	return rec.info(), nil
}

// Plugins returns snapshots of every provider sorted by ref
func (r *Registry) Plugins() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginInfo, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Less(out[j].Ref) })
	return out
}

// Descriptors returns the metadata of every provider that resolved to a class
func (r *Registry) Descriptors() []plugins.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugins.Descriptor, 0, len(r.records))
	for ref, rec := range r.records {
		if rec.class == nil {
			continue
		}
		out = append(out, plugins.Descriptor{Category: ref.Category, Metadata: rec.md})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().Less(out[j].Ref()) })
	return out
}

// State returns the lifecycle state of ref, or "" if unknown
func (r *Registry) State(ref plugins.Ref) plugins.LifecycleState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.records[ref]; ok {
		return rec.state
	}
	return ""
}

// Report returns the last StartupReport, or nil before StartAll finishes
func (r *Registry) Report() *StartupReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report
}

// Readiness reports whether StartAll has finished with a usable platform.
// A degraded platform is ready; a failed one is not.
func (r *Registry) Readiness() (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case r.closed:
		return false, "registry is shut down"
	case !r.started:
		return false, "startup has not run"
	case r.report == nil:
		return false, "startup in progress"
	}
	return r.report.Status() != StatusFailed, r.report.Summary()
}

func (rec *record) info() PluginInfo {
	info := PluginInfo{
		Ref:            rec.ref,
		Category:       rec.ref.Category,
		Name:           rec.ref.Name,
		Version:        rec.md.Version,
		HostAPIVersion: rec.md.HostAPIVersion,
		Description:    rec.md.Description,
		Dependencies:   rec.md.Dependencies,
		Reference:      rec.decl.Reference,
		Source:         rec.decl.Source,
		State:          rec.state,
		Lazy:           rec.lazy,
		FailedStage:    rec.failedStage,
	}
	if rec.err != nil {
		info.Error = rec.err.Error()
	}
	if !rec.startedAt.IsZero() {
		t := rec.startedAt
		info.StartedAt = &t
	}
	return info
}
