package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// HostAPIVersion is the version of the host contract this build implements
	HostAPIVersion = "1.4.0"

	// NamespacePrefix is reserved for discovery namespace keys
	NamespacePrefix = "platform."
)

// Category is a closed classification of provider capability
type Category string

const (
	CategoryCompute          Category = "COMPUTE"
	CategoryOrchestrator     Category = "ORCHESTRATOR"
	CategoryCatalog          Category = "CATALOG"
	CategoryStorage          Category = "STORAGE"
	CategoryTelemetryBackend Category = "TELEMETRY_BACKEND"
	CategoryLineageBackend   Category = "LINEAGE_BACKEND"
	CategoryTransformEngine  Category = "TRANSFORM_ENGINE"
	CategorySemanticLayer    Category = "SEMANTIC_LAYER"
	CategoryIngestion        Category = "INGESTION"
	CategorySecrets          Category = "SECRETS"
	CategoryIdentity         Category = "IDENTITY"
)

var namespaces = map[Category]string{
	CategoryCompute:          "platform.computes",
	CategoryOrchestrator:     "platform.orchestrators",
	CategoryCatalog:          "platform.catalogs",
	CategoryStorage:          "platform.storage",
	CategoryTelemetryBackend: "platform.telemetry_backends",
	CategoryLineageBackend:   "platform.lineage_backends",
	CategoryTransformEngine:  "platform.transform_engines",
	CategorySemanticLayer:    "platform.semantic_layers",
	CategoryIngestion:        "platform.ingestion",
	CategorySecrets:          "platform.secrets",
	CategoryIdentity:         "platform.identity",
}

// AllCategories returns every known category in declaration order
func AllCategories() []Category {
	return []Category{
		CategoryCompute,
		CategoryOrchestrator,
		CategoryCatalog,
		CategoryStorage,
		CategoryTelemetryBackend,
		CategoryLineageBackend,
		CategoryTransformEngine,
		CategorySemanticLayer,
		CategoryIngestion,
		CategorySecrets,
		CategoryIdentity,
	}
}

// Namespace returns the reserved discovery key for the category, or "" if unknown
func (c Category) Namespace() string {
	return namespaces[c]
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	_, ok := namespaces[c]
	return ok
}

// ParseCategory accepts a category name (any case) or its namespace key
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if c := Category(strings.ToUpper(s)); c.Valid() {
		return c, nil
	}
	for c, ns := range namespaces {
		if ns == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown plugin category: %q", s)
}

// Ref identifies a provider within the registry
type Ref struct {
	Category Category
	Name     string
}

// NewRef is shorthand for Ref{Category: c, Name: name}
func NewRef(c Category, name string) Ref {
	return Ref{Category: c, Name: name}
}

func (r Ref) String() string {
	return string(r.Category) + "/" + r.Name
}

// Less orders refs by (category, name)
func (r Ref) Less(o Ref) bool {
	if r.Category != o.Category {
		return r.Category < o.Category
	}
	return r.Name < o.Name
}

// MarshalText renders the ref as CATEGORY/name so it can key JSON objects
func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses CATEGORY/name
func (r *Ref) UnmarshalText(b []byte) error {
	parsed, err := ParseRef(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRef parses "CATEGORY/name"
func ParseRef(s string) (Ref, error) {
	cat, name, ok := strings.Cut(s, "/")
	if !ok || name == "" {
		return Ref{}, fmt.Errorf("invalid plugin reference %q: expected CATEGORY/name", s)
	}
	c, err := ParseCategory(cat)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Category: c, Name: name}, nil
}

// Declaration is a single unresolved discovery entry
type Declaration struct {
	Category  Category `json:"category"`
	Name      string   `json:"name"`
	Reference string   `json:"reference"`
	Source    string   `json:"source,omitempty"` // index the entry came from
}

// Ref returns the declaration's identity
func (d Declaration) Ref() Ref {
	return Ref{Category: d.Category, Name: d.Name}
}

// Metadata is the contract every provider class exposes
type Metadata struct {
	Name           string          `json:"name"`
	Version        string          `json:"version"`
	HostAPIVersion string          `json:"host_api_version"`
	Description    string          `json:"description,omitempty"`
	ConfigSchema   json.RawMessage `json:"config_schema,omitempty"` // nil accepts no configuration
	Dependencies   []Ref           `json:"dependencies,omitempty"`
}

// Descriptor pairs metadata with the category it is registered under
type Descriptor struct {
	Category Category
	Metadata Metadata
}

// Ref returns the descriptor's identity
func (d Descriptor) Ref() Ref {
	return Ref{Category: d.Category, Name: d.Metadata.Name}
}

// Provider is a constructed plugin instance
type Provider interface {
	Metadata() Metadata
}

// Class is the resolved handle produced by discovery. Nothing is
// instantiated until New is called.
type Class interface {
	Metadata() Metadata
	New() (Provider, error)
}

type class struct {
	md      Metadata
	factory func() (Provider, error)
}

func (c *class) Metadata() Metadata     { return c.md }
func (c *class) New() (Provider, error) { return c.factory() }

// NewClass builds a Class from static metadata and a constructor
func NewClass(md Metadata, factory func() (Provider, error)) Class {
	return &class{md: md, factory: factory}
}

// InstanceClass wraps an already constructed provider
func InstanceClass(p Provider) Class {
	return &class{md: p.Metadata(), factory: func() (Provider, error) { return p, nil }}
}

// Environment is handed to Starter.Startup
type Environment struct {
	Config       map[string]any
	Dependencies map[Ref]Provider
	Logger       *logrus.Entry
}

// Dependency returns a started dependency by reference
func (e *Environment) Dependency(c Category, name string) (Provider, bool) {
	p, ok := e.Dependencies[Ref{Category: c, Name: name}]
	return p, ok
}

// Starter is implemented by providers with a startup hook
type Starter interface {
	Startup(ctx context.Context, env *Environment) error
}

// Stopper is implemented by providers with a shutdown hook
type Stopper interface {
	Shutdown(ctx context.Context) error
}

// HealthChecker is implemented by providers with a custom health check
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthState is the coarse health of a provider
type HealthState string

const (
	HealthHealthy   HealthState = "HEALTHY"
	HealthDegraded  HealthState = "DEGRADED"
	HealthUnhealthy HealthState = "UNHEALTHY"
)

// DefaultHealthMessage is reported for providers without a health check
const DefaultHealthMessage = "no health check implemented; assuming healthy"

// HealthStatus is the result of a single health check
type HealthStatus struct {
	State     HealthState `json:"state"`
	Message   string      `json:"message"`
	CheckedAt time.Time   `json:"checked_at"`
}

// DefaultHealthStatus is what the registry reports when a provider has no HealthCheck
func DefaultHealthStatus() HealthStatus {
	return HealthStatus{State: HealthHealthy, Message: DefaultHealthMessage, CheckedAt: time.Now()}
}

// Healthy returns a HEALTHY status with msg
func Healthy(msg string) HealthStatus {
	return HealthStatus{State: HealthHealthy, Message: msg, CheckedAt: time.Now()}
}

// Degraded returns a DEGRADED status with msg
func Degraded(msg string) HealthStatus {
	return HealthStatus{State: HealthDegraded, Message: msg, CheckedAt: time.Now()}
}

// Unhealthy returns an UNHEALTHY status with msg
func Unhealthy(msg string) HealthStatus {
	return HealthStatus{State: HealthUnhealthy, Message: msg, CheckedAt: time.Now()}
}

// LifecycleState is a registered plugin's position in the state machine
type LifecycleState string

const (
	StateDiscovered     LifecycleState = "DISCOVERED"
	StateResolved       LifecycleState = "RESOLVED"
	StateVersionChecked LifecycleState = "VERSION_CHECKED"
	StateConfigured     LifecycleState = "CONFIGURED"
	StateStarted        LifecycleState = "STARTED"
	StateShutdown       LifecycleState = "SHUTDOWN"
	StateFailed         LifecycleState = "FAILED"
)

var stateRank = map[LifecycleState]int{
	StateDiscovered:     0,
	StateResolved:       1,
	StateVersionChecked: 2,
	StateConfigured:     3,
	StateStarted:        4,
	StateShutdown:       5,
}

// Terminal reports whether no further transition is possible
func (s LifecycleState) Terminal() bool {
	return s == StateFailed || s == StateShutdown
}

// CanTransition reports whether s -> to is a legal move.
// FAILED is reachable from any non-terminal state; everything else moves forward only.
func (s LifecycleState) CanTransition(to LifecycleState) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	next, ok := stateRank[to]
	return ok && next > from
}

// Stage names a step of the registry pipeline
type Stage string

const (
	StageDiscovery     Stage = "discovery"
	StageRegistration  Stage = "registration"
	StageDependencies  Stage = "dependency_resolution"
	StageVersionCheck  Stage = "version_check"
	StageConfig        Stage = "config_validation"
	StageInstantiation Stage = "instantiation"
	StageStartup       Stage = "startup"
	StageReadiness     Stage = "readiness"
	StageShutdown      Stage = "shutdown"
	StageHealthCheck   Stage = "health_check"
)
