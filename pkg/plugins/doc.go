// Package plugins defines the contract between the host platform and its providers.
//
// # Overview
//
// Every provider (compute engine, orchestrator, catalog, storage backend, lineage
// sink, secrets or identity provider, ...) is registered under a Category and a
// short name. The pair is the provider's Ref and is unique within a registry.
//
// # Contract
//
// Class: the resolved handle discovery produces. It exposes Metadata and a
// constructor; nothing is instantiated until the registry decides to start it.
//
// Provider: a constructed instance. Lifecycle hooks are optional capabilities
// checked by type assertion:
//
//	type Starter interface {
//		Startup(ctx context.Context, env *Environment) error
//	}
//
//	type Stopper interface {
//		Shutdown(ctx context.Context) error
//	}
//
//	type HealthChecker interface {
//		HealthCheck(ctx context.Context) HealthStatus
//	}
//
// Providers without a HealthChecker are reported HEALTHY with DefaultHealthMessage.
//
// # Categories
//
// Each Category maps to exactly one reserved discovery namespace key:
//
//	COMPUTE           platform.computes
//	ORCHESTRATOR      platform.orchestrators
//	CATALOG           platform.catalogs
//	STORAGE           platform.storage
//	TELEMETRY_BACKEND platform.telemetry_backends
//	LINEAGE_BACKEND   platform.lineage_backends
//	TRANSFORM_ENGINE  platform.transform_engines
//	SEMANTIC_LAYER    platform.semantic_layers
//	INGESTION         platform.ingestion
//	SECRETS           platform.secrets
//	IDENTITY          platform.identity
//
// # Lifecycle
//
//	DISCOVERED -> RESOLVED -> VERSION_CHECKED -> CONFIGURED -> STARTED -> SHUTDOWN
//
// FAILED is terminal and reachable from any non-terminal state.
//
// # Errors
//
// All failures are typed (DuplicateRegistrationError, PluginNotFoundError,
// CyclicDependencyError, ...) and carry the Ref they concern, so callers can
// use errors.As to react to them.
//
// # Usage Example
//
//	md := plugins.Metadata{
//		Name:           "duckdb",
//		Version:        "0.3.1",
//		HostAPIVersion: "1.2.0",
//		Dependencies:   []plugins.Ref{plugins.NewRef(plugins.CategorySecrets, "env")},
//	}
//	class := plugins.NewClass(md, func() (plugins.Provider, error) {
//		return &duckdb.Engine{}, nil
//	})
//
// # Related Packages
//
//   - pkg/discovery: produces Classes from namespace declarations
//   - pkg/registry: owns lifecycle state
package plugins
