// Package discovery finds provider declarations and resolves them to provider classes.
//
// # Overview
//
// Each plugin category owns one reserved namespace key (see plugins.Category).
// An Index maps a namespace to declarations of the form name -> reference,
// where a reference is "module:Attribute". A Resolver turns the reference
// into a value, and AsClass performs the checked downcast to plugins.Class.
//
// # Indexes
//
// Builtin: written by Publish/Register from provider packages' init functions.
//
//	func init() {
//		discovery.Register(plugins.CategoryCompute, "sqlite",
//			"github.com/acme/providers/sqlite", "Provider", Class)
//	}
//
// ManifestIndex: plugin.yaml files on disk.
//
//	name: acme-engines
//	version: 1.0.0
//	entry_points:
//	  platform.computes:
//	    duckdb: ./duckdb.so:Provider
//
// # Resolvers
//
// SymbolTable resolves in-process values, GoPluginResolver opens .so files
// with the standard plugin package, and ChainResolver tries each in turn.
//
// # Failure handling
//
// A declaration that cannot be resolved (malformed reference, unknown module,
// missing attribute, wrong type, panic) is recorded in Report.Failed with a
// *plugins.DiscoveryResolutionError and the scan moves on. DiscoverAll never
// returns an error and never instantiates a provider.
package discovery
