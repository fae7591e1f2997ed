// Package cli provides the pluginhost command-line interface.
//
// # Commands
//
// serve: discover and start every provider, then serve the admin API,
// health endpoints and Prometheus metrics until SIGINT/SIGTERM
//
//	pluginhost serve --config /etc/pluginhost/config.yaml
//
// check: start every provider once, print the startup report and shut down.
// Exits non-zero when startup failed, or when any provider failed with --strict.
//
//	pluginhost check --strict
//	pluginhost check -o json
//
// list: show what discovery finds without instantiating anything
//
//	pluginhost list --category STORAGE --category SECRETS
//
// graph: print the dependency edges and the order providers would start in
//
//	pluginhost graph
//	pluginhost graph -o json   # cytoscape elements
//
// # Configuration
//
// Every command reads the file given by --config (or $PLUGINHOST_CONFIG) and
// PLUGINHOST_* environment variables; see pkg/config. --log-level and
// --log-format override the configured values.
package cli
