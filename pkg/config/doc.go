// Package config loads pluginhost configuration from a YAML file and
// PLUGINHOST_* environment variables.
//
// # Overview
//
// Defaults are applied first, then the YAML file (if any), then environment
// variables. Validate reports every problem at once.
//
// # File layout
//
//	server:
//	  addr: ":8080"
//	  health_schedule: "@every 30s"
//	plugins:
//	  host_api_version: "1.4.0"
//	  lazy_categories: [SECRETS]
//	  manifest_dirs: [/etc/pluginhost/plugins]
//	  startup_timeout: 30s
//	providers:
//	  STORAGE:
//	    s3:
//	      bucket: lake
//	      region: eu-west-1
//	observability:
//	  log_level: info
//	  log_format: json
//
// Provider blocks are handed to the registry unvalidated; each provider's
// config schema is applied during StartAll.
//
// # Environment
//
//	PLUGINHOST_CONFIG="/etc/pluginhost/config.yaml"
//	PLUGINHOST_ADDR=":8080"
//	PLUGINHOST_HEALTH_SCHEDULE="@every 1m"
//	PLUGINHOST_HOST_API_VERSION="1.4.0"
//	PLUGINHOST_CATEGORIES="COMPUTE,STORAGE"
//	PLUGINHOST_LAZY_CATEGORIES="SECRETS"
//	PLUGINHOST_MANIFEST_DIRS="/etc/pluginhost/plugins"
//	PLUGINHOST_PLUGIN_DIRS="/usr/lib/pluginhost"
//	PLUGINHOST_STARTUP_TIMEOUT="30s"
//	PLUGINHOST_HEALTH_TIMEOUT="5s"
//	PLUGINHOST_SHUTDOWN_TIMEOUT="30s"
//	PLUGINHOST_LOG_LEVEL="debug"
//	PLUGINHOST_LOG_FORMAT="json"
//	PLUGINHOST_METRICS_ENABLED="true"
//	PLUGINHOST_OTEL_ENABLED="true"
//	PLUGINHOST_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//		log.Fatal(err)
//	}
//	opts, err := cfg.RegistryOptions()
package config
