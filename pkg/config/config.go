package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/registry"
)

// EnvConfigFile names the YAML file LoadConfig reads when no path is given
const EnvConfigFile = "PLUGINHOST_CONFIG"

// Config holds all application configuration
type Config struct {
	// Admin server configuration
	Server ServerConfig `yaml:"server"`

	// Registry and discovery configuration
	Plugins PluginsConfig `yaml:"plugins"`

	// Per-provider configuration keyed by category then provider name
	Providers map[string]map[string]map[string]any `yaml:"providers"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Cron schedule for the periodic HealthCheckAll; empty disables it
	HealthSchedule string `yaml:"health_schedule"`
}

// PluginsConfig holds registry settings
type PluginsConfig struct {
	HostAPIVersion  string        `yaml:"host_api_version"`
	Categories      []string      `yaml:"categories"`
	LazyCategories  []string      `yaml:"lazy_categories"`
	ManifestDirs    []string      `yaml:"manifest_dirs"`
	PluginDirs      []string      `yaml:"plugin_dirs"` // searched for Go plugin .so files
	StartupTimeout  time.Duration `yaml:"startup_timeout"`
	HealthTimeout   time.Duration `yaml:"health_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
	OTelExportMetrics  bool    `yaml:"otel_export_metrics"` // also push metrics over OTLP
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthSchedule:  "@every 30s",
		},
		Plugins: PluginsConfig{
			HostAPIVersion:  plugins.HostAPIVersion,
			StartupTimeout:  registry.DefaultStartupTimeout,
			HealthTimeout:   registry.DefaultHealthTimeout,
			ShutdownTimeout: registry.DefaultShutdownTimeout,
		},
		Providers: map[string]map[string]map[string]any{},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          observability.FormatText,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "pluginhost",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads the file named by PLUGINHOST_CONFIG (if any), then applies
// environment overrides
func LoadConfig() (*Config, error) {
	return Load(getEnv(EnvConfigFile, ""))
}

// Load reads path (skipped when empty) over the defaults, applies PLUGINHOST_*
// environment overrides and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides cfg with every PLUGINHOST_* variable that is set
func applyEnv(cfg *Config) {
	// Server
	cfg.Server.Addr = getEnv("PLUGINHOST_ADDR", cfg.Server.Addr)
	cfg.Server.ReadTimeout = getEnvDuration("PLUGINHOST_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("PLUGINHOST_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("PLUGINHOST_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("PLUGINHOST_SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.HealthSchedule = getEnv("PLUGINHOST_HEALTH_SCHEDULE", cfg.Server.HealthSchedule)

	// Plugins
	cfg.Plugins.HostAPIVersion = getEnv("PLUGINHOST_HOST_API_VERSION", cfg.Plugins.HostAPIVersion)
	cfg.Plugins.Categories = getEnvList("PLUGINHOST_CATEGORIES", cfg.Plugins.Categories)
	cfg.Plugins.LazyCategories = getEnvList("PLUGINHOST_LAZY_CATEGORIES", cfg.Plugins.LazyCategories)
	cfg.Plugins.ManifestDirs = getEnvList("PLUGINHOST_MANIFEST_DIRS", cfg.Plugins.ManifestDirs)
	cfg.Plugins.PluginDirs = getEnvList("PLUGINHOST_PLUGIN_DIRS", cfg.Plugins.PluginDirs)
	cfg.Plugins.StartupTimeout = getEnvDuration("PLUGINHOST_STARTUP_TIMEOUT", cfg.Plugins.StartupTimeout)
	cfg.Plugins.HealthTimeout = getEnvDuration("PLUGINHOST_HEALTH_TIMEOUT", cfg.Plugins.HealthTimeout)
	cfg.Plugins.ShutdownTimeout = getEnvDuration("PLUGINHOST_SHUTDOWN_TIMEOUT", cfg.Plugins.ShutdownTimeout)

	// Observability
	cfg.Observability.LogLevel = getEnv("PLUGINHOST_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = getEnv("PLUGINHOST_LOG_FORMAT", cfg.Observability.LogFormat)
	cfg.Observability.MetricsEnabled = getEnvBool("PLUGINHOST_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("PLUGINHOST_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("PLUGINHOST_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("PLUGINHOST_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("PLUGINHOST_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("PLUGINHOST_OTEL_INSECURE", cfg.Observability.OTelInsecure)
	cfg.Observability.OTelSampleRatio = getEnvFloat("PLUGINHOST_OTEL_SAMPLE_RATIO", cfg.Observability.OTelSampleRatio)
	cfg.Observability.OTelExportMetrics = getEnvBool("PLUGINHOST_OTEL_EXPORT_METRICS", cfg.Observability.OTelExportMetrics)
}

// Validate checks if the configuration is valid. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error

	// Server
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server addr is required"))
	}
	if c.Server.HealthSchedule != "" {
		if _, err := cron.ParseStandard(c.Server.HealthSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid health schedule %q: %w", c.Server.HealthSchedule, err))
		}
	}

	// Plugins
	if _, err := semver.NewVersion(c.Plugins.HostAPIVersion); err != nil {
		errs = append(errs, fmt.Errorf("invalid host API version: %w", err))
	}
	if _, err := parseCategories(c.Plugins.Categories); err != nil {
		errs = append(errs, fmt.Errorf("plugins.categories: %w", err))
	}
	if _, err := parseCategories(c.Plugins.LazyCategories); err != nil {
		errs = append(errs, fmt.Errorf("plugins.lazy_categories: %w", err))
	}
	for name, d := range map[string]time.Duration{
		"startup_timeout":  c.Plugins.StartupTimeout,
		"health_timeout":   c.Plugins.HealthTimeout,
		"shutdown_timeout": c.Plugins.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("plugins.%s must be positive, got %s", name, d))
		}
	}
	if _, err := c.ProviderConfigs(); err != nil {
		errs = append(errs, err)
	}

	// Observability
	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Observability.LogLevel))
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "", observability.FormatText, observability.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q: must be %s or %s",
			c.Observability.LogFormat, observability.FormatText, observability.FormatJSON))
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// CategoryList returns the categories to discover; all of them when none are configured
func (c *Config) CategoryList() []plugins.Category {
	cats, _ := parseCategories(c.Plugins.Categories)
	if len(cats) == 0 {
		return plugins.AllCategories()
	}
	return cats
}

// LazyCategoryList returns the categories started on first use
func (c *Config) LazyCategoryList() []plugins.Category {
	cats, _ := parseCategories(c.Plugins.LazyCategories)
	return cats
}

// ProviderConfigs flattens the providers block into per-ref configuration
func (c *Config) ProviderConfigs() (map[plugins.Ref]map[string]any, error) {
	out := make(map[plugins.Ref]map[string]any)
	for cat, byName := range c.Providers {
		category, err := plugins.ParseCategory(cat)
		if err != nil {
			return nil, fmt.Errorf("providers: %w", err)
		}
		for name, cfg := range byName {
			if cfg == nil {
				cfg = map[string]any{}
			}
			out[plugins.NewRef(category, name)] = cfg
		}
	}
	return out, nil
}

// RegistryOptions turns the plugins and providers blocks into registry options
func (c *Config) RegistryOptions() ([]registry.Option, error) {
	configs, err := c.ProviderConfigs()
	if err != nil {
		return nil, err
	}
	return []registry.Option{
		registry.WithHostAPIVersion(c.Plugins.HostAPIVersion),
		registry.WithCategories(c.CategoryList()...),
		registry.WithLazyCategories(c.LazyCategoryList()...),
		registry.WithStartupTimeout(c.Plugins.StartupTimeout),
		registry.WithHealthTimeout(c.Plugins.HealthTimeout),
		registry.WithShutdownTimeout(c.Plugins.ShutdownTimeout),
		registry.WithProviderConfigs(configs),
	}, nil
}

// OTel returns the OpenTelemetry settings in the form InitOTel takes
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
		ExportMetrics:  c.Observability.OTelExportMetrics,
	}
}

func parseCategories(names []string) ([]plugins.Category, error) {
	out := make([]plugins.Category, 0, len(names))
	for _, n := range names {
		c, err := plugins.ParseCategory(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable, or returns the default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
