// Package envsecrets is the SECRETS/env provider: secrets read from process
// environment variables.
package envsecrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/platinummonkey/pluginhost/pkg/discovery"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/providers"
	"github.com/platinummonkey/pluginhost/pkg/validation"
)

// Name is the provider name under SECRETS
const Name = "env"

// Config is the provider configuration
type Config struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"default=PLUGINHOST_SECRET_,description=Prefix prepended to every key"`
	// Required keys are checked at startup so a missing secret fails early
	Required []string `json:"required,omitempty" jsonschema:"description=Keys that must be set at startup"`
}

var configSchema = validation.SchemaFor(&Config{})

// Metadata describes the provider
func Metadata() plugins.Metadata {
	return plugins.Metadata{
		Name:           Name,
		Version:        "1.0.0",
		HostAPIVersion: "1.0.0",
		Description:    "Secrets from environment variables",
		ConfigSchema:   configSchema,
	}
}

// Provider implements plugins.Provider and providers.SecretStore
type Provider struct {
	lookup func(string) (string, bool)

	mu     sync.RWMutex
	config Config
}

// New creates the provider reading from the process environment
func New() *Provider {
	return &Provider{lookup: os.LookupEnv}
}

// Class is what discovery resolves the provider's reference to
func Class() plugins.Class {
	return plugins.NewClass(Metadata(), func() (plugins.Provider, error) {
		return New(), nil
	})
}

func init() {
	discovery.Register(plugins.CategorySecrets, Name, providers.ModulePrefix+"envsecrets", "Provider", Class())
}

// Metadata implements plugins.Provider
func (p *Provider) Metadata() plugins.Metadata { return Metadata() }

// Startup decodes the config and checks required keys
func (p *Provider) Startup(ctx context.Context, env *plugins.Environment) error {
	var cfg Config
	if err := validation.Decode(env.Config, &cfg); err != nil {
		return err
	}

	p.mu.Lock()
	p.config = cfg
	p.mu.Unlock()

	var missing []string
	for _, key := range cfg.Required {
		if _, err := p.Secret(key); err != nil {
			missing = append(missing, cfg.Prefix+key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required secrets are not set: %s", strings.Join(missing, ", "))
	}

	env.Logger.WithField("prefix", cfg.Prefix).Debug("Environment secrets ready")
	return nil
}

// Secret implements providers.SecretStore
func (p *Provider) Secret(key string) (string, error) {
	p.mu.RLock()
	prefix := p.config.Prefix
	p.mu.RUnlock()

	v, ok := p.lookup(prefix + key)
	if !ok {
		return "", fmt.Errorf("%w: %s", providers.ErrSecretNotFound, prefix+key)
	}
	return v, nil
}
