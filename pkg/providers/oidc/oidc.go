// Package oidc is the IDENTITY/oidc provider. It verifies ID tokens issued by
// an OpenID Connect issuer and mints client-credentials access tokens for
// service-to-service calls.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/platinummonkey/pluginhost/pkg/discovery"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/providers"
	"github.com/platinummonkey/pluginhost/pkg/providers/envsecrets"
	"github.com/platinummonkey/pluginhost/pkg/validation"
)

// Name is the provider name under IDENTITY
const Name = "oidc"

var secretsRef = plugins.NewRef(plugins.CategorySecrets, envsecrets.Name)

// Config is the provider configuration
type Config struct {
	IssuerURL       string   `json:"issuer_url" jsonschema:"required,minLength=1,description=OpenID Connect issuer"`
	ClientID        string   `json:"client_id" jsonschema:"required,minLength=1"`
	ClientSecretKey string   `json:"client_secret_key,omitempty" jsonschema:"default=OIDC_CLIENT_SECRET,description=Secret holding the client secret"`
	Scopes          []string `json:"scopes,omitempty"`
	SkipIssuerCheck bool     `json:"skip_issuer_check,omitempty"`
}

var configSchema = validation.SchemaFor(&Config{})

// Metadata describes the provider
func Metadata() plugins.Metadata {
	return plugins.Metadata{
		Name:           Name,
		Version:        "1.0.0",
		HostAPIVersion: "1.4.0",
		Description:    "OpenID Connect token verification and client credentials",
		ConfigSchema:   configSchema,
		Dependencies:   []plugins.Ref{secretsRef},
	}
}

// Identity is the verified subject of an ID token
type Identity struct {
	Subject string
	Email   string
	Issuer  string
	Expiry  time.Time
	Claims  map[string]any
}

// Provider verifies ID tokens against the configured issuer
type Provider struct {
	mu       sync.RWMutex
	verifier *oidc.IDTokenVerifier
	tokens   oauth2.TokenSource
	issuer   string
}

// New creates an unstarted provider
func New() *Provider {
	return &Provider{}
}

// Class is what discovery resolves the provider's reference to
func Class() plugins.Class {
	return plugins.NewClass(Metadata(), func() (plugins.Provider, error) {
		return New(), nil
	})
}

func init() {
	discovery.Register(plugins.CategoryIdentity, Name, providers.ModulePrefix+"oidc", "Provider", Class())
}

// Metadata implements plugins.Provider
func (p *Provider) Metadata() plugins.Metadata { return Metadata() }

// Startup runs issuer discovery and prepares the token source
func (p *Provider) Startup(ctx context.Context, env *plugins.Environment) error {
	var cfg Config
	if err := validation.Decode(env.Config, &cfg); err != nil {
		return err
	}

	store, err := providers.SecretStoreFrom(env, envsecrets.Name)
	if err != nil {
		return err
	}
	secret, err := providers.LookupSecret(store, cfg.ClientSecretKey)
	if err != nil {
		return err
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: cfg.SkipIssuerCheck,
	})

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		TokenURL:     provider.Endpoint().TokenURL,
		Scopes:       cfg.Scopes,
	}

	p.mu.Lock()
	p.verifier = verifier
	// the token source outlives the startup deadline
	p.tokens = cc.TokenSource(context.WithoutCancel(ctx))
	p.issuer = cfg.IssuerURL
	p.mu.Unlock()

	env.Logger.WithFields(logrus.Fields{
		"issuer":    cfg.IssuerURL,
		"client_id": cfg.ClientID,
	}).Info("OIDC provider discovered")
	return nil
}

// Verify checks rawIDToken's signature, issuer, audience and expiry
func (p *Provider) Verify(ctx context.Context, rawIDToken string) (*Identity, error) {
	p.mu.RLock()
	verifier := p.verifier
	p.mu.RUnlock()
	if verifier == nil {
		return nil, errors.New("oidc provider is not started")
	}

	token, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	id := &Identity{
		Subject: token.Subject,
		Issuer:  token.Issuer,
		Expiry:  token.Expiry,
		Claims:  claims,
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	return id, nil
}

// TokenSource returns a cached client-credentials token source
func (p *Provider) TokenSource() (oauth2.TokenSource, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.tokens == nil {
		return nil, errors.New("oidc provider is not started")
	}
	return p.tokens, nil
}

// Shutdown drops the verifier and token source
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.verifier = nil
	p.tokens = nil
	p.mu.Unlock()
	return nil
}
