// Package postgres is the CATALOG/postgres provider: table metadata served
// from a PostgreSQL information schema. Its password comes from the
// SECRETS/env provider.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/pluginhost/pkg/discovery"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/providers"
	"github.com/platinummonkey/pluginhost/pkg/validation"
)

// Name is the provider name under CATALOG
const Name = "postgres"

var (
	tracer = otel.Tracer(observability.TracerName + "/providers/postgres")

	secretsRef = plugins.NewRef(plugins.CategorySecrets, "env")
)

// Config is the provider configuration
type Config struct {
	Host           string `json:"host,omitempty" jsonschema:"default=localhost"`
	Port           int    `json:"port,omitempty" jsonschema:"minimum=1,maximum=65535,default=5432"`
	Database       string `json:"database" jsonschema:"required"`
	User           string `json:"user" jsonschema:"required"`
	PasswordSecret string `json:"password_secret,omitempty" jsonschema:"default=POSTGRES_PASSWORD,description=Key looked up in SECRETS/env"`
	SSLMode        string `json:"sslmode,omitempty" jsonschema:"enum=disable,enum=require,enum=verify-ca,enum=verify-full,default=disable"`
	MaxConns       int    `json:"max_conns,omitempty" jsonschema:"minimum=1,default=10"`
	MinConns       int    `json:"min_conns,omitempty" jsonschema:"minimum=0,default=2"`
	ConnectTimeout string `json:"connect_timeout,omitempty" jsonschema:"default=5s"`
}

var configSchema = validation.SchemaFor(&Config{})

// Metadata describes the provider
func Metadata() plugins.Metadata {
	return plugins.Metadata{
		Name:           Name,
		Version:        "1.0.0",
		HostAPIVersion: "1.2.0",
		Description:    "PostgreSQL information schema catalog",
		ConfigSchema:   configSchema,
		Dependencies:   []plugins.Ref{secretsRef},
	}
}

// Table is one catalog entry
type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// Provider serves table metadata
type Provider struct {
	open func(driver, dsn string) (*sql.DB, error)

	mu sync.RWMutex
	db *sql.DB
}

// New creates an unstarted provider
func New() *Provider {
	return &Provider{open: sql.Open}
}

// Class is what discovery resolves the provider's reference to
func Class() plugins.Class {
	return plugins.NewClass(Metadata(), func() (plugins.Provider, error) {
		return New(), nil
	})
}

func init() {
	discovery.Register(plugins.CategoryCatalog, Name, providers.ModulePrefix+"postgres", "Provider", Class())
}

// Metadata implements plugins.Provider
func (p *Provider) Metadata() plugins.Metadata { return Metadata() }

// DSN builds a lib/pq connection URL
func DSN(cfg Config, password string) (string, error) {
	timeout, err := time.ParseDuration(cfg.ConnectTimeout)
	if err != nil {
		return "", fmt.Errorf("invalid connect_timeout %q: %w", cfg.ConnectTimeout, err)
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	q.Set("connect_timeout", strconv.Itoa(int(timeout.Seconds())))

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	if password == "" {
		u.User = url.User(cfg.User)
	}
	return u.String(), nil
}

// Startup reads the password from SECRETS/env, opens the pool and pings it
func (p *Provider) Startup(ctx context.Context, env *plugins.Environment) error {
	var cfg Config
	if err := validation.Decode(env.Config, &cfg); err != nil {
		return err
	}

	secrets, err := providers.SecretStoreFrom(env, secretsRef.Name)
	if err != nil {
		return err
	}
	password, err := providers.LookupSecret(secrets, cfg.PasswordSecret)
	if err != nil {
		return err
	}

	dsn, err := DSN(cfg, password)
	if err != nil {
		return err
	}

	db, err := p.open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	p.mu.Lock()
	p.db = db
	p.mu.Unlock()

	env.Logger.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"database": cfg.Database,
	}).Info("Postgres catalog connected")
	return nil
}

const listTablesQuery = `
SELECT table_schema, table_name, table_type
FROM information_schema.tables
WHERE table_schema = ANY($1)
ORDER BY table_schema, table_name`

// Tables lists the tables in the given schemas ("public" when none are given)
func (p *Provider) Tables(ctx context.Context, schemas ...string) ([]Table, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Tables",
		trace.WithAttributes(attribute.StringSlice("db.schemas", schemas)),
	)
	defer span.End()

	db, err := p.handle()
	if err != nil {
		return nil, err
	}
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}

	rows, err := db.QueryContext(ctx, listTablesQuery, pq.Array(schemas))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name, &t.Type); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.tables", len(tables)))
	return tables, nil
}

// HealthCheck pings the primary and reports pool saturation as DEGRADED
func (p *Provider) HealthCheck(ctx context.Context) plugins.HealthStatus {
	db, err := p.handle()
	if err != nil {
		return plugins.Unhealthy(err.Error())
	}
	if err := db.PingContext(ctx); err != nil {
		return plugins.Unhealthy(fmt.Sprintf("ping failed: %v", err))
	}

	stats := db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		return plugins.Degraded(fmt.Sprintf("connection pool exhausted (%d/%d in use)", stats.InUse, stats.MaxOpenConnections))
	}
	return plugins.Healthy(fmt.Sprintf("%d/%d connections in use", stats.InUse, stats.MaxOpenConnections))
}

// Shutdown closes the pool
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Provider) handle() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return nil, fmt.Errorf("postgres catalog is not started")
	}
	return p.db, nil
}
