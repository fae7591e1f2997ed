// Package sqlite is the COMPUTE/sqlite provider: an embedded SQL engine for
// small local workloads.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/pluginhost/pkg/discovery"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/providers"
	"github.com/platinummonkey/pluginhost/pkg/validation"
)

// Name is the provider name under COMPUTE
const Name = "sqlite"

// Config is the provider configuration
type Config struct {
	Path         string `json:"path,omitempty" jsonschema:"default=:memory:,description=Database file or :memory:"`
	MaxOpenConns int    `json:"max_open_conns,omitempty" jsonschema:"minimum=1,default=1"`
	BusyTimeout  string `json:"busy_timeout,omitempty" jsonschema:"default=5s"`
	ReadOnly     bool   `json:"read_only,omitempty"`
}

var configSchema = validation.SchemaFor(&Config{})

// Metadata describes the provider
func Metadata() plugins.Metadata {
	return plugins.Metadata{
		Name:           Name,
		Version:        "1.0.0",
		HostAPIVersion: "1.0.0",
		Description:    "Embedded SQLite compute engine",
		ConfigSchema:   configSchema,
	}
}

// Provider runs SQL against a SQLite database
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
	discovery.Register(plugins.CategoryCompute, Name, providers.ModulePrefix+"sqlite", "Provider", Class())
}

// Metadata implements plugins.Provider
func (p *Provider) Metadata() plugins.Metadata { return Metadata() }

// DSN builds the go-sqlite3 connection string for cfg
func DSN(cfg Config) (string, error) {
	busy, err := time.ParseDuration(cfg.BusyTimeout)
	if err != nil {
		return "", fmt.Errorf("invalid busy_timeout %q: %w", cfg.BusyTimeout, err)
	}
	mode := "rwc"
	if cfg.ReadOnly {
		mode = "ro"
	}
	path := cfg.Path
	if path == ":memory:" {
		return fmt.Sprintf("file::memory:?cache=shared&_busy_timeout=%d", busy.Milliseconds()), nil
	}
	return fmt.Sprintf("file:%s?mode=%s&_busy_timeout=%d", path, mode, busy.Milliseconds()), nil
}

// Startup opens the database and checks it answers
func (p *Provider) Startup(ctx context.Context, env *plugins.Environment) error {
	var cfg Config
	if err := validation.Decode(env.Config, &cfg); err != nil {
		return err
	}
	dsn, err := DSN(cfg)
	if err != nil {
		return err
	}

	db, err := p.open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	p.mu.Lock()
	p.db = db
	p.mu.Unlock()

	env.Logger.WithField("path", cfg.Path).Info("SQLite compute engine ready")
	return nil
}

// Query runs a read query and returns every row as a column->value map
func (p *Provider) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Exec runs a statement and returns the number of affected rows
func (p *Provider) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	db, err := p.handle()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	return res.RowsAffected()
}

// HealthCheck pings the database
func (p *Provider) HealthCheck(ctx context.Context) plugins.HealthStatus {
	db, err := p.handle()
	if err != nil {
		return plugins.Unhealthy(err.Error())
	}
	if err := db.PingContext(ctx); err != nil {
		return plugins.Unhealthy(fmt.Sprintf("ping failed: %v", err))
	}
	stats := db.Stats()
	return plugins.Healthy(fmt.Sprintf("%d open connections", stats.OpenConnections))
}

// Shutdown closes the database
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
		return nil, fmt.Errorf("sqlite provider is not started")
	}
	return p.db, nil
}
