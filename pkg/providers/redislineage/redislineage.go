// Package redislineage is the LINEAGE_BACKEND/redis provider. Dataset edges
// are kept as Redis sets keyed by dataset, one set per direction.
package redislineage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/pluginhost/pkg/discovery"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/providers"
	"github.com/platinummonkey/pluginhost/pkg/validation"
)

// Name is the provider name under LINEAGE_BACKEND
const Name = "redis"

// Config is the provider configuration
type Config struct {
	URL        string `json:"url,omitempty" jsonschema:"default=redis://localhost:6379/0"`
	Password   string `json:"password,omitempty"`
	KeyPrefix  string `json:"key_prefix,omitempty" jsonschema:"default=lineage:"`
	PoolSize   int    `json:"pool_size,omitempty" jsonschema:"minimum=1,default=10"`
	MaxRetries int    `json:"max_retries,omitempty" jsonschema:"minimum=0,default=3"`
}

var configSchema = validation.SchemaFor(&Config{})

// Metadata describes the provider
func Metadata() plugins.Metadata {
	return plugins.Metadata{
		Name:           Name,
		Version:        "1.0.0",
		HostAPIVersion: "1.1.0",
		Description:    "Dataset lineage graph stored in Redis",
		ConfigSchema:   configSchema,
	}
}

// Provider records and queries lineage edges
type Provider struct {
	mu     sync.RWMutex
	client *redis.Client
	prefix string
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
	discovery.Register(plugins.CategoryLineageBackend, Name, providers.ModulePrefix+"redislineage", "Provider", Class())
}

// Metadata implements plugins.Provider
func (p *Provider) Metadata() plugins.Metadata { return Metadata() }

// Options builds redis client options from the config
func Options(cfg Config) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MaxRetries = cfg.MaxRetries
	if opts.MaxRetries == 0 {
		opts.MaxRetries = -1 // go-redis reads 0 as its default of 3
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	return opts, nil
}

// Startup connects and pings the server
func (p *Provider) Startup(ctx context.Context, env *plugins.Environment) error {
	var cfg Config
	if err := validation.Decode(env.Config, &cfg); err != nil {
		return err
	}
	opts, err := Options(cfg)
	if err != nil {
		return err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	p.mu.Lock()
	p.client = client
	p.prefix = cfg.KeyPrefix
	p.mu.Unlock()

	env.Logger.WithFields(logrus.Fields{
		"addr":   opts.Addr,
		"db":     opts.DB,
		"prefix": cfg.KeyPrefix,
	}).Info("Lineage store connected")
	return nil
}

// RecordEdge records that downstream is derived from upstream
func (p *Provider) RecordEdge(ctx context.Context, upstream, downstream string) error {
	if upstream == "" || downstream == "" {
		return errors.New("lineage edge needs both upstream and downstream datasets")
	}
	if upstream == downstream {
		return fmt.Errorf("dataset %s cannot depend on itself", upstream)
	}
	client, prefix, err := p.handle()
	if err != nil {
		return err
	}

	pipe := client.TxPipeline()
	pipe.SAdd(ctx, downKey(prefix, upstream), downstream)
	pipe.SAdd(ctx, upKey(prefix, downstream), upstream)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record lineage edge: %w", err)
	}
	return nil
}

// RemoveDataset drops every edge touching dataset
func (p *Provider) RemoveDataset(ctx context.Context, dataset string) error {
	client, prefix, err := p.handle()
	if err != nil {
		return err
	}
	up, err := client.SMembers(ctx, upKey(prefix, dataset)).Result()
	if err != nil {
		return fmt.Errorf("redis smembers failed: %w", err)
	}
	down, err := client.SMembers(ctx, downKey(prefix, dataset)).Result()
	if err != nil {
		return fmt.Errorf("redis smembers failed: %w", err)
	}

	pipe := client.TxPipeline()
	for _, u := range up {
		pipe.SRem(ctx, downKey(prefix, u), dataset)
	}
	for _, d := range down {
		pipe.SRem(ctx, upKey(prefix, d), dataset)
	}
	pipe.Del(ctx, upKey(prefix, dataset), downKey(prefix, dataset))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove dataset: %w", err)
	}
	return nil
}

// Upstream returns the direct inputs of dataset, sorted
func (p *Provider) Upstream(ctx context.Context, dataset string) ([]string, error) {
	client, prefix, err := p.handle()
	if err != nil {
		return nil, err
	}
	return members(ctx, client, upKey(prefix, dataset))
}

// Downstream returns the datasets directly derived from dataset, sorted
func (p *Provider) Downstream(ctx context.Context, dataset string) ([]string, error) {
	client, prefix, err := p.handle()
	if err != nil {
		return nil, err
	}
	return members(ctx, client, downKey(prefix, dataset))
}

// Impact returns every dataset transitively derived from dataset, sorted
func (p *Provider) Impact(ctx context.Context, dataset string) ([]string, error) {
	client, prefix, err := p.handle()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{dataset: true}
	queue := []string{dataset}
	var out []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		children, err := members(ctx, client, downKey(prefix, next))
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	sort.Strings(out)
	return out, nil
}

// HealthCheck pings the server
func (p *Provider) HealthCheck(ctx context.Context) plugins.HealthStatus {
	client, _, err := p.handle()
	if err != nil {
		return plugins.Unhealthy(err.Error())
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return plugins.Unhealthy(fmt.Sprintf("redis ping failed: %v", err))
	}
	stats := client.PoolStats()
	if stats.Timeouts > 0 {
		return plugins.Degraded(fmt.Sprintf("redis pool timed out %d times", stats.Timeouts))
	}
	return plugins.Healthy("redis reachable")
}

// Shutdown closes the client
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

func (p *Provider) handle() (*redis.Client, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, "", errors.New("redis lineage provider is not started")
	}
	return p.client, p.prefix, nil
}

func members(ctx context.Context, client *redis.Client, key string) ([]string, error) {
	out, err := client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func upKey(prefix, dataset string) string   { return prefix + "up:" + dataset }
func downKey(prefix, dataset string) string { return prefix + "down:" + dataset }
