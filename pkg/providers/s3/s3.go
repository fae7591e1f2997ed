// Package s3 is the STORAGE/s3 provider: object storage on S3 or any
// S3-compatible endpoint such as MinIO.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
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

// Name is the provider name under STORAGE
const Name = "s3"

var tracer = otel.Tracer(observability.TracerName + "/providers/s3")

// Config is the provider configuration
type Config struct {
	Bucket       string `json:"bucket" jsonschema:"required,minLength=3"`
	Region       string `json:"region,omitempty" jsonschema:"default=us-east-1"`
	Endpoint     string `json:"endpoint,omitempty" jsonschema:"description=Custom endpoint for S3-compatible stores"`
	AccessKey    string `json:"access_key,omitempty"`
	SecretKey    string `json:"secret_key,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty"`
	CreateBucket bool   `json:"create_bucket,omitempty" jsonschema:"description=Create the bucket at startup when it does not exist"`
	Prefix       string `json:"prefix,omitempty"`
}

var configSchema = validation.SchemaFor(&Config{})

// Metadata describes the provider
func Metadata() plugins.Metadata {
	return plugins.Metadata{
		Name:           Name,
		Version:        "1.1.0",
		HostAPIVersion: "1.3.0",
		Description:    "S3-compatible object storage",
		ConfigSchema:   configSchema,
	}
}

// Provider stores objects in one bucket
type Provider struct {
	mu     sync.RWMutex
	client *s3.Client
	cfg    Config
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
	discovery.Register(plugins.CategoryStorage, Name, providers.ModulePrefix+"s3", "Provider", Class())
}

// Metadata implements plugins.Provider
func (p *Provider) Metadata() plugins.Metadata { return Metadata() }

// NewClient builds an S3 client for cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		// many S3-compatible stores reject the newer default checksum trailers
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}), nil
}

// Startup builds the client and checks the bucket, creating it when configured to
func (p *Provider) Startup(ctx context.Context, env *plugins.Environment) error {
	var cfg Config
	if err := validation.Decode(env.Config, &cfg); err != nil {
		return err
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return err
	}

	if err := headBucket(ctx, client, cfg.Bucket); err != nil {
		if !isNotFound(err) || !cfg.CreateBucket {
			return fmt.Errorf("bucket %s is not accessible: %w", cfg.Bucket, err)
		}
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		env.Logger.WithField("bucket", cfg.Bucket).Info("Created bucket")
	}

	p.mu.Lock()
	p.client = client
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// PutObject uploads content under key and returns its sha256 checksum
func (p *Provider) PutObject(ctx context.Context, key string, content io.Reader, contentType string) (string, error) {
	client, cfg, err := p.handle()
	if err != nil {
		return "", err
	}
	key = cfg.Prefix + key

	ctx, span := tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", cfg.Bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	data, err := io.ReadAll(content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read content")
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"checksum-sha256": checksum},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return "", fmt.Errorf("failed to upload to s3: %w", err)
	}
	return checksum, nil
}

// GetObject downloads the object at key. The caller closes the reader.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	client, cfg, err := p.handle()
	if err != nil {
		return nil, err
	}
	key = cfg.Prefix + key

	ctx, span := tracer.Start(ctx, "S3.GetObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", cfg.Bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to download from s3")
		return nil, fmt.Errorf("failed to download from s3: %w", err)
	}
	return out.Body, nil
}

// HealthCheck checks the bucket is still reachable
func (p *Provider) HealthCheck(ctx context.Context) plugins.HealthStatus {
	client, cfg, err := p.handle()
	if err != nil {
		return plugins.Unhealthy(err.Error())
	}
	if err := headBucket(ctx, client, cfg.Bucket); err != nil {
		return plugins.Unhealthy(fmt.Sprintf("bucket %s: %v", cfg.Bucket, err))
	}
	return plugins.Healthy("bucket " + cfg.Bucket + " reachable")
}

func (p *Provider) handle() (*s3.Client, Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, Config{}, errors.New("s3 provider is not started")
	}
	return p.client, p.cfg, nil
}

func headBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	return err
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	return errors.As(err, &notFound) || errors.As(err, &noBucket)
}
