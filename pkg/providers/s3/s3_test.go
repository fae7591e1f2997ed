package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/validation"
)

// fakeS3 is a path-style S3 endpoint holding buckets and objects in memory
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	created []string
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{buckets: map[string]map[string][]byte{}}
	for _, b := range buckets {
		f.buckets[b] = map[string][]byte{}
	}
	return f
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	objects, exists := f.buckets[bucket]

	switch {
	case key == "" && r.Method == http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodPut:
		f.buckets[bucket] = map[string][]byte{}
		f.created = append(f.created, bucket)
		w.WriteHeader(http.StatusOK)
	case !exists:
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		body, ok := objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	io.WriteString(w, "<Error><Code>"+code+"</Code><Message>"+code+"</Message></Error>")
}

func environment(t *testing.T, raw map[string]any) *plugins.Environment {
	t.Helper()
	cfg, err := validation.Validate(Metadata().ConfigSchema, raw)
	require.NoError(t, err)
	return &plugins.Environment{Config: cfg, Logger: logrus.NewEntry(logrus.New())}
}

func testConfig(endpoint, bucket string) map[string]any {
	return map[string]any{
		"bucket":         bucket,
		"endpoint":       endpoint,
		"access_key":     "test",
		"secret_key":     "test",
		"use_path_style": true,
	}
}

func setup(t *testing.T) {
	t.Helper()
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
}

func TestStartup_ExistingBucket(t *testing.T) {
	setup(t)
	fake := newFakeS3("lake")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := New()
	require.NoError(t, p.Startup(context.Background(), environment(t, testConfig(srv.URL, "lake"))))
	assert.Empty(t, fake.created)

	status := p.HealthCheck(context.Background())
	assert.Equal(t, plugins.HealthHealthy, status.State)
	assert.Contains(t, status.Message, "lake")
}

func TestStartup_MissingBucket(t *testing.T) {
	setup(t)
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	err := New().Startup(context.Background(), environment(t, testConfig(srv.URL, "lake")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket lake is not accessible")

	cfg := testConfig(srv.URL, "lake")
	cfg["create_bucket"] = true
	p := New()
	require.NoError(t, p.Startup(context.Background(), environment(t, cfg)))
	assert.Equal(t, []string{"lake"}, fake.created)
}

func TestObjects(t *testing.T) {
	setup(t)
	fake := newFakeS3("lake")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testConfig(srv.URL, "lake")
	cfg["prefix"] = "raw/"
	p := New()
	require.NoError(t, p.Startup(context.Background(), environment(t, cfg)))

	sum, err := p.PutObject(context.Background(), "events.json", strings.NewReader(`{"n":1}`), "application/json")
	require.NoError(t, err)
	assert.Len(t, sum, 64)
	assert.Contains(t, fake.buckets["lake"], "raw/events.json")

	body, err := p.GetObject(context.Background(), "events.json")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(data))

	_, err = p.GetObject(context.Background(), "missing.json")
	assert.ErrorContains(t, err, "NoSuchKey")
}

func TestHealthCheck_BucketGone(t *testing.T) {
	setup(t)
	fake := newFakeS3("lake")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := New()
	assert.Equal(t, plugins.HealthUnhealthy, p.HealthCheck(context.Background()).State)

	require.NoError(t, p.Startup(context.Background(), environment(t, testConfig(srv.URL, "lake"))))

	fake.mu.Lock()
	delete(fake.buckets, "lake")
	fake.mu.Unlock()

	status := p.HealthCheck(context.Background())
	assert.Equal(t, plugins.HealthUnhealthy, status.State)
}

func TestNotStarted(t *testing.T) {
	_, err := New().PutObject(context.Background(), "k", strings.NewReader("v"), "text/plain")
	assert.ErrorContains(t, err, "not started")
	_, err = New().GetObject(context.Background(), "k")
	assert.ErrorContains(t, err, "not started")
}

func TestConfigSchema(t *testing.T) {
	tests := []struct {
		name   string
		raw    map[string]any
		fields []string
	}{
		{name: "bucket required", raw: map[string]any{"region": "eu-west-1"}, fields: []string{"bucket"}},
		{name: "bucket too short", raw: map[string]any{"bucket": "ab"}, fields: []string{"bucket"}},
		{name: "unknown key", raw: map[string]any{"bucket": "lake", "acl": "private"}, fields: []string{"acl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validation.Validate(Metadata().ConfigSchema, tt.raw)
			var cve *plugins.ConfigValidationError
			require.ErrorAs(t, err, &cve)
			assert.Equal(t, tt.fields, cve.Fields())
		})
	}

	cfg, err := validation.Validate(Metadata().ConfigSchema, map[string]any{"bucket": "lake"})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg["region"])
}
