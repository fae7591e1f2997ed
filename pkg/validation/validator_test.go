package validation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

const pathSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"}
	},
	"required": ["path"]
}`

const storageSchema = `{
	"type": "object",
	"properties": {
		"bucket":  {"type": "string", "pattern": "^[a-z0-9.-]{3,63}$"},
		"region":  {"type": "string", "default": "us-east-1"},
		"mode":    {"type": "string", "enum": ["read", "write"], "default": "read"},
		"workers": {"type": "integer", "minimum": 1, "maximum": 64, "default": 4},
		"retry": {
			"type": "object",
			"properties": {
				"attempts": {"type": "integer", "default": 3},
				"backoff":  {"type": "string", "default": "1s"}
			}
		},
		"labels": {"type": "object", "additionalProperties": {"type": "string"}}
	},
	"required": ["bucket"]
}`

func configErr(t *testing.T, err error) *plugins.ConfigValidationError {
	t.Helper()
	var cve *plugins.ConfigValidationError
	require.True(t, errors.As(err, &cve), "expected ConfigValidationError, got %v", err)
	return cve
}

func TestValidate_MissingRequired(t *testing.T) {
	_, err := Validate(json.RawMessage(pathSchema), map[string]any{})
	cve := configErr(t, err)
	assert.Equal(t, []plugins.FieldError{{Path: "path", Message: msgMissing}}, cve.Errors)
}

func TestValidate_UnknownField(t *testing.T) {
	_, err := Validate(json.RawMessage(pathSchema), map[string]any{"path": "/x", "bogus": 1})
	cve := configErr(t, err)
	assert.Equal(t, []plugins.FieldError{{Path: "bogus", Message: msgUnknown}}, cve.Errors)
}

func TestValidate_Valid(t *testing.T) {
	raw := map[string]any{"path": "/x"}
	cfg, err := Validate(json.RawMessage(pathSchema), raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "/x"}, cfg)
}

func TestValidate_NullSchema(t *testing.T) {
	tests := []struct {
		name    string
		schema  json.RawMessage
		raw     map[string]any
		wantErr bool
	}{
		{"nil schema nil config", nil, nil, false},
		{"nil schema empty config", nil, map[string]any{}, false},
		{"null literal", json.RawMessage("null"), map[string]any{}, false},
		{"nil schema with config", nil, map[string]any{"a": 1, "b": 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Validate(tt.schema, tt.raw)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Empty(t, cfg)
				return
			}
			cve := configErr(t, err)
			require.Len(t, cve.Errors, 2)
			assert.Equal(t, "a", cve.Errors[0].Path)
			assert.Equal(t, "b", cve.Errors[1].Path)
			assert.Equal(t, msgNoSurface, cve.Errors[0].Message)
		})
	}
}

func TestValidate_SchemaWithoutProperties(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		raw    map[string]any
		want   []string
	}{
		{"empty schema empty config", `{}`, map[string]any{}, nil},
		{"empty schema", `{}`, map[string]any{"bogus": 1}, []string{"bogus"}},
		{"bare object", `{"type": "object"}`, map[string]any{"bogus": 1, "other": true}, []string{"bogus", "other"}},
		{"nested bare object", `{"properties": {"opts": {"type": "object"}}}`, map[string]any{"opts": map[string]any{"x": 1}}, []string{"opts.x"}},
		{"explicit open object", `{"type": "object", "additionalProperties": true}`, map[string]any{"bogus": 1}, nil},
		{"composed branch", `{"allOf": [{"type": "object"}, {"properties": {"a": {"type": "string"}}}]}`, map[string]any{"a": "x"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(json.RawMessage(tt.schema), tt.raw)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			cve := configErr(t, err)
			var paths []string
			for _, f := range cve.Errors {
				paths = append(paths, f.Path)
				assert.Equal(t, msgUnknown, f.Message)
			}
			assert.Equal(t, tt.want, paths)
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	raw := map[string]any{
		"bucket": "warehouse",
		"retry":  map[string]any{"attempts": 5},
	}
	cfg, err := Validate(json.RawMessage(storageSchema), raw)
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg["region"])
	assert.Equal(t, "read", cfg["mode"])
	assert.EqualValues(t, 4, cfg["workers"])

	retry, ok := cfg["retry"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 5, retry["attempts"])
	assert.Equal(t, "1s", retry["backoff"])

	// input is untouched
	_, mutated := raw["region"]
	assert.False(t, mutated)
	assert.NotContains(t, raw["retry"].(map[string]any), "backoff")
}

func TestValidate_DefaultsAreCopied(t *testing.T) {
	schema := json.RawMessage(`{
		"properties": {
			"tags":   {"type": "array", "items": {"type": "string"}, "default": ["prod"]},
			"limits": {"type": "object", "properties": {"cpu": {"type": "integer"}}, "default": {"cpu": 2}}
		}
	}`)

	first, err := Validate(schema, nil)
	require.NoError(t, err)
	first["tags"].([]any)[0] = "mutated"
	first["limits"].(map[string]any)["cpu"] = 64

	second, err := Validate(schema, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"prod"}, second["tags"])
	assert.EqualValues(t, 2, second["limits"].(map[string]any)["cpu"])
}

func TestValidate_Constraints(t *testing.T) {
	tests := []struct {
		name   string
		raw    map[string]any
		fields []string
	}{
		{"type", map[string]any{"bucket": 42}, []string{"bucket"}},
		{"pattern", map[string]any{"bucket": "NO"}, []string{"bucket"}},
		{"enum", map[string]any{"bucket": "ok-bucket", "mode": "delete"}, []string{"mode"}},
		{"maximum", map[string]any{"bucket": "ok-bucket", "workers": 100}, []string{"workers"}},
		{"minimum", map[string]any{"bucket": "ok-bucket", "workers": 0}, []string{"workers"}},
		{"nested unknown", map[string]any{"bucket": "ok-bucket", "retry": map[string]any{"jitter": true}}, []string{"retry.jitter"}},
		{"open map value type", map[string]any{"bucket": "ok-bucket", "labels": map[string]any{"team": 1}}, []string{"labels.team"}},
		{"several at once", map[string]any{"mode": "x", "typo": 1}, []string{"bucket", "mode", "typo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(json.RawMessage(storageSchema), tt.raw)
			cve := configErr(t, err)
			assert.Equal(t, tt.fields, cve.Fields())
			for _, f := range cve.Errors {
				assert.NotEmpty(t, f.Message)
			}
		})
	}
}

func TestValidate_ExplicitOpenSchema(t *testing.T) {
	schema := `{"type": "object", "properties": {"a": {"type": "string"}}, "additionalProperties": true}`
	cfg, err := Validate(json.RawMessage(schema), map[string]any{"a": "x", "extra": 1})
	require.NoError(t, err)
	assert.Contains(t, cfg, "extra")
}

func TestValidate_InvalidSchema(t *testing.T) {
	_, err := Validate(json.RawMessage(`{"type": 12}`), map[string]any{})
	require.Error(t, err)
	var cve *plugins.ConfigValidationError
	assert.False(t, errors.As(err, &cve))

	_, err = Validate(json.RawMessage(`{not json`), map[string]any{})
	assert.Error(t, err)
}

func TestValidator_Cache(t *testing.T) {
	v, err := NewValidator(2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := v.Validate(json.RawMessage(pathSchema), map[string]any{"path": "/x"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, v.cache.Len())

	_, err = v.Validate(json.RawMessage(storageSchema), map[string]any{"bucket": "abc"})
	require.NoError(t, err)
	assert.Equal(t, 2, v.cache.Len())
}

type sampleConfig struct {
	Path    string `json:"path" jsonschema:"required"`
	Workers int    `json:"workers,omitempty" jsonschema:"minimum=1,default=4"`
	Verbose bool   `json:"verbose,omitempty"`
}

func TestSchemaFor(t *testing.T) {
	schema := SchemaFor(&sampleConfig{})

	var doc map[string]any
	require.NoError(t, json.Unmarshal(schema, &doc))
	assert.Equal(t, false, doc["additionalProperties"])
	assert.Equal(t, []any{"path"}, doc["required"])

	cfg, err := Validate(schema, map[string]any{"path": "/data"})
	require.NoError(t, err)

	var out sampleConfig
	require.NoError(t, Decode(cfg, &out))
	assert.Equal(t, sampleConfig{Path: "/data", Workers: 4}, out)

	_, err = Validate(schema, map[string]any{"path": "/data", "workers": 0, "colour": "red"})
	cve := configErr(t, err)
	assert.Equal(t, []string{"colour", "workers"}, cve.Fields())
}
