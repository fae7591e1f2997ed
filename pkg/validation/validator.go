package validation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

const (
	// DefaultCacheSize bounds the number of compiled schemas kept in memory
	DefaultCacheSize = 256

	msgNoSurface = "provider declares no configurable surface"
	msgMissing   = "missing required field"
	msgUnknown   = "unknown field"
)

// skipped when closing object schemas; their values are instances, not schemas
var instanceKeywords = map[string]bool{
	"default":  true,
	"enum":     true,
	"const":    true,
	"examples": true,
}

// compiled is a cache entry
type compiled struct {
	schema   *jsonschema.Schema
	document map[string]any // decoded with encoding/json, used for defaults
}

// Validator validates configuration maps against JSON Schemas
type Validator struct {
	cache   *lru.Cache[string, *compiled]
	printer *message.Printer
}

// NewValidator creates a validator whose compiled-schema cache holds size entries
func NewValidator(size int) (*Validator, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *compiled](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}
	return &Validator{
		cache:   cache,
		printer: message.NewPrinter(language.English),
	}, nil
}

var defaultValidator = func() *Validator {
	v, err := NewValidator(DefaultCacheSize)
	if err != nil {
		panic(err)
	}
	return v
}()

// Validate uses the package-level validator
func Validate(schema json.RawMessage, raw map[string]any) (map[string]any, error) {
	return defaultValidator.Validate(schema, raw)
}

// Validate returns raw with defaults applied, or a *plugins.ConfigValidationError.
// Schema compilation problems are returned as plain errors.
func (v *Validator) Validate(schema json.RawMessage, raw map[string]any) (map[string]any, error) {
	if isEmptySchema(schema) {
		if len(raw) == 0 {
			return map[string]any{}, nil
		}
		keys := sortedKeys(raw)
		fields := make([]plugins.FieldError, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, plugins.FieldError{Path: k, Message: msgNoSurface})
		}
		return nil, &plugins.ConfigValidationError{Errors: fields}
	}

	c, err := v.compile(schema)
	if err != nil {
		return nil, err
	}

	config, err := normalize(raw)
	if err != nil {
		return nil, &plugins.ConfigValidationError{Errors: []plugins.FieldError{{Message: err.Error()}}}
	}
	applyDefaults(c.document, config)

	if err := c.schema.Validate(config); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, fmt.Errorf("failed to validate configuration: %w", err)
		}
		return nil, &plugins.ConfigValidationError{Errors: v.fieldErrors(ve)}
	}

	return config, nil
}

// Decode converts a validated config map into out via its JSON tags
func Decode(config map[string]any, out any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}

func (v *Validator) compile(schema json.RawMessage) (*compiled, error) {
	sum := sha256.Sum256(schema)
	digest := hex.EncodeToString(sum[:])
	if c, ok := v.cache.Get(digest); ok {
		return c, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid config schema: %w", err)
	}
	closeRoot(doc)
	closeObjects(doc, true)

	var document map[string]any
	if err := json.Unmarshal(schema, &document); err != nil {
		return nil, fmt.Errorf("config schema must be a JSON object: %w", err)
	}

	id := "config-schema-" + digest + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(id, doc); err != nil {
		return nil, fmt.Errorf("invalid config schema: %w", err)
	}
	sch, err := compiler.Compile(id)
	if err != nil {
		return nil, fmt.Errorf("invalid config schema: %w", err)
	}

	c := &compiled{schema: sch, document: document}
	v.cache.Add(digest, c)
	return c, nil
}

// closeRoot closes the top-level schema when it declares no properties at
// all, so `{}` and `{"type": "object"}` accept only an empty config.
func closeRoot(doc any) {
	if n, ok := doc.(map[string]any); ok && unconstrained(n) && !composed(n) {
		n["additionalProperties"] = false
	}
}

// closeObjects sets additionalProperties=false on object schemas that say
// nothing about additional properties. Schemas without declared properties
// are closed only when explicitly typed as objects and not nested under a
// composition keyword, where a sibling branch may declare the properties.
func closeObjects(node any, closeEmpty bool) {
	switch n := node.(type) {
	case map[string]any:
		if unconstrained(n) {
			_, hasProps := n["properties"]
			if hasProps || (closeEmpty && isObjectType(n["type"]) && !composed(n)) {
				n["additionalProperties"] = false
			}
		}
		for k, child := range n {
			if instanceKeywords[k] {
				continue
			}
			if k == "properties" {
				if props, ok := child.(map[string]any); ok {
					for _, p := range props {
						closeObjects(p, true)
					}
				}
				continue
			}
			closeObjects(child, closeEmpty && !compositionKeywords[k])
		}
	case []any:
		for _, child := range n {
			closeObjects(child, closeEmpty)
		}
	}
}

// keywords whose subschemas are combined with their siblings
var compositionKeywords = map[string]bool{
	"allOf":            true,
	"anyOf":            true,
	"oneOf":            true,
	"not":              true,
	"if":               true,
	"then":             true,
	"else":             true,
	"dependentSchemas": true,
	"$defs":            true,
	"definitions":      true,
}

// unconstrained reports whether n says nothing about properties beyond "properties"
func unconstrained(n map[string]any) bool {
	for _, k := range []string{"additionalProperties", "patternProperties", "unevaluatedProperties"} {
		if _, ok := n[k]; ok {
			return false
		}
	}
	return true
}

func composed(n map[string]any) bool {
	for _, k := range []string{"$ref", "$dynamicRef", "allOf", "anyOf", "oneOf", "if", "dependentSchemas"} {
		if _, ok := n[k]; ok {
			return true
		}
	}
	return false
}

func isObjectType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "object"
	case []any:
		for _, e := range v {
			if e == "object" {
				return true
			}
		}
	}
	return false
}

// applyDefaults fills absent properties from their declared defaults,
// descending into nested objects that are present.
func applyDefaults(schema map[string]any, config map[string]any) {
	props, _ := schema["properties"].(map[string]any)
	for name, p := range props {
		prop, ok := p.(map[string]any)
		if !ok {
			continue
		}
		value, present := config[name]
		if !present {
			if def, ok := prop["default"]; ok {
				config[name] = copyValue(def)
			}
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			applyDefaults(prop, nested)
		}
	}
}

// copyValue deep-copies a decoded JSON value so callers never share the
// cached schema's defaults
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// normalize deep-copies raw into the plain JSON types the validator accepts
func normalize(raw map[string]any) (map[string]any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("configuration is not representable as JSON: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("configuration is not representable as JSON: %w", err)
	}
	return out, nil
}

func (v *Validator) fieldErrors(root *jsonschema.ValidationError) []plugins.FieldError {
	var out []plugins.FieldError
	seen := make(map[plugins.FieldError]bool)
	add := func(f plugins.FieldError) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}

	var walk func(ve *jsonschema.ValidationError)
	walk = func(ve *jsonschema.ValidationError) {
		if len(ve.Causes) > 0 {
			for _, c := range ve.Causes {
				walk(c)
			}
			return
		}
		switch k := ve.ErrorKind.(type) {
		case *kind.Required:
			for _, m := range k.Missing {
				add(plugins.FieldError{Path: joinPath(ve.InstanceLocation, m), Message: msgMissing})
			}
		case *kind.AdditionalProperties:
			for _, p := range k.Properties {
				add(plugins.FieldError{Path: joinPath(ve.InstanceLocation, p), Message: msgUnknown})
			}
		default:
			add(plugins.FieldError{Path: joinPath(ve.InstanceLocation), Message: ve.ErrorKind.LocalizedString(v.printer)})
		}
	}
	walk(root)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func joinPath(loc []string, extra ...string) string {
	parts := make([]string, 0, len(loc)+len(extra))
	parts = append(parts, loc...)
	parts = append(parts, extra...)
	return strings.Join(parts, ".")
}

func isEmptySchema(schema json.RawMessage) bool {
	trimmed := bytes.TrimSpace(schema)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
