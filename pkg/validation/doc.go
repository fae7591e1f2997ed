// Package validation checks provider configuration against the JSON Schema a
// provider declares in its metadata.
//
// # Overview
//
// Validation is closed-world: an object schema that declares properties and
// does not mention additionalProperties rejects unknown keys, so a typo in a
// platform config surfaces as an error instead of a silently ignored field.
// Schemas can opt back in with an explicit "additionalProperties": true.
//
// Declared defaults are filled in before validation, so a field that is both
// required and defaulted is satisfied by its default. The caller's map is
// never mutated.
//
// A provider with no schema accepts no configuration: an empty config passes,
// anything else fails.
//
// # Errors
//
// Failures are returned as *plugins.ConfigValidationError carrying one
// FieldError per problem:
//
//	path: missing required field
//	bogus: unknown field
//	port: maximum: got 70000, want 65535
//
// # Schemas from structs
//
// SchemaFor reflects a Go config struct into a closed JSON Schema:
//
//	type Config struct {
//		Path    string `json:"path" jsonschema:"required"`
//		Workers int    `json:"workers,omitempty" jsonschema:"minimum=1,default=4"`
//	}
//
//	md.ConfigSchema = validation.SchemaFor(&Config{})
//
// Compiled schemas are cached by content digest.
package validation
