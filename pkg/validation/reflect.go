package validation

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a Go struct into a closed JSON Schema document.
// Fields are required only when tagged `jsonschema:"required"`.
func SchemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		Anonymous:                  true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic("validation: cannot encode reflected schema: " + err.Error())
	}
	return data
}
