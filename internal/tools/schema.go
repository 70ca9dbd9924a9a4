package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// reflector produces flat object schemas: no $id, no $ref indirection, no
// additionalProperties constraint. Provider tool endpoints expect the
// parameters inline.
var reflector = jsonschema.Reflector{
	Anonymous:                 true,
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: true,
}

// mustSchema derives the parameter schema for a tool's argument struct,
// panicking if reflection fails.
func mustSchema(v any) json.RawMessage {
	s := reflector.Reflect(v)
	s.Version = ""
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema for %T: %v", v, err))
	}
	return data
}
