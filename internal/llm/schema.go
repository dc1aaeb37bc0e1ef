package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is the subset of JSON Schema used to request structured output.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	MinLength   *int               `json:"minLength,omitempty"`
	MaxLength   *int               `json:"maxLength,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`

	// Nullable widens Type to [Type, "null"].
	Nullable bool `json:"-"`
}

// MarshalJSON renders nullable schemas with a type union.
func (s Schema) MarshalJSON() ([]byte, error) {
	type plain Schema
	if !s.Nullable {
		return json.Marshal(plain(s))
	}
	return json.Marshal(struct {
		plain
		Type []string `json:"type"`
	}{plain(s), []string{s.Type, "null"}})
}

// Int and Float return pointers for the bound fields.
func Int(v int) *int           { return &v }
func Float(v float64) *float64 { return &v }

// Validate checks a raw JSON document against the schema.
func (s *Schema) Validate(raw string) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("decoding schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("response.json", schemaDoc); err != nil {
		return fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := c.Compile("response.json")
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := compiled.Validate(inst); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}
