package schema

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/slok/taskforge/internal/model"
)

// Validator validates JSON documents against a compiled JSON Schema.
type Validator struct {
	name   string
	schema *jsonschema.Schema
}

// NewValidator compiles a JSON Schema.
func NewValidator(name string, schemaJSON []byte) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{name: name, schema: s}, nil
}

// MustNewValidator is like NewValidator but panics on error, used with embedded schemas.
func MustNewValidator(name string, schemaJSON []byte) *Validator {
	v, err := NewValidator(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate validates a JSON document.
func (v *Validator) Validate(data []byte) error {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, required by the validator.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w: %w", err, model.ErrNotValid)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%s schema validation failed: %s: %w", v.name, err, model.ErrNotValid)
	}
	return nil
}
