package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaFor reflects a parameter struct into the inline JSON-schema map a
// Definition carries. The reflector inlines definitions so providers get a
// single self-contained object schema.
func SchemaFor(v any) (map[string]any, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	// Providers reject draft markers inside tool parameter schemas.
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// MustSchemaFor is SchemaFor for package-level tool definitions.
func MustSchemaFor(v any) map[string]any {
	m, err := SchemaFor(v)
	if err != nil {
		panic(err)
	}
	return m
}

// ValidateArgs checks call args against a definition's parameter schema.
// Definitions without a schema accept anything.
func ValidateArgs(def *Definition, args map[string]any) error {
	if len(def.Parameters) == 0 {
		return nil
	}

	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: marshal schema: %w", def.ID, err)
	}
	doc, err := schemavalidate.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("tool %s: parse schema: %w", def.ID, err)
	}

	compiler := schemavalidate.NewCompiler()
	resource := "inmemory://" + def.ID + ".json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return fmt.Errorf("tool %s: add schema: %w", def.ID, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", def.ID, err)
	}

	// Round-trip args through JSON so numbers normalize the way the
	// validator expects.
	argRaw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool %s: marshal args: %w", def.ID, err)
	}
	value, err := schemavalidate.UnmarshalJSON(bytes.NewReader(argRaw))
	if err != nil {
		return fmt.Errorf("tool %s: decode args: %w", def.ID, err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", def.ID, err)
	}
	return nil
}

// schemaProperties returns the property names the schema declares, used by
// the pipeline to decide which range fields a handle may default.
func schemaProperties(def *Definition) map[string]bool {
	out := map[string]bool{}
	props, ok := def.Parameters["properties"].(map[string]any)
	if !ok {
		return out
	}
	for name := range props {
		out[name] = true
	}
	return out
}
