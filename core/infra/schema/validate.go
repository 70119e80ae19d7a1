package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidConfig marks a payload rejected by its schema.
var ErrInvalidConfig = errors.New("config does not match schema")

// ValidateSchema validates a value against a JSON schema payload.
func ValidateSchema(id string, schema []byte, value any) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ObjectSchema turns pack config attributes into an object schema. Attributes use the
// pack metadata convention of a boolean "required" per property; those are hoisted into
// the object's required list.
func ObjectSchema(attributes map[string]any) map[string]any {
	props := make(map[string]any, len(attributes))
	required := []any{}
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec, ok := attributes[name].(map[string]any)
		if !ok {
			props[name] = attributes[name]
			continue
		}
		clean := make(map[string]any, len(spec))
		for k, v := range spec {
			if k == "required" {
				if b, ok := v.(bool); ok {
					if b {
						required = append(required, name)
					}
					continue
				}
			}
			clean[k] = v
		}
		props[name] = clean
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// ValidateConfig validates config values against pack config attributes.
func ValidateConfig(pack string, attributes map[string]any, values map[string]any) error {
	data, err := json.Marshal(ObjectSchema(attributes))
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if values == nil {
		values = map[string]any{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return ValidateSchema("config/"+pack, data, json.RawMessage(encoded))
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return decode(v)
	case []byte:
		return decode(v)
	default:
		return value, nil
	}
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
