// Package schema adapts tool provider descriptors into the neutral
// declaration shape model providers consume. Adaptation is a pure,
// deterministic 1:1 projection: no network, no state, same input always
// yields the same output.
package schema

import (
	"fmt"

	"github.com/charla-ai/charla/internal/interfaces"
)

// mappableTypes are the JSON-Schema parameter types every model provider
// can represent. Anything else is a configuration error on the tool
// provider side and must be surfaced, not swallowed.
var mappableTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// Adapt converts discovered tool descriptors into model tool declarations.
// Parameter schemas are validated recursively and deep-copied so the result
// never aliases the input; required/optional distinctions pass through
// exactly. Output order follows input order.
func Adapt(descriptors []interfaces.ToolDescriptor) ([]interfaces.ToolSchema, error) {
	schemas := make([]interfaces.ToolSchema, 0, len(descriptors))
	for _, d := range descriptors {
		params, err := adaptParameters(d)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, interfaces.ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
	}
	return schemas, nil
}

func adaptParameters(d interfaces.ToolDescriptor) (map[string]any, error) {
	in := d.InputSchema
	if in == nil {
		// A tool with no declared inputs still needs an empty object schema
		// so providers can declare it.
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}

	if t, _ := in["type"].(string); t != "object" {
		return nil, fmt.Errorf("tool %s: input schema type must be object, got %q", d.Name, t)
	}

	props, err := propertyMap(d.Name, "", in)
	if err != nil {
		return nil, err
	}
	for name, prop := range props {
		node, ok := prop.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tool %s: parameter %s: schema must be an object", d.Name, name)
		}
		if err := validateNode(d.Name, name, node); err != nil {
			return nil, err
		}
	}
	if err := validateRequired(d.Name, in, props); err != nil {
		return nil, err
	}

	return interfaces.CloneJSONMap(in), nil
}

// validateNode checks one parameter schema, recursing through array items
// and nested object properties.
func validateNode(tool, path string, node map[string]any) error {
	if raw, ok := node["enum"]; ok {
		return validateEnum(tool, path, raw)
	}

	t, _ := node["type"].(string)
	if t == "" {
		return fmt.Errorf("tool %s: parameter %s: missing type", tool, path)
	}
	if !mappableTypes[t] {
		return fmt.Errorf("tool %s: parameter %s: unmappable type %q", tool, path, t)
	}

	switch t {
	case "array":
		items, ok := node["items"].(map[string]any)
		if !ok {
			return fmt.Errorf("tool %s: parameter %s: array requires an items schema", tool, path)
		}
		return validateNode(tool, path+"[]", items)
	case "object":
		props, err := propertyMap(tool, path, node)
		if err != nil {
			return err
		}
		for name, prop := range props {
			child, ok := prop.(map[string]any)
			if !ok {
				return fmt.Errorf("tool %s: parameter %s.%s: schema must be an object", tool, path, name)
			}
			childPath := name
			if path != "" {
				childPath = path + "." + name
			}
			if err := validateNode(tool, childPath, child); err != nil {
				return err
			}
		}
		return validateRequired(tool, node, props)
	}
	return nil
}

// validateEnum accepts enum-of-literals: strings, numbers and booleans.
func validateEnum(tool, path string, raw any) error {
	values, ok := raw.([]any)
	if !ok || len(values) == 0 {
		return fmt.Errorf("tool %s: parameter %s: enum must be a non-empty list", tool, path)
	}
	for _, v := range values {
		switch v.(type) {
		case string, bool, float64, int, int64:
		default:
			return fmt.Errorf("tool %s: parameter %s: enum value %v is not a literal", tool, path, v)
		}
	}
	return nil
}

// propertyMap extracts the properties object, tolerating its absence.
func propertyMap(tool, path string, node map[string]any) (map[string]any, error) {
	raw, ok := node["properties"]
	if !ok {
		return map[string]any{}, nil
	}
	props, ok := raw.(map[string]any)
	if !ok {
		where := "input schema"
		if path != "" {
			where = "parameter " + path
		}
		return nil, fmt.Errorf("tool %s: %s: properties must be an object", tool, where)
	}
	return props, nil
}

// validateRequired ensures every required name references a declared
// property. A required entry without a schema would declare a parameter the
// model cannot see.
func validateRequired(tool string, node map[string]any, props map[string]any) error {
	raw, ok := node["required"]
	if !ok {
		return nil
	}
	required, ok := raw.([]any)
	if !ok {
		// Some encoders hand the list over typed already.
		if typed, ok := raw.([]string); ok {
			for _, name := range typed {
				if _, exists := props[name]; !exists {
					return fmt.Errorf("tool %s: required parameter %s has no schema", tool, name)
				}
			}
			return nil
		}
		return fmt.Errorf("tool %s: required must be a list of names", tool)
	}
	for _, entry := range required {
		name, ok := entry.(string)
		if !ok {
			return fmt.Errorf("tool %s: required entry %v is not a name", tool, entry)
		}
		if _, exists := props[name]; !exists {
			return fmt.Errorf("tool %s: required parameter %s has no schema", tool, name)
		}
	}
	return nil
}
