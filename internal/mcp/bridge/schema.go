package bridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"agentcore/internal/tools"
)

// TranslateSchema turns a server's JSON input schema into parameter
// descriptors, one per top-level property, sorted by name. Properties listed
// in "required" are required unless their type is a union with null.
func TranslateSchema(raw json.RawMessage) ([]tools.Param, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	return translateProperties(schema), nil
}

func translateProperties(schema map[string]any) []tools.Param {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := map[string]bool{}
	if list, ok := schema["required"].([]any); ok {
		for _, name := range list {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.Param, 0, len(names))
	for _, name := range names {
		def, _ := props[name].(map[string]any)
		p, nullable := translate(def)
		p.Name = name
		p.Required = required[name] && !nullable
		params = append(params, p)
	}
	return params
}

// translate maps one schema node. nullable reports a two-branch union with
// null that was collapsed to its other branch.
func translate(def map[string]any) (p tools.Param, nullable bool) {
	p.Description, _ = def["description"].(string)

	if values, ok := def["enum"].([]any); ok && len(values) > 0 {
		p.Type = tools.TypeEnum
		for _, v := range values {
			if v == nil {
				continue
			}
			p.Enum = append(p.Enum, fmt.Sprint(v))
		}
		return p, false
	}

	for _, key := range []string{"anyOf", "oneOf"} {
		branches, ok := def[key].([]any)
		if !ok || len(branches) == 0 {
			continue
		}
		if other, ok := nonNullBranch(branches); ok {
			inner, _ := translate(other)
			if inner.Description == "" {
				inner.Description = p.Description
			}
			return inner, true
		}
		p.Type = tools.TypeAnyOf
		for _, b := range branches {
			branch, _ := b.(map[string]any)
			alt, _ := translate(branch)
			p.AnyOf = append(p.AnyOf, alt)
		}
		return p, false
	}

	typ, nullable := schemaType(def["type"])
	switch typ {
	case "string":
		p.Type = tools.TypeString
	case "integer":
		p.Type = tools.TypeInteger
	case "number":
		p.Type = tools.TypeNumber
	case "boolean":
		p.Type = tools.TypeBoolean
	case "null":
		p.Type = tools.TypeNull
	case "array":
		p.Type = tools.TypeArray
		items, _ := def["items"].(map[string]any)
		item, _ := translate(items)
		p.Items = &item
	case "object":
		p.Type = tools.TypeObject
		p.Properties = translateProperties(def)
	default:
		if _, ok := def["properties"]; ok {
			p.Type = tools.TypeObject
			p.Properties = translateProperties(def)
		} else {
			p.Type = tools.TypeString
		}
	}
	return p, nullable
}

// nonNullBranch returns the other branch of a two-branch union with null.
func nonNullBranch(branches []any) (map[string]any, bool) {
	if len(branches) != 2 {
		return nil, false
	}
	var other map[string]any
	nulls := 0
	for _, b := range branches {
		branch, _ := b.(map[string]any)
		if t, _ := branch["type"].(string); strings.EqualFold(t, "null") {
			nulls++
			continue
		}
		other = branch
	}
	return other, nulls == 1 && other != nil
}

// schemaType reads "type", which may be a list such as ["string", "null"].
func schemaType(v any) (typ string, nullable bool) {
	switch t := v.(type) {
	case string:
		return strings.ToLower(t), false
	case []any:
		var types []string
		for _, item := range t {
			s, _ := item.(string)
			if strings.EqualFold(s, "null") {
				nullable = true
				continue
			}
			types = append(types, strings.ToLower(s))
		}
		if len(types) == 1 {
			return types[0], nullable
		}
		if len(types) == 0 && nullable {
			return "null", false
		}
	}
	return "", false
}
