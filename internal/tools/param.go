package tools

// ParamType is the value type of a parameter descriptor.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeNull    ParamType = "null"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeEnum    ParamType = "enum"
	TypeAnyOf   ParamType = "any_of"
)

// Param describes one tool parameter independently of JSON Schema, so
// schemas discovered at runtime can be rebuilt as tool definitions.
type Param struct {
	Name        string
	Description string
	Type        ParamType
	Required    bool
	// Enum holds the allowed values of a TypeEnum parameter.
	Enum []string
	// Items describes array elements.
	Items *Param
	// Properties describes object fields.
	Properties []Param
	// AnyOf lists the alternatives of a TypeAnyOf parameter.
	AnyOf []Param
}

// Schema renders the parameter as a JSON Schema fragment.
func (p Param) Schema() map[string]any {
	s := map[string]any{}
	if p.Description != "" {
		s["description"] = p.Description
	}
	switch p.Type {
	case TypeEnum:
		s["type"] = "string"
		values := make([]any, len(p.Enum))
		for i, v := range p.Enum {
			values[i] = v
		}
		s["enum"] = values
	case TypeArray:
		s["type"] = "array"
		if p.Items != nil {
			s["items"] = p.Items.Schema()
		}
	case TypeObject:
		obj := ObjectSchema(p.Properties)
		for k, v := range obj {
			s[k] = v
		}
	case TypeAnyOf:
		branches := make([]any, len(p.AnyOf))
		for i, b := range p.AnyOf {
			branches[i] = b.Schema()
		}
		s["anyOf"] = branches
	case "":
		s["type"] = string(TypeString)
	default:
		s["type"] = string(p.Type)
	}
	return s
}

// ObjectSchema renders params as the properties of an object schema.
func ObjectSchema(params []Param) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		props[p.Name] = p.Schema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
