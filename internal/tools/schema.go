package tools

import (
	"reflect"
	"strings"
)

// BuildSchema generates an object JSON Schema from a struct using its json
// and jsonschema tags:
//
//	type Args struct {
//	    Path string `json:"path" jsonschema:"description=File path,required"`
//	    Mode string `json:"mode" jsonschema:"enum=read|write"`
//	}
func BuildSchema(v any) map[string]any {
	return ObjectSchema(ParamsOf(v))
}

// ParamsOf derives parameter descriptors from a struct value or type.
func ParamsOf(v any) []Param {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return structParams(t)
}

func structParams(t reflect.Type) []Param {
	var params []Param
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" {
			head := strings.Split(tag, ",")[0]
			if head == "-" {
				continue
			}
			if head != "" {
				name = head
			}
		}
		p := typeParam(field.Type)
		p.Name = name
		applySchemaTag(field.Tag.Get("jsonschema"), &p)
		params = append(params, p)
	}
	return params
}

func typeParam(t reflect.Type) Param {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return Param{Type: TypeString}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Param{Type: TypeInteger}
	case reflect.Float32, reflect.Float64:
		return Param{Type: TypeNumber}
	case reflect.Bool:
		return Param{Type: TypeBoolean}
	case reflect.Slice, reflect.Array:
		items := typeParam(t.Elem())
		return Param{Type: TypeArray, Items: &items}
	case reflect.Struct:
		return Param{Type: TypeObject, Properties: structParams(t)}
	default:
		return Param{Type: TypeObject}
	}
}

// applySchemaTag reads description=, required, enum=a|b.
func applySchemaTag(tag string, p *Param) {
	if tag == "" {
		return
	}
	for _, attr := range strings.Split(tag, ",") {
		attr = strings.TrimSpace(attr)
		switch {
		case attr == "required":
			p.Required = true
		case strings.HasPrefix(attr, "description="):
			p.Description = strings.TrimPrefix(attr, "description=")
		case strings.HasPrefix(attr, "enum="):
			p.Type = TypeEnum
			p.Enum = strings.Split(strings.TrimPrefix(attr, "enum="), "|")
		}
	}
}
