package tools

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/rs/zerolog/log"
)

// MergeExisting overwrites the fields of value named in updates and decodes
// the result into a fresh T. For struct values only the declared JSON field
// names are accepted, whether or not they are set in value; for other
// object values the keys already present are. Any encoding failure leaves
// value unchanged.
func MergeExisting[T any](value T, updates map[string]any) T {
	if len(updates) == 0 {
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Msg("merge: encode value")
		return value
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		log.Warn().Err(err).Msg("merge: value is not an object")
		return value
	}

	declared := jsonFieldNames(reflect.TypeOf(value))
	changed := false
	for k, v := range updates {
		ok := false
		if declared != nil {
			_, ok = declared[k]
		} else {
			_, ok = obj[k]
		}
		if ok {
			obj[k] = v
			changed = true
		}
	}
	if !changed {
		return value
	}

	merged, err := json.Marshal(obj)
	if err != nil {
		log.Warn().Err(err).Msg("merge: encode merged object")
		return value
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		log.Warn().Err(err).Msg("merge: decode merged object")
		return value
	}
	return out
}

// jsonFieldNames returns the JSON names of t's exported fields, following
// embedded structs the way encoding/json does. It is nil when t is not a
// struct or a pointer to one.
func jsonFieldNames(t reflect.Type) map[string]struct{} {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	names := map[string]struct{}{}
	collectFieldNames(t, names)
	return names
}

func collectFieldNames(t reflect.Type, names map[string]struct{}) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFieldNames(ft, names)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names[name] = struct{}{}
	}
}

// decodeArgs converts loosely typed arguments into A.
func decodeArgs[A any](tool string, args map[string]any) (A, error) {
	var out A
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return out, NewInvalidArgsError(tool, "encode arguments", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, NewInvalidArgsError(tool, "decode arguments", err)
	}
	return out, nil
}

// toMap renders v in JSON object form for hook payloads.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// normalize renders v as plain JSON values (maps, slices, strings, numbers).
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
