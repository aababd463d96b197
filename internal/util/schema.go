package util

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError reports the first tool argument that does not match the
// tool's parameter schema. Field is a dotted path for nested values.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Message)
}

// CreateSchema derives a JSON schema object from a struct value or pointer.
// Field names follow the json tag; "description" and comma separated "enum"
// tags are copied into the property. Fields without omitempty that are not
// pointers are required. Embedded structs are flattened, nested structs and
// slices of structs are described recursively.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return objectSchema(t)
}

func objectSchema(t reflect.Type) map[string]any {
	properties := map[string]any{}
	var required []string
	collectFields(t, properties, &required)

	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func collectFields(t reflect.Type, properties map[string]any, required *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" {
			ft := derefType(f.Type)
			if ft.Kind() == reflect.Struct {
				collectFields(ft, properties, required)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}

		prop := typeSchema(f.Type)
		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		if e := f.Tag.Get("enum"); e != "" {
			var values []any
			for _, v := range strings.Split(e, ",") {
				values = append(values, strings.TrimSpace(v))
			}
			prop["enum"] = values
		}
		properties[name] = prop

		if !strings.Contains(opts, "omitempty") && f.Type.Kind() != reflect.Ptr {
			*required = append(*required, name)
		}
	}
}

func typeSchema(t reflect.Type) map[string]any {
	t = derefType(t)
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem())}
	case reflect.Struct:
		return objectSchema(t)
	case reflect.Map:
		return map[string]any{"type": "object"}
	default:
		return map[string]any{"type": "string"}
	}
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// ValidateParameters checks args against a JSON schema object: required
// fields, primitive types, enum membership, nested objects and array items.
// Unknown fields and null values are accepted.
func ValidateParameters(args map[string]any, schema map[string]any) error {
	return validateObject("", args, schema)
}

func validateObject(path string, obj map[string]any, schema map[string]any) error {
	for _, name := range requiredFields(schema["required"]) {
		if _, ok := obj[name]; !ok {
			return &ValidationError{Field: join(path, name), Message: "required field is missing"}
		}
	}
	properties, _ := schema["properties"].(map[string]any)
	for name, value := range obj {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(join(path, name), value, prop); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, value any, prop map[string]any) error {
	if value == nil {
		return nil
	}
	want, _ := prop["type"].(string)
	if !matchesType(value, want) {
		return &ValidationError{Field: path, Value: value, Message: fmt.Sprintf("expected %s, got %T", want, value)}
	}
	if enum, ok := prop["enum"].([]any); ok && !inEnum(enum, value) {
		return &ValidationError{Field: path, Value: value, Message: fmt.Sprintf("must be one of %v", enum)}
	}

	switch v := value.(type) {
	case map[string]any:
		if _, nested := prop["properties"]; nested {
			return validateObject(path, v, prop)
		}
	case []any:
		if items, ok := prop["items"].(map[string]any); ok {
			for i, item := range v {
				if err := validateValue(fmt.Sprintf("%s[%d]", path, i), item, items); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// requiredFields accepts []string from Go literals and []any from decoded JSON.
func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func inEnum(values []any, v any) bool {
	s := fmt.Sprint(v)
	for _, candidate := range values {
		if fmt.Sprint(candidate) == s {
			return true
		}
	}
	return false
}

func matchesType(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch n := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
