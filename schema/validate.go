package schema

import (
	"fmt"
	"strconv"
)

// ValidationResult reports whether a payload conforms to a schema and, if
// not, every violation found.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate checks a decoded JSON payload against a message schema. It flags
// unknown keys, missing required fields and type mismatches. Repeated fields
// are validated element-wise. Numeric fields accept JSON numbers and numeric
// strings, since 64-bit integers are conventionally transported as strings.
func Validate(reg *Registry, msg map[string]interface{}, s *MessageSchema) ValidationResult {
	res := ValidationResult{Valid: true}
	validateMessage(reg, msg, s, "", &res)
	res.Valid = len(res.Errors) == 0
	return res
}

func validateMessage(reg *Registry, msg map[string]interface{}, s *MessageSchema, path string, res *ValidationResult) {
	for key, val := range msg {
		f, ok := s.FieldByName(key)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unknown field %q", at(path, s), key))
			continue
		}
		validateField(reg, val, f, join(path, key), res)
	}

	for _, f := range s.Fields {
		if f.Label != LabelRequired {
			continue
		}
		if _, ok := msg[f.Name]; ok {
			continue
		}
		if f.JSONName != "" {
			if _, ok := msg[f.JSONName]; ok {
				continue
			}
		}
		res.Errors = append(res.Errors, fmt.Sprintf("%s: missing required field %q", at(path, s), f.Name))
	}
}

func validateField(reg *Registry, val interface{}, f *FieldSchema, path string, res *ValidationResult) {
	if f.IsMap() {
		m, ok := val.(map[string]interface{})
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: expected an object for map field, got %T", path, val))
			return
		}
		for k, v := range m {
			validateValue(reg, v, f.MapValue, fmt.Sprintf("%s[%q]", path, k), res)
		}
		return
	}
	if f.Repeated() {
		elems, ok := val.([]interface{})
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: expected an array for repeated field, got %T", path, val))
			return
		}
		for i, v := range elems {
			validateValue(reg, v, f, fmt.Sprintf("%s[%d]", path, i), res)
		}
		return
	}
	validateValue(reg, val, f, path, res)
}

func validateValue(reg *Registry, val interface{}, f *FieldSchema, path string, res *ValidationResult) {
	if val == nil {
		return
	}
	switch {
	case f.Type.IsNumeric():
		switch v := val.(type) {
		case float64:
		case string:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %q is not a valid number", path, v))
			}
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: expected a number or numeric string, got %T", path, val))
		}
	case f.Type == FieldTypeBool:
		if _, ok := val.(bool); !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: expected a boolean, got %T", path, val))
		}
	case f.Type == FieldTypeString, f.Type == FieldTypeBytes:
		if _, ok := val.(string); !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: expected a string, got %T", path, val))
		}
	case f.Type == FieldTypeEnum:
		switch v := val.(type) {
		case float64:
		case string:
			if e, ok := reg.Enum(f.TypeName); ok {
				if !enumHasName(e, v) {
					res.Errors = append(res.Errors, fmt.Sprintf("%s: %q is not a value of enum %s", path, v, e.FullName))
				}
			}
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: expected an enum name or number, got %T", path, val))
		}
	case f.Type == FieldTypeMessage, f.Type == FieldTypeGroup:
		m, ok := val.(map[string]interface{})
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: expected an object, got %T", path, val))
			return
		}
		if sub, ok := reg.Message(f.TypeName); ok {
			validateMessage(reg, m, sub, path, res)
		}
	}
}

func enumHasName(e *EnumSchema, name string) bool {
	for _, v := range e.Values {
		if v.Name == name {
			return true
		}
	}
	return false
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func at(path string, s *MessageSchema) string {
	if path == "" {
		return s.FullName
	}
	return path
}
