package schema

// DefaultTemplateDepth caps how deep example generation descends into
// nested message types.
const DefaultTemplateDepth = 5

// Well-known types get idiomatic placeholders instead of a field-by-field
// expansion, which would be useless noise for types like Timestamp.
var wellKnownTemplates = map[string]func() interface{}{
	"google.protobuf.Timestamp": func() interface{} { return "1970-01-01T00:00:00Z" },
	"google.protobuf.Duration":  func() interface{} { return "0s" },
	"google.protobuf.Any":       func() interface{} { return map[string]interface{}{"@type": ""} },
	"google.protobuf.Value":     func() interface{} { return nil },
	"google.protobuf.Struct":    func() interface{} { return map[string]interface{}{} },
	"google.protobuf.ListValue": func() interface{} { return []interface{}{} },
	"google.protobuf.Empty":     func() interface{} { return map[string]interface{}{} },
}

// Template builds an example request payload for a message schema with the
// default depth limit. Referenced types are resolved against reg.
func Template(reg *Registry, s *MessageSchema) map[string]interface{} {
	return TemplateDepth(reg, s, DefaultTemplateDepth)
}

// TemplateDepth builds an example payload descending at most maxDepth levels.
// Recursive type graphs terminate via a visited set: re-entering an
// already-visited schema at any depth yields an empty object.
func TemplateDepth(reg *Registry, s *MessageSchema, maxDepth int) map[string]interface{} {
	return messageTemplate(reg, s, maxDepth, map[string]struct{}{})
}

func messageTemplate(reg *Registry, s *MessageSchema, depth int, visited map[string]struct{}) map[string]interface{} {
	out := map[string]interface{}{}
	if s == nil || depth <= 0 {
		return out
	}
	// The visited set persists across sibling subtrees: once a schema has
	// been expanded anywhere in the template, later references to it yield
	// an empty object.
	if _, seen := visited[s.FullName]; seen {
		return out
	}
	visited[s.FullName] = struct{}{}

	for _, f := range s.Fields {
		out[fieldKey(f)] = fieldTemplate(reg, f, depth, visited)
	}
	return out
}

func fieldKey(f *FieldSchema) string {
	if f.JSONName != "" {
		return f.JSONName
	}
	return f.Name
}

func fieldTemplate(reg *Registry, f *FieldSchema, depth int, visited map[string]struct{}) interface{} {
	if f.IsMap() {
		key := "key"
		if f.MapKey.Type.IsNumeric() {
			key = "0"
		}
		return map[string]interface{}{key: scalarOrMessageTemplate(reg, f.MapValue, depth, visited)}
	}
	v := scalarOrMessageTemplate(reg, f, depth, visited)
	if f.Repeated() {
		return []interface{}{v}
	}
	return v
}

func scalarOrMessageTemplate(reg *Registry, f *FieldSchema, depth int, visited map[string]struct{}) interface{} {
	switch f.Type {
	case FieldTypeDouble, FieldTypeFloat:
		return 0.0
	case FieldTypeBool:
		return false
	case FieldTypeString:
		return "<" + fieldKey(f) + ">"
	case FieldTypeBytes:
		return ""
	case FieldTypeEnum:
		if e, ok := reg.Enum(f.TypeName); ok && len(e.Values) > 0 {
			return e.Values[0].Name
		}
		return 0
	case FieldTypeMessage, FieldTypeGroup:
		name := normalizeName(f.TypeName)
		if wk, ok := wellKnownTemplates[name]; ok {
			return wk()
		}
		m, ok := reg.Message(name)
		if !ok {
			return map[string]interface{}{}
		}
		return messageTemplate(reg, m, depth-1, visited)
	default:
		// Remaining kinds are all numeric.
		return 0
	}
}
