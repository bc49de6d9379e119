// Package schema holds the projected view of discovered gRPC services:
// message and enum schemas keyed by fully-qualified name, service and method
// metadata, a bounded registry caching all of them, example payload
// generation and payload validation.
package schema

import "github.com/apicove/grpcbridge/descriptor"

// FieldType identifies the declared protobuf type of a field. Values mirror
// FieldDescriptorProto.Type.
type FieldType int32

const (
	FieldTypeDouble   = FieldType(descriptor.TypeDouble)
	FieldTypeFloat    = FieldType(descriptor.TypeFloat)
	FieldTypeInt64    = FieldType(descriptor.TypeInt64)
	FieldTypeUint64   = FieldType(descriptor.TypeUint64)
	FieldTypeInt32    = FieldType(descriptor.TypeInt32)
	FieldTypeFixed64  = FieldType(descriptor.TypeFixed64)
	FieldTypeFixed32  = FieldType(descriptor.TypeFixed32)
	FieldTypeBool     = FieldType(descriptor.TypeBool)
	FieldTypeString   = FieldType(descriptor.TypeString)
	FieldTypeGroup    = FieldType(descriptor.TypeGroup)
	FieldTypeMessage  = FieldType(descriptor.TypeMessage)
	FieldTypeBytes    = FieldType(descriptor.TypeBytes)
	FieldTypeUint32   = FieldType(descriptor.TypeUint32)
	FieldTypeEnum     = FieldType(descriptor.TypeEnum)
	FieldTypeSfixed32 = FieldType(descriptor.TypeSfixed32)
	FieldTypeSfixed64 = FieldType(descriptor.TypeSfixed64)
	FieldTypeSint32   = FieldType(descriptor.TypeSint32)
	FieldTypeSint64   = FieldType(descriptor.TypeSint64)
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeDouble:   "double",
	FieldTypeFloat:    "float",
	FieldTypeInt64:    "int64",
	FieldTypeUint64:   "uint64",
	FieldTypeInt32:    "int32",
	FieldTypeFixed64:  "fixed64",
	FieldTypeFixed32:  "fixed32",
	FieldTypeBool:     "bool",
	FieldTypeString:   "string",
	FieldTypeGroup:    "group",
	FieldTypeMessage:  "message",
	FieldTypeBytes:    "bytes",
	FieldTypeUint32:   "uint32",
	FieldTypeEnum:     "enum",
	FieldTypeSfixed32: "sfixed32",
	FieldTypeSfixed64: "sfixed64",
	FieldTypeSint32:   "sint32",
	FieldTypeSint64:   "sint64",
}

// String returns the proto keyword for the type, or "unknown".
func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// IsNumeric reports whether the type is one of the numeric scalar kinds.
func (t FieldType) IsNumeric() bool {
	switch t {
	case FieldTypeDouble, FieldTypeFloat, FieldTypeInt64, FieldTypeUint64,
		FieldTypeInt32, FieldTypeFixed64, FieldTypeFixed32, FieldTypeUint32,
		FieldTypeSfixed32, FieldTypeSfixed64, FieldTypeSint32, FieldTypeSint64:
		return true
	}
	return false
}

// Label is a field repetition label.
type Label int32

const (
	LabelOptional = Label(descriptor.LabelOptional)
	LabelRequired = Label(descriptor.LabelRequired)
	LabelRepeated = Label(descriptor.LabelRepeated)
)

func (l Label) String() string {
	switch l {
	case LabelRequired:
		return "required"
	case LabelRepeated:
		return "repeated"
	default:
		return "optional"
	}
}

// FieldSchema describes one field of a message schema.
type FieldSchema struct {
	Name     string
	JSONName string
	Number   int32
	Type     FieldType
	Label    Label

	// TypeName is the fully-qualified name of the referenced message or
	// enum type. Empty for scalar fields.
	TypeName string

	// MapKey and MapValue are set when the field is a protobuf map.
	// The field itself then carries the synthetic repeated map-entry
	// message in TypeName.
	MapKey   *FieldSchema
	MapValue *FieldSchema

	// OneofIndex is nil for fields outside any oneof.
	OneofIndex *int32
}

// Repeated reports whether the field is a repeated (or map) field.
func (f *FieldSchema) Repeated() bool {
	return f.Label == LabelRepeated
}

// IsMap reports whether the field is a protobuf map field.
func (f *FieldSchema) IsMap() bool {
	return f.MapKey != nil && f.MapValue != nil
}

// MessageSchema describes one message type.
type MessageSchema struct {
	Name     string
	FullName string
	Fields   []*FieldSchema
}

// FieldByName returns the field matching the proto name or JSON name.
func (s *MessageSchema) FieldByName(name string) (*FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Name == name || (f.JSONName != "" && f.JSONName == name) {
			return f, true
		}
	}
	return nil, false
}

// EnumValue is one declared (name, number) pair of an enum.
type EnumValue struct {
	Name   string
	Number int32
}

// EnumSchema describes one enum type with its declared values in order.
type EnumSchema struct {
	Name     string
	FullName string
	Values   []EnumValue
}

// ValueNames returns the declared value names in order.
func (s *EnumSchema) ValueNames() []string {
	names := make([]string, len(s.Values))
	for i, v := range s.Values {
		names[i] = v.Name
	}
	return names
}

// MethodInfo describes one RPC of a discovered service.
type MethodInfo struct {
	Name            string
	FullName        string
	InputType       string
	OutputType      string
	ClientStreaming bool
	ServerStreaming bool

	// Input and Output are resolved against the registry at discovery
	// time. Unresolvable types get a placeholder schema with no fields.
	Input  *MessageSchema
	Output *MessageSchema
}

// Kind returns the canonical method kind string used on the call boundary.
func (m *MethodInfo) Kind() string {
	switch {
	case m.ClientStreaming && m.ServerStreaming:
		return "bidirectional-streaming"
	case m.ClientStreaming:
		return "client-streaming"
	case m.ServerStreaming:
		return "server-streaming"
	default:
		return "unary"
	}
}

// ServiceInfo describes one discovered service.
type ServiceInfo struct {
	Name     string
	FullName string
	Methods  []*MethodInfo
}

// Placeholder returns an empty schema standing in for an unresolvable type.
func Placeholder(fullName string) *MessageSchema {
	name := fullName
	if i := lastDot(fullName); i >= 0 {
		name = fullName[i+1:]
	}
	return &MessageSchema{Name: name, FullName: normalizeName(fullName), Fields: []*FieldSchema{}}
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// normalizeName strips the leading dot descriptor type references carry.
func normalizeName(fullName string) string {
	if len(fullName) > 0 && fullName[0] == '.' {
		return fullName[1:]
	}
	return fullName
}
