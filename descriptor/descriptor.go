// Package descriptor decodes serialized FileDescriptorProto messages into a
// descriptor tree using only the wire package, without a protobuf runtime.
// It understands the subset of descriptor.proto needed for service discovery
// and skips everything else, so payloads that carry newer fields still parse.
package descriptor

import (
	"encoding/base64"

	"github.com/apicove/grpcbridge/wire"
	"github.com/pkg/errors"
)

// Label is a field repetition label from FieldDescriptorProto.Label.
type Label int32

const (
	LabelOptional Label = 1
	LabelRequired Label = 2
	LabelRepeated Label = 3
)

// Type is a field type from FieldDescriptorProto.Type.
type Type int32

const (
	TypeDouble   Type = 1
	TypeFloat    Type = 2
	TypeInt64    Type = 3
	TypeUint64   Type = 4
	TypeInt32    Type = 5
	TypeFixed64  Type = 6
	TypeFixed32  Type = 7
	TypeBool     Type = 8
	TypeString   Type = 9
	TypeGroup    Type = 10
	TypeMessage  Type = 11
	TypeBytes    Type = 12
	TypeUint32   Type = 13
	TypeEnum     Type = 14
	TypeSfixed32 Type = 15
	TypeSfixed64 Type = 16
	TypeSint32   Type = 17
	TypeSint64   Type = 18
)

// FileDescriptor is the decoded representation of one FileDescriptorProto.
type FileDescriptor struct {
	Name         string
	Package      string
	Dependencies []string
	MessageTypes []*MessageDescriptor
	EnumTypes    []*EnumDescriptor
	Services     []*ServiceDescriptor
}

// MessageDescriptor corresponds to DescriptorProto.
type MessageDescriptor struct {
	Name        string
	Fields      []*FieldDescriptor
	NestedTypes []*MessageDescriptor
	EnumTypes   []*EnumDescriptor
	OneofDecls  []*OneofDescriptor
}

// FieldDescriptor corresponds to FieldDescriptorProto.
type FieldDescriptor struct {
	Name         string
	Number       int32
	Label        Label
	Type         Type
	TypeName     string
	DefaultValue string
	// OneofIndex is nil when the field does not belong to a oneof. Index
	// zero is a valid value, so presence matters.
	OneofIndex *int32
	JSONName   string
}

// EnumDescriptor corresponds to EnumDescriptorProto.
type EnumDescriptor struct {
	Name   string
	Values []*EnumValueDescriptor
}

// EnumValueDescriptor corresponds to EnumValueDescriptorProto.
type EnumValueDescriptor struct {
	Name   string
	Number int32
}

// OneofDescriptor corresponds to OneofDescriptorProto.
type OneofDescriptor struct {
	Name string
}

// ServiceDescriptor corresponds to ServiceDescriptorProto.
type ServiceDescriptor struct {
	Name    string
	Methods []*MethodDescriptor
}

// MethodDescriptor corresponds to MethodDescriptorProto.
type MethodDescriptor struct {
	Name            string
	InputType       string
	OutputType      string
	ClientStreaming bool
	ServerStreaming bool
}

// ParseBase64 decodes a base64-encoded FileDescriptorProto and parses it.
// Reflection responses deliver descriptors in this form.
func ParseBase64(s string) (*FileDescriptor, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode base64 file descriptor")
	}
	return Parse(b), nil
}

// Parse decodes a serialized FileDescriptorProto. Parsing is best effort:
// unknown fields are skipped and a malformed field abandons only the
// enclosing submessage, never the whole file.
func Parse(b []byte) *FileDescriptor {
	fd := &FileDescriptor{}
	forEachField(b, func(num int32, payload []byte, varint uint64) {
		switch num {
		case 1:
			fd.Name = string(payload)
		case 2:
			fd.Package = string(payload)
		case 3:
			fd.Dependencies = append(fd.Dependencies, string(payload))
		case 4:
			fd.MessageTypes = append(fd.MessageTypes, parseMessage(payload))
		case 5:
			fd.EnumTypes = append(fd.EnumTypes, parseEnum(payload))
		case 6:
			fd.Services = append(fd.Services, parseService(payload))
		}
	})
	return fd
}

// forEachField walks b tag by tag and invokes fn for every decodable field.
// Length-delimited payloads arrive through payload, varint fields through
// varint. fixed32/fixed64 fields are skipped since descriptor.proto does not
// use them for anything this parser cares about. The walk stops at the first
// unrecoverable read error.
func forEachField(b []byte, fn func(num int32, payload []byte, varint uint64)) {
	off := 0
	for off < len(b) {
		num, wt, next, err := wire.ReadTag(b, off)
		if err != nil {
			return
		}
		off = next
		switch wt {
		case wire.TypeVarint:
			v, next, err := wire.ReadVarint(b, off)
			if err != nil {
				return
			}
			off = next
			fn(num, nil, v)
		case wire.TypeLengthDelimited:
			payload, next, err := wire.ReadLengthDelimited(b, off)
			if err != nil {
				return
			}
			off = next
			fn(num, payload, 0)
		default:
			next, err := wire.SkipField(b, off, wt)
			if err != nil {
				return
			}
			off = next
		}
	}
}

func parseMessage(b []byte) *MessageDescriptor {
	m := &MessageDescriptor{}
	forEachField(b, func(num int32, payload []byte, _ uint64) {
		switch num {
		case 1:
			m.Name = string(payload)
		case 2:
			m.Fields = append(m.Fields, parseField(payload))
		case 3:
			m.NestedTypes = append(m.NestedTypes, parseMessage(payload))
		case 4:
			m.EnumTypes = append(m.EnumTypes, parseEnum(payload))
		case 8:
			m.OneofDecls = append(m.OneofDecls, parseOneof(payload))
		}
	})
	return m
}

func parseField(b []byte) *FieldDescriptor {
	f := &FieldDescriptor{}
	forEachField(b, func(num int32, payload []byte, varint uint64) {
		switch num {
		case 1:
			f.Name = string(payload)
		case 3:
			f.Number = int32(varint)
		case 4:
			f.Label = Label(varint)
		case 5:
			f.Type = Type(varint)
		case 6:
			f.TypeName = string(payload)
		case 7:
			f.DefaultValue = string(payload)
		case 9:
			idx := int32(varint)
			f.OneofIndex = &idx
		case 10:
			f.JSONName = string(payload)
		}
	})
	return f
}

func parseEnum(b []byte) *EnumDescriptor {
	e := &EnumDescriptor{}
	forEachField(b, func(num int32, payload []byte, _ uint64) {
		switch num {
		case 1:
			e.Name = string(payload)
		case 2:
			e.Values = append(e.Values, parseEnumValue(payload))
		}
	})
	return e
}

func parseEnumValue(b []byte) *EnumValueDescriptor {
	v := &EnumValueDescriptor{}
	forEachField(b, func(num int32, payload []byte, varint uint64) {
		switch num {
		case 1:
			v.Name = string(payload)
		case 2:
			v.Number = int32(varint)
		}
	})
	return v
}

func parseOneof(b []byte) *OneofDescriptor {
	o := &OneofDescriptor{}
	forEachField(b, func(num int32, payload []byte, _ uint64) {
		if num == 1 {
			o.Name = string(payload)
		}
	})
	return o
}

func parseService(b []byte) *ServiceDescriptor {
	s := &ServiceDescriptor{}
	forEachField(b, func(num int32, payload []byte, _ uint64) {
		switch num {
		case 1:
			s.Name = string(payload)
		case 2:
			s.Methods = append(s.Methods, parseMethod(payload))
		}
	})
	return s
}

func parseMethod(b []byte) *MethodDescriptor {
	m := &MethodDescriptor{}
	forEachField(b, func(num int32, payload []byte, varint uint64) {
		switch num {
		case 1:
			m.Name = string(payload)
		case 2:
			m.InputType = string(payload)
		case 3:
			m.OutputType = string(payload)
		case 5:
			m.ClientStreaming = varint != 0
		case 6:
			m.ServerStreaming = varint != 0
		}
	})
	return m
}
