package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// GenerateProto synthesizes a minimal textual proto definition for a
// discovered service: a syntax line, the service's package, message and enum
// definitions for every transitively referenced type, and the service block.
// The output is deterministic and parsable, intended for collaborators that
// need a .proto artifact rather than in-memory schemas.
func GenerateProto(reg *Registry, svc *ServiceInfo) (string, error) {
	if svc == nil || len(svc.Methods) == 0 {
		return "", errors.New("service has no methods to generate a proto definition for")
	}

	pkg := ""
	if i := lastDot(svc.FullName); i >= 0 {
		pkg = svc.FullName[:i]
	}

	g := &protoGen{reg: reg, pkg: pkg, messages: map[string]*MessageSchema{}, enums: map[string]*EnumSchema{}}
	for _, m := range svc.Methods {
		g.collectMessage(m.InputType)
		g.collectMessage(m.OutputType)
	}

	var b strings.Builder
	b.WriteString("syntax = \"proto3\";\n\n")
	if pkg != "" {
		fmt.Fprintf(&b, "package %s;\n\n", pkg)
	}

	enumNames := make([]string, 0, len(g.enums))
	for name := range g.enums {
		enumNames = append(enumNames, name)
	}
	sort.Strings(enumNames)
	for _, name := range enumNames {
		g.writeEnum(&b, g.enums[name])
	}

	msgNames := make([]string, 0, len(g.messages))
	for name := range g.messages {
		msgNames = append(msgNames, name)
	}
	sort.Strings(msgNames)
	for _, name := range msgNames {
		g.writeMessage(&b, g.messages[name])
	}

	fmt.Fprintf(&b, "service %s {\n", svc.Name)
	for _, m := range svc.Methods {
		in, out := g.localName(m.InputType), g.localName(m.OutputType)
		sin, sout := "", ""
		if m.ClientStreaming {
			sin = "stream "
		}
		if m.ServerStreaming {
			sout = "stream "
		}
		fmt.Fprintf(&b, "  rpc %s (%s%s) returns (%s%s);\n", m.Name, sin, in, sout, out)
	}
	b.WriteString("}\n")

	return b.String(), nil
}

type protoGen struct {
	reg      *Registry
	pkg      string
	messages map[string]*MessageSchema
	enums    map[string]*EnumSchema
}

func (g *protoGen) collectMessage(fullName string) {
	name := normalizeName(fullName)
	if name == "" {
		return
	}
	if _, ok := g.messages[name]; ok {
		return
	}
	m, ok := g.reg.Message(name)
	if !ok {
		m = Placeholder(name)
	}
	g.messages[name] = m
	for _, f := range m.Fields {
		if f.IsMap() {
			if f.MapValue.Type == FieldTypeMessage {
				g.collectMessage(f.MapValue.TypeName)
			}
			if f.MapValue.Type == FieldTypeEnum {
				g.collectEnum(f.MapValue.TypeName)
			}
			continue
		}
		switch f.Type {
		case FieldTypeMessage, FieldTypeGroup:
			g.collectMessage(f.TypeName)
		case FieldTypeEnum:
			g.collectEnum(f.TypeName)
		}
	}
}

func (g *protoGen) collectEnum(fullName string) {
	name := normalizeName(fullName)
	if name == "" {
		return
	}
	if _, ok := g.enums[name]; ok {
		return
	}
	e, ok := g.reg.Enum(name)
	if !ok {
		e = &EnumSchema{Name: localize(g.pkg, name), FullName: name, Values: []EnumValue{{Name: "UNKNOWN", Number: 0}}}
	}
	g.enums[name] = e
}

func (g *protoGen) writeMessage(b *strings.Builder, m *MessageSchema) {
	fmt.Fprintf(b, "message %s {\n", g.localName(m.FullName))
	for _, f := range m.Fields {
		label := ""
		if f.Repeated() && !f.IsMap() {
			label = "repeated "
		}
		fmt.Fprintf(b, "  %s%s %s = %d;\n", label, g.fieldTypeName(f), f.Name, f.Number)
	}
	b.WriteString("}\n\n")
}

func (g *protoGen) writeEnum(b *strings.Builder, e *EnumSchema) {
	fmt.Fprintf(b, "enum %s {\n", g.localName(e.FullName))
	for _, v := range e.Values {
		fmt.Fprintf(b, "  %s = %d;\n", v.Name, v.Number)
	}
	b.WriteString("}\n\n")
}

func (g *protoGen) fieldTypeName(f *FieldSchema) string {
	if f.IsMap() {
		return fmt.Sprintf("map<%s, %s>", g.fieldTypeName(f.MapKey), g.fieldTypeName(f.MapValue))
	}
	switch f.Type {
	case FieldTypeMessage, FieldTypeGroup, FieldTypeEnum:
		return g.localName(f.TypeName)
	default:
		return f.Type.String()
	}
}

// localName flattens a fully-qualified type name into an identifier local to
// the generated package. Types from the service's own package keep their
// name; foreign types get dots replaced by underscores.
func (g *protoGen) localName(fullName string) string {
	return localize(g.pkg, normalizeName(fullName))
}

func localize(pkg, name string) string {
	if pkg != "" && strings.HasPrefix(name, pkg+".") {
		return strings.ReplaceAll(name[len(pkg)+1:], ".", "_")
	}
	return strings.ReplaceAll(name, ".", "_")
}
