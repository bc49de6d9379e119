package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.PutEnum(&EnumSchema{
		Name:     "Mood",
		FullName: "example.Mood",
		Values:   []EnumValue{{Name: "CALM", Number: 0}, {Name: "ANGRY", Number: 1}},
	})
	reg.PutMessage(&MessageSchema{
		Name:     "Address",
		FullName: "example.Address",
		Fields: []*FieldSchema{
			{Name: "street", Number: 1, Type: FieldTypeString},
			{Name: "zip", Number: 2, Type: FieldTypeInt32},
		},
	})
	reg.PutMessage(&MessageSchema{
		Name:     "Person",
		FullName: "example.Person",
		Fields: []*FieldSchema{
			{Name: "name", Number: 1, Type: FieldTypeString},
			{Name: "age", Number: 2, Type: FieldTypeInt32},
			{Name: "height", Number: 3, Type: FieldTypeDouble},
			{Name: "alive", Number: 4, Type: FieldTypeBool},
			{Name: "avatar", Number: 5, Type: FieldTypeBytes},
			{Name: "mood", Number: 6, Type: FieldTypeEnum, TypeName: ".example.Mood"},
			{Name: "address", Number: 7, Type: FieldTypeMessage, TypeName: ".example.Address"},
			{Name: "nicknames", Number: 8, Type: FieldTypeString, Label: LabelRepeated},
			{Name: "born", Number: 9, Type: FieldTypeMessage, TypeName: ".google.protobuf.Timestamp"},
		},
	})
	return reg
}

func TestTemplate(t *testing.T) {
	reg := testRegistry()
	person, _ := reg.Message("example.Person")

	got := Template(reg, person)

	expected := map[string]interface{}{
		"name":   "<name>",
		"age":    0,
		"height": 0.0,
		"alive":  false,
		"avatar": "",
		"mood":   "CALM",
		"address": map[string]interface{}{
			"street": "<street>",
			"zip":    0,
		},
		"nicknames": []interface{}{"<nicknames>"},
		"born":      "1970-01-01T00:00:00Z",
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("template mismatch (-want +got):\n%s", diff)
	}
}

func TestTemplate_cycleSafety(t *testing.T) {
	reg := NewRegistry()
	reg.PutMessage(&MessageSchema{
		Name:     "Node",
		FullName: "example.Node",
		Fields: []*FieldSchema{
			{Name: "value", Number: 1, Type: FieldTypeString},
			{Name: "next", Number: 2, Type: FieldTypeMessage, TypeName: ".example.Node"},
		},
	})
	node, _ := reg.Message("example.Node")

	// Must terminate without panicking or blowing the stack.
	got := Template(reg, node)

	next, ok := got["next"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'next' to be an object, but got %T", got["next"])
	}
	if len(next) != 0 {
		t.Errorf("re-entering a visited schema must yield an empty object, but got %v", next)
	}
}

func TestTemplate_mutualRecursionDepthCap(t *testing.T) {
	reg := NewRegistry()
	reg.PutMessage(&MessageSchema{
		Name:     "A",
		FullName: "x.A",
		Fields:   []*FieldSchema{{Name: "b", Number: 1, Type: FieldTypeMessage, TypeName: "x.B"}},
	})
	reg.PutMessage(&MessageSchema{
		Name:     "B",
		FullName: "x.B",
		Fields:   []*FieldSchema{{Name: "a", Number: 1, Type: FieldTypeMessage, TypeName: "x.A"}},
	})
	a, _ := reg.Message("x.A")

	got := TemplateDepth(reg, a, 3)

	// Depth 3: A -> B -> {} (A is visited again).
	b, ok := got["b"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested object, but got %T", got["b"])
	}
	inner, ok := b["a"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected doubly nested object, but got %T", b["a"])
	}
	if len(inner) != 0 {
		t.Errorf("expected empty object at the cycle, but got %v", inner)
	}
}

func TestTemplate_repeatedReferenceYieldsEmptyObject(t *testing.T) {
	reg := NewRegistry()
	reg.PutMessage(&MessageSchema{
		Name:     "Coord",
		FullName: "geo.Coord",
		Fields:   []*FieldSchema{{Name: "lat", Number: 1, Type: FieldTypeDouble}},
	})
	reg.PutMessage(&MessageSchema{
		Name:     "Segment",
		FullName: "geo.Segment",
		Fields: []*FieldSchema{
			{Name: "from", Number: 1, Type: FieldTypeMessage, TypeName: ".geo.Coord"},
			{Name: "to", Number: 2, Type: FieldTypeMessage, TypeName: ".geo.Coord"},
		},
	})
	segment, _ := reg.Message("geo.Segment")

	got := Template(reg, segment)

	expected := map[string]interface{}{
		"from": map[string]interface{}{"lat": 0.0},
		"to":   map[string]interface{}{},
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("template mismatch (-want +got):\n%s", diff)
	}
}

func TestTemplate_mapField(t *testing.T) {
	reg := NewRegistry()
	reg.PutMessage(&MessageSchema{
		Name:     "Labels",
		FullName: "example.Labels",
		Fields: []*FieldSchema{
			{
				Name:   "labels",
				Number: 1,
				Type:   FieldTypeMessage,
				Label:  LabelRepeated,
				MapKey: &FieldSchema{Name: "key", Type: FieldTypeString},
				MapValue: &FieldSchema{
					Name: "value", Type: FieldTypeString,
				},
			},
		},
	})
	labels, _ := reg.Message("example.Labels")

	got := Template(reg, labels)
	expected := map[string]interface{}{
		"labels": map[string]interface{}{"key": "<value>"},
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("map template mismatch (-want +got):\n%s", diff)
	}
}
