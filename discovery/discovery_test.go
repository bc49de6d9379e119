package discovery

import (
	"context"
	"testing"

	"github.com/apicove/grpcbridge/descriptor"
	"github.com/apicove/grpcbridge/schema"
	"github.com/apicove/grpcbridge/wire"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

type fakeReflectionClient struct {
	services []string
	files    map[string][][]byte
	err      error
}

func (f *fakeReflectionClient) ListServices(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.services, nil
}

func (f *fakeReflectionClient) FileContainingSymbol(ctx context.Context, symbol string) ([][]byte, error) {
	files, ok := f.files[symbol]
	if !ok {
		return nil, errors.Errorf("symbol '%s' not found", symbol)
	}
	return files, nil
}

func (f *fakeReflectionClient) Reset() {}

// Wire-level fixture builders, mirroring how a reflection server serializes
// descriptor.proto messages.

func encStr(b []byte, num int32, s string) []byte {
	b = wire.AppendTag(b, num, wire.TypeLengthDelimited)
	return wire.AppendLengthDelimited(b, []byte(s))
}

func encVarint(b []byte, num int32, v uint64) []byte {
	b = wire.AppendTag(b, num, wire.TypeVarint)
	return wire.AppendVarint(b, v)
}

func encMsg(b []byte, num int32, sub []byte) []byte {
	b = wire.AppendTag(b, num, wire.TypeLengthDelimited)
	return wire.AppendLengthDelimited(b, sub)
}

func encField(name string, number int32, label descriptor.Label, typ descriptor.Type, typeName string) []byte {
	var b []byte
	b = encStr(b, 1, name)
	b = encVarint(b, 3, uint64(number))
	b = encVarint(b, 4, uint64(label))
	b = encVarint(b, 5, uint64(typ))
	if typeName != "" {
		b = encStr(b, 6, typeName)
	}
	return b
}

func greetFile() []byte {
	req := encStr(nil, 1, "HelloRequest")
	req = encMsg(req, 2, encField("name", 1, descriptor.LabelOptional, descriptor.TypeString, ""))
	req = encMsg(req, 2, encField("age", 2, descriptor.LabelOptional, descriptor.TypeInt32, ""))

	rep := encStr(nil, 1, "HelloReply")
	rep = encMsg(rep, 2, encField("message", 1, descriptor.LabelOptional, descriptor.TypeString, ""))

	sayHello := encStr(nil, 1, "SayHello")
	sayHello = encStr(sayHello, 2, ".greet.HelloRequest")
	sayHello = encStr(sayHello, 3, ".greet.HelloReply")

	chat := encStr(nil, 1, "Chat")
	chat = encStr(chat, 2, ".greet.HelloRequest")
	chat = encStr(chat, 3, ".greet.HelloReply")
	chat = encVarint(chat, 5, 1)
	chat = encVarint(chat, 6, 1)

	svc := encStr(nil, 1, "Greeter")
	svc = encMsg(svc, 2, sayHello)
	svc = encMsg(svc, 2, chat)

	var file []byte
	file = encStr(file, 1, "greet.proto")
	file = encStr(file, 2, "greet")
	file = encMsg(file, 4, req)
	file = encMsg(file, 4, rep)
	file = encMsg(file, 6, svc)
	return file
}

// nestedFile declares a message with a nested message, a nested enum and a
// map field backed by a synthetic Entry message.
func nestedFile() []byte {
	entry := encStr(nil, 1, "LabelsEntry")
	entry = encMsg(entry, 2, encField("key", 1, descriptor.LabelOptional, descriptor.TypeString, ""))
	entry = encMsg(entry, 2, encField("value", 2, descriptor.LabelOptional, descriptor.TypeInt64, ""))

	inner := encStr(nil, 1, "Inner")
	inner = encMsg(inner, 2, encField("id", 1, descriptor.LabelOptional, descriptor.TypeString, ""))

	kind := encStr(nil, 1, "Kind")
	kind = encMsg(kind, 2, encStr(encVarint(nil, 2, 0), 1, "PLAIN"))

	outer := encStr(nil, 1, "Outer")
	outer = encMsg(outer, 2, encField("inner", 1, descriptor.LabelOptional, descriptor.TypeMessage, ".box.Outer.Inner"))
	outer = encMsg(outer, 2, encField("labels", 2, descriptor.LabelRepeated, descriptor.TypeMessage, ".box.Outer.LabelsEntry"))
	outer = encMsg(outer, 3, inner)
	outer = encMsg(outer, 3, entry)
	outer = encMsg(outer, 4, kind)

	get := encStr(nil, 1, "Get")
	get = encStr(get, 2, ".box.Outer")
	get = encStr(get, 3, ".box.Missing")

	svc := encStr(nil, 1, "Boxes")
	svc = encMsg(svc, 2, get)

	var file []byte
	file = encStr(file, 1, "box.proto")
	file = encStr(file, 2, "box")
	file = encMsg(file, 4, outer)
	file = encMsg(file, 6, svc)
	return file
}

func TestDiscoverServices(t *testing.T) {
	refl := &fakeReflectionClient{
		services: []string{
			"grpc.reflection.v1.ServerReflection",
			"grpc.reflection.v1alpha.ServerReflection",
			"greet.Greeter",
		},
		files: map[string][][]byte{
			"greet.Greeter": {greetFile()},
		},
	}
	reg := schema.NewRegistry()

	res, err := NewClient(refl, reg).DiscoverServices(context.Background())
	if err != nil {
		t.Fatalf("DiscoverServices must not return an error, but got '%s'", err)
	}

	if len(res.Services) != 1 {
		t.Fatalf("expected 1 service, but got %d", len(res.Services))
	}
	svc := res.Services[0]
	if svc.FullName != "greet.Greeter" {
		t.Errorf("expected service 'greet.Greeter', but got '%s'", svc.FullName)
	}
	if len(svc.Methods) != 2 {
		t.Fatalf("expected 2 methods, but got %d", len(svc.Methods))
	}

	sayHello := svc.Methods[0]
	if sayHello.Kind() != "unary" {
		t.Errorf("expected unary kind, but got '%s'", sayHello.Kind())
	}
	var fieldNames []string
	for _, f := range sayHello.Input.Fields {
		fieldNames = append(fieldNames, f.Name)
	}
	if diff := cmp.Diff([]string{"name", "age"}, fieldNames); diff != "" {
		t.Errorf("input field mismatch (-want +got):\n%s", diff)
	}
	if sayHello.Input.Fields[1].Type != schema.FieldTypeInt32 || sayHello.Input.Fields[1].Number != 2 {
		t.Errorf("unexpected 'age' field: %+v", sayHello.Input.Fields[1])
	}
	if len(sayHello.Output.Fields) != 1 || sayHello.Output.Fields[0].Name != "message" {
		t.Errorf("unexpected output schema: %+v", sayHello.Output)
	}

	chat := svc.Methods[1]
	if chat.Kind() != "bidirectional-streaming" {
		t.Errorf("expected bidirectional-streaming kind, but got '%s'", chat.Kind())
	}

	// Discovery must have populated the registry.
	if _, ok := reg.Message("greet.HelloRequest"); !ok {
		t.Errorf("HelloRequest must be registered")
	}
	if _, ok := reg.File("greet.proto"); !ok {
		t.Errorf("greet.proto must be registered")
	}
}

func TestDiscoverServices_nestedTypesAndPlaceholders(t *testing.T) {
	refl := &fakeReflectionClient{
		services: []string{"box.Boxes"},
		files:    map[string][][]byte{"box.Boxes": {nestedFile()}},
	}
	reg := schema.NewRegistry()

	res, err := NewClient(refl, reg).DiscoverServices(context.Background())
	if err != nil {
		t.Fatalf("DiscoverServices must not return an error, but got '%s'", err)
	}

	// Nested types are qualified by their parents.
	if _, ok := reg.Message("box.Outer.Inner"); !ok {
		t.Errorf("nested message must be registered with a parent-qualified name")
	}
	if _, ok := reg.Enum("box.Outer.Kind"); !ok {
		t.Errorf("nested enum must be registered with a parent-qualified name")
	}

	outer, ok := reg.Message("box.Outer")
	if !ok {
		t.Fatalf("Outer must be registered")
	}
	labels, ok := outer.FieldByName("labels")
	if !ok {
		t.Fatalf("labels field missing")
	}
	if !labels.IsMap() {
		t.Fatalf("labels must be detected as a map field")
	}
	if labels.MapKey.Type != schema.FieldTypeString || labels.MapValue.Type != schema.FieldTypeInt64 {
		t.Errorf("unexpected map entry types: key=%s value=%s", labels.MapKey.Type, labels.MapValue.Type)
	}

	// The method output type does not exist anywhere: discovery continues
	// with a placeholder instead of failing.
	get := res.Services[0].Methods[0]
	if get.Output == nil || len(get.Output.Fields) != 0 {
		t.Errorf("expected an empty placeholder schema, but got %+v", get.Output)
	}
	if get.Output.FullName != "box.Missing" {
		t.Errorf("placeholder must carry the normalized type name, but got '%s'", get.Output.FullName)
	}
}

func TestDiscoverServices_partialFailure(t *testing.T) {
	refl := &fakeReflectionClient{
		services: []string{"greet.Greeter", "broken.Svc"},
		files:    map[string][][]byte{"greet.Greeter": {greetFile()}},
	}
	reg := schema.NewRegistry()

	res, err := NewClient(refl, reg).DiscoverServices(context.Background())
	if err != nil {
		t.Fatalf("one broken service must not abort discovery, but got '%s'", err)
	}
	if len(res.Services) != 1 {
		t.Fatalf("expected 1 service, but got %d", len(res.Services))
	}
	if _, ok := res.Skipped["broken.Svc"]; !ok {
		t.Errorf("the broken service must be reported as skipped")
	}
}

func TestDiscoverServices_listFailure(t *testing.T) {
	refl := &fakeReflectionClient{err: errors.New("connection refused")}
	if _, err := NewClient(refl, schema.NewRegistry()).DiscoverServices(context.Background()); err == nil {
		t.Fatalf("a list failure must abort the discovery pass")
	}
}
