package schema

import (
	"fmt"
	"testing"

	"github.com/apicove/grpcbridge/descriptor"
)

func TestRegistry_dualKeying(t *testing.T) {
	reg := NewRegistry()
	reg.PutMessage(&MessageSchema{Name: "Foo", FullName: ".example.Foo"})

	if _, ok := reg.Message("example.Foo"); !ok {
		t.Errorf("plain name lookup must find a message stored with a leading dot")
	}
	if _, ok := reg.Message(".example.Foo"); !ok {
		t.Errorf("dotted name lookup must find the message")
	}

	reg.PutEnum(&EnumSchema{Name: "Kind", FullName: "example.Kind"})
	if _, ok := reg.Enum(".example.Kind"); !ok {
		t.Errorf("dotted name lookup must find an enum stored without a dot")
	}
}

func TestRegistry_eviction(t *testing.T) {
	const max = 20
	reg := NewSizedRegistry(max, max, max)

	for i := 0; i < max+1; i++ {
		reg.PutMessage(&MessageSchema{Name: "M", FullName: fmt.Sprintf("example.M%d", i)})
	}

	_, messages, _ := reg.Len()
	if messages > max {
		t.Errorf("cache must stay at or below %d entries, but has %d", max, messages)
	}
	if _, ok := reg.Message(fmt.Sprintf("example.M%d", max)); !ok {
		t.Errorf("the most recently inserted entry must survive eviction")
	}
	// Insertion-order eviction drops the oldest tenth.
	if _, ok := reg.Message("example.M0"); ok {
		t.Errorf("the oldest entry must have been evicted")
	}
	if _, ok := reg.Message("example.M2"); !ok {
		t.Errorf("entries outside the evicted tenth must survive")
	}
}

func TestRegistry_overwriteDoesNotGrow(t *testing.T) {
	reg := NewSizedRegistry(10, 10, 10)
	for i := 0; i < 5; i++ {
		reg.PutMessage(&MessageSchema{Name: "Same", FullName: "example.Same"})
	}
	_, messages, _ := reg.Len()
	if messages != 1 {
		t.Errorf("re-inserting the same key must not grow the cache, but got %d entries", messages)
	}
}

func TestRegistry_clear(t *testing.T) {
	reg := NewRegistry()
	reg.PutFile(&descriptor.FileDescriptor{Name: "a.proto"})
	reg.PutMessage(&MessageSchema{Name: "A", FullName: "a.A"})
	reg.PutEnum(&EnumSchema{Name: "E", FullName: "a.E"})

	reg.Clear()

	files, messages, enums := reg.Len()
	if files != 0 || messages != 0 || enums != 0 {
		t.Errorf("expected empty registry after Clear, but got (%d, %d, %d)", files, messages, enums)
	}
	if _, ok := reg.File("a.proto"); ok {
		t.Errorf("file lookup must fail after Clear")
	}
}
