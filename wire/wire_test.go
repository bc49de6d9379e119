package wire

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestReadVarint(t *testing.T) {
	cases := map[string]struct {
		in       []byte
		off      int
		expected uint64
		next     int
		hasErr   bool
	}{
		"single byte zero":      {in: []byte{0x00}, expected: 0, next: 1},
		"single byte max":       {in: []byte{0x7f}, expected: 127, next: 1},
		"two bytes":             {in: []byte{0x96, 0x01}, expected: 150, next: 2},
		"offset into buffer":    {in: []byte{0xff, 0x08}, off: 1, expected: 8, next: 2},
		"missing continuation":  {in: []byte{0x80}, hasErr: true},
		"empty buffer":          {in: nil, hasErr: true},
		"eleven byte overflow":  {in: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, hasErr: true},
		"max uint64 (10 bytes)": {in: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, expected: 1<<64 - 1, next: 10},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			v, next, err := ReadVarint(c.in, c.off)
			if c.hasErr {
				if err == nil {
					t.Fatalf("ReadVarint must return an error, but got nil")
				}
				if !errors.Is(err, ErrTruncated) {
					t.Errorf("error must wrap ErrTruncated, but got '%s'", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadVarint must not return an error, but got '%s'", err)
			}
			if v != c.expected {
				t.Errorf("expected value %d, but got %d", c.expected, v)
			}
			if next != c.next {
				t.Errorf("expected next offset %d, but got %d", c.next, next)
			}
		})
	}
}

func TestReadVarint_roundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16383, 16384, 1<<32 - 1, 1<<63 - 1, 1<<64 - 1}
	for _, v := range values {
		b := AppendVarint(nil, v)
		got, next, err := ReadVarint(b, 0)
		if err != nil {
			t.Fatalf("ReadVarint(%d) must not return an error, but got '%s'", v, err)
		}
		if got != v {
			t.Errorf("round trip mismatch: encoded %d, decoded %d", v, got)
		}
		if next != len(b) {
			t.Errorf("expected all %d bytes consumed, but consumed %d", len(b), next)
		}
	}
}

func TestReadLengthDelimited(t *testing.T) {
	cases := map[string]struct {
		in       []byte
		expected []byte
		next     int
		hasErr   bool
	}{
		"empty payload":           {in: []byte{0x00}, expected: []byte{}, next: 1},
		"three bytes":             {in: []byte{0x03, 'a', 'b', 'c'}, expected: []byte("abc"), next: 4},
		"length past buffer end":  {in: []byte{0x05, 'a', 'b'}, hasErr: true},
		"missing length prefix":   {in: nil, hasErr: true},
		"trailing bytes retained": {in: []byte{0x01, 'x', 'y'}, expected: []byte("x"), next: 2},
		"length overflows int":    {in: append(AppendVarint(nil, math.MaxInt64), 0x00), hasErr: true},
		"length is max uint64":    {in: append(AppendVarint(nil, math.MaxUint64), 0x00), hasErr: true},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			b, next, err := ReadLengthDelimited(c.in, 0)
			if c.hasErr {
				if err == nil {
					t.Fatalf("ReadLengthDelimited must return an error, but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadLengthDelimited must not return an error, but got '%s'", err)
			}
			if string(b) != string(c.expected) {
				t.Errorf("expected payload %q, but got %q", c.expected, b)
			}
			if next != c.next {
				t.Errorf("expected next offset %d, but got %d", c.next, next)
			}
		})
	}
}

func TestReadTag(t *testing.T) {
	b := AppendTag(nil, 12, TypeLengthDelimited)
	fieldNum, wireType, next, err := ReadTag(b, 0)
	if err != nil {
		t.Fatalf("ReadTag must not return an error, but got '%s'", err)
	}
	if fieldNum != 12 {
		t.Errorf("expected field number 12, but got %d", fieldNum)
	}
	if wireType != TypeLengthDelimited {
		t.Errorf("expected wire type %d, but got %d", TypeLengthDelimited, wireType)
	}
	if next != len(b) {
		t.Errorf("expected next offset %d, but got %d", len(b), next)
	}
}

func TestSkipField(t *testing.T) {
	cases := map[string]struct {
		in       []byte
		wireType int8
		next     int
		err      error
	}{
		"varint":            {in: []byte{0x96, 0x01, 0xff}, wireType: TypeVarint, next: 2},
		"fixed64":           {in: make([]byte, 9), wireType: TypeFixed64, next: 8},
		"fixed64 truncated": {in: make([]byte, 4), wireType: TypeFixed64, err: ErrTruncated},
		"length delimited":  {in: []byte{0x02, 'a', 'b', 'c'}, wireType: TypeLengthDelimited, next: 3},
		"fixed32":           {in: make([]byte, 4), wireType: TypeFixed32, next: 4},
		"fixed32 truncated": {in: make([]byte, 3), wireType: TypeFixed32, err: ErrTruncated},
		"start group":       {in: []byte{0x00}, wireType: 3, err: ErrUnsupportedWireType},
		"end group":         {in: []byte{0x00}, wireType: 4, err: ErrUnsupportedWireType},
		"reserved type":     {in: []byte{0x00}, wireType: 7, err: ErrUnsupportedWireType},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			next, err := SkipField(c.in, 0, c.wireType)
			if c.err != nil {
				if !errors.Is(err, c.err) {
					t.Fatalf("expected error '%s', but got '%v'", c.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SkipField must not return an error, but got '%s'", err)
			}
			if next != c.next {
				t.Errorf("expected next offset %d, but got %d", c.next, next)
			}
		})
	}
}
