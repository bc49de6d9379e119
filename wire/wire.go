// Package wire provides low-level readers for the Protocol Buffers wire
// format. All functions operate on an immutable byte slice plus an explicit
// offset and return the next offset, so callers can drive a forward-only
// parse without mutable cursor state.
package wire

import "github.com/pkg/errors"

// Wire types defined by the protobuf encoding.
const (
	TypeVarint          int8 = 0
	TypeFixed64         int8 = 1
	TypeLengthDelimited int8 = 2
	TypeFixed32         int8 = 5
)

var (
	// ErrTruncated is returned when a read would run past the end of the buffer.
	ErrTruncated = errors.New("truncated wire data")

	// ErrUnsupportedWireType is returned by SkipField for wire types this
	// parser does not handle (start/end group and reserved values).
	ErrUnsupportedWireType = errors.New("unsupported wire type")
)

// ReadVarint decodes a base-128 varint starting at off.
// Each byte contributes 7 bits, least significant group first; the high bit
// marks continuation. Varints longer than 10 bytes are rejected.
func ReadVarint(b []byte, off int) (uint64, int, error) {
	var (
		v     uint64
		shift uint
	)
	for i := off; i < len(b); i++ {
		if shift >= 64 {
			return 0, off, errors.Wrap(ErrTruncated, "varint exceeds 64 bits")
		}
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, off, errors.Wrap(ErrTruncated, "varint has no terminating byte")
}

// ReadLengthDelimited reads a varint length prefix at off and returns the
// following length bytes. The returned slice aliases b.
func ReadLengthDelimited(b []byte, off int) ([]byte, int, error) {
	n, next, err := ReadVarint(b, off)
	if err != nil {
		return nil, off, errors.Wrap(err, "failed to read length prefix")
	}
	// Compare in uint64: converting a huge length to int first would
	// overflow and slip past a bounds check.
	if n > uint64(len(b)-next) {
		return nil, off, errors.Wrapf(ErrTruncated, "declared length %d exceeds remaining %d bytes", n, len(b)-next)
	}
	end := next + int(n)
	return b[next:end], end, nil
}

// ReadTag decodes a field tag at off into its field number and wire type.
func ReadTag(b []byte, off int) (fieldNum int32, wireType int8, next int, err error) {
	tag, next, err := ReadVarint(b, off)
	if err != nil {
		return 0, 0, off, errors.Wrap(err, "failed to read field tag")
	}
	return int32(tag >> 3), int8(tag & 0x7), next, nil
}

// SkipField advances past the payload of a field with the given wire type.
// Group and reserved wire types yield ErrUnsupportedWireType; the caller is
// expected to abandon the current field and continue with the enclosing
// message by best effort.
func SkipField(b []byte, off int, wireType int8) (int, error) {
	switch wireType {
	case TypeVarint:
		_, next, err := ReadVarint(b, off)
		return next, err
	case TypeFixed64:
		if off+8 > len(b) {
			return off, errors.Wrap(ErrTruncated, "fixed64 field")
		}
		return off + 8, nil
	case TypeLengthDelimited:
		_, next, err := ReadLengthDelimited(b, off)
		return next, err
	case TypeFixed32:
		if off+4 > len(b) {
			return off, errors.Wrap(ErrTruncated, "fixed32 field")
		}
		return off + 4, nil
	default:
		return off, errors.Wrapf(ErrUnsupportedWireType, "wire type %d", wireType)
	}
}

// AppendVarint appends the varint encoding of v to b. It is the inverse of
// ReadVarint and exists mainly for constructing test fixtures and the
// occasional synthesized payload.
func AppendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// AppendTag appends the tag encoding for fieldNum with wireType.
func AppendTag(b []byte, fieldNum int32, wireType int8) []byte {
	return AppendVarint(b, uint64(fieldNum)<<3|uint64(wireType))
}

// AppendLengthDelimited appends a varint length prefix followed by payload.
func AppendLengthDelimited(b, payload []byte) []byte {
	b = AppendVarint(b, uint64(len(payload)))
	return append(b, payload...)
}
