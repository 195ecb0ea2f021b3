package bcf

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrInvalid is the cause of every error reported for malformed BCF data.
var ErrInvalid = errors.New("invalid BCF")

// ValueType is the type code stored in the low nibble of a typed-value
// descriptor byte.
type ValueType byte

const (
	// TypeMissing marks an absent value; it occupies no bytes.
	TypeMissing ValueType = 0
	// TypeInt8 is a signed 8-bit integer.
	TypeInt8 ValueType = 1
	// TypeInt16 is a signed little-endian 16-bit integer.
	TypeInt16 ValueType = 2
	// TypeInt32 is a signed little-endian 32-bit integer.
	TypeInt32 ValueType = 3
	// TypeFloat is a little-endian IEEE-754 float32.
	TypeFloat ValueType = 5
	// TypeChar is one byte of a character string.
	TypeChar ValueType = 7
)

// Integer sentinels after widening to int32.  Each integer width reserves
// its two smallest values for "missing" and "end of vector"; Field.Int maps
// the narrow forms onto these.
const (
	MissingInt32     int32 = math.MinInt32
	EndOfVectorInt32 int32 = math.MinInt32 + 1
)

const (
	int8Missing      = -128
	int8EndOfVector  = -127
	int16Missing     = -32768
	int16EndOfVector = -32767
)

// Smallest values that can be stored without colliding with the reserved
// sentinel range of each width.
const (
	int8MinValue  = -120
	int16MinValue = -32760
)

// Size returns the width in bytes of one value of type t, or 0 for types
// that are not defined by BCF 2.2.
func (t ValueType) Size() int {
	switch t {
	case TypeInt8, TypeChar:
		return 1
	case TypeInt16:
		return 2
	case TypeInt32, TypeFloat:
		return 4
	}
	return 0
}

// IsInt reports whether t is one of the integer types.
func (t ValueType) IsInt() bool {
	return t == TypeInt8 || t == TypeInt16 || t == TypeInt32
}

// readTypeDescriptor parses a typed-value descriptor at the head of b.  It
// returns the value type, the number of values that follow, and the number of
// bytes consumed by the descriptor itself (including an overflow count).
func readTypeDescriptor(b []byte) (typ ValueType, count int, n int, err error) {
	if len(b) < 1 {
		return 0, 0, 0, errors.Wrap(ErrInvalid, "truncated type descriptor")
	}
	typ = ValueType(b[0] & 0x0f)
	count = int(b[0] >> 4)
	n = 1
	if typ != TypeMissing && typ.Size() == 0 {
		return 0, 0, 0, errors.Wrapf(ErrInvalid, "unknown value type %d", typ)
	}
	if count == 15 {
		var m int
		if count, m, err = readTypedInt(b[1:]); err != nil {
			return 0, 0, 0, err
		}
		if count < 0 {
			return 0, 0, 0, errors.Wrapf(ErrInvalid, "negative value count %d", count)
		}
		n += m
	}
	return typ, count, n, nil
}

// readTypedInt parses a scalar typed integer at the head of b, as used for
// dictionary keys and overflow counts.
func readTypedInt(b []byte) (v int, n int, err error) {
	if len(b) < 1 {
		return 0, 0, errors.Wrap(ErrInvalid, "truncated typed integer")
	}
	typ := ValueType(b[0] & 0x0f)
	if count := b[0] >> 4; count != 1 || !typ.IsInt() {
		return 0, 0, errors.Wrapf(ErrInvalid, "expected scalar typed integer, got descriptor %#x", b[0])
	}
	size := typ.Size()
	if len(b) < 1+size {
		return 0, 0, errors.Wrap(ErrInvalid, "truncated typed integer")
	}
	return int(intAt(b[1:], typ, 0)), 1 + size, nil
}

// skipTypedValue returns the number of bytes occupied by the typed value at
// the head of b.
func skipTypedValue(b []byte) (int, error) {
	typ, count, n, err := readTypeDescriptor(b)
	if err != nil {
		return 0, err
	}
	total := n + count*typ.Size()
	if total > len(b) {
		return 0, errors.Wrapf(ErrInvalid, "typed value of %d bytes overruns buffer of %d", total, len(b))
	}
	return total, nil
}

// intAt returns the i'th integer of type typ stored in b, with the
// type-specific missing/end-of-vector sentinels mapped to MissingInt32 and
// EndOfVectorInt32.
func intAt(b []byte, typ ValueType, i int) int32 {
	switch typ {
	case TypeInt8:
		v := int8(b[i])
		switch v {
		case int8Missing:
			return MissingInt32
		case int8EndOfVector:
			return EndOfVectorInt32
		}
		return int32(v)
	case TypeInt16:
		v := int16(binary.LittleEndian.Uint16(b[2*i:]))
		switch v {
		case int16Missing:
			return MissingInt32
		case int16EndOfVector:
			return EndOfVectorInt32
		}
		return int32(v)
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return MissingInt32
}

// appendTypeDescriptor appends the descriptor for count values of type typ.
func appendTypeDescriptor(b []byte, typ ValueType, count int) []byte {
	if count < 15 {
		return append(b, byte(count<<4)|byte(typ))
	}
	b = append(b, 0xf0|byte(typ))
	return appendTypedInt(b, count)
}

// appendTypedInt appends v as a scalar typed integer of the narrowest type
// that holds it.
func appendTypedInt(b []byte, v int) []byte {
	switch {
	case v >= int8MinValue && v <= math.MaxInt8:
		return append(b, 0x10|byte(TypeInt8), byte(int8(v)))
	case v >= int16MinValue && v <= math.MaxInt16:
		b = append(b, 0x10|byte(TypeInt16), 0, 0)
		binary.LittleEndian.PutUint16(b[len(b)-2:], uint16(int16(v)))
		return b
	}
	b = append(b, 0x10|byte(TypeInt32), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(b[len(b)-4:], uint32(int32(v)))
	return b
}

// appendTypedString appends s as a typed character vector.
func appendTypedString(b []byte, s string) []byte {
	b = appendTypeDescriptor(b, TypeChar, len(s))
	return append(b, s...)
}
