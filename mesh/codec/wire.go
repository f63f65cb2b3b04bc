package codec

import (
	"fmt"
	"google.golang.org/protobuf/encoding/protowire"
	"math"
)

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

// encoder appends protobuf fields to a buffer. Zero values are omitted like
// proto3 does, the *Always variants are used for oneof members where
// presence matters.
type encoder struct {
	b []byte
}

func (e *encoder) varint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.varintAlways(num, v)
}

func (e *encoder) varintAlways(num protowire.Number, v uint64) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) int32(num protowire.Number, v int32) {
	e.varint(num, uint64(int64(v)))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.varintAlways(num, 1)
	}
}

func (e *encoder) fixed32(num protowire.Number, v uint32) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed32Type)
	e.b = protowire.AppendFixed32(e.b, v)
}

func (e *encoder) sfixed32(num protowire.Number, v int32) {
	e.fixed32(num, uint32(v))
}

func (e *encoder) float(num protowire.Number, v float32) {
	e.fixed32(num, math.Float32bits(v))
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.bytesAlways(num, v)
}

func (e *encoder) bytesAlways(num protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, v)
}

// message appends an embedded message, also when it is empty
func (e *encoder) message(num protowire.Number, encode func(e *encoder)) {
	var inner encoder
	encode(&inner)
	e.bytesAlways(num, inner.b)
}

// --------------------------------------------------------------------------
// Decoding helpers
// --------------------------------------------------------------------------

// field is one decoded protobuf field
type field struct {
	num protowire.Number
	typ protowire.Type
	val uint64 // varint, fixed32 and fixed64 values
	buf []byte // bytes values
	raw []byte // complete field including the tag
}

// forEachField calls fn for every top-level field of b
func forEachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		start := b
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.val, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.val = uint64(v)
		case protowire.Fixed64Type:
			f.val, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.buf, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		f.raw = start[:len(start)-len(b)]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d: wire type %d, want %d", f.num, f.typ, typ)
	}
	return nil
}

func (f field) uint32() (uint32, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	return uint32(f.val), nil
}

func (f field) int32() (int32, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	return int32(f.val), nil
}

func (f field) bool() (bool, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return false, err
	}
	return protowire.DecodeBool(f.val), nil
}

func (f field) fixed32() (uint32, error) {
	if err := f.expect(protowire.Fixed32Type); err != nil {
		return 0, err
	}
	return uint32(f.val), nil
}

func (f field) sfixed32() (int32, error) {
	v, err := f.fixed32()
	return int32(v), err
}

func (f field) float() (float32, error) {
	v, err := f.fixed32()
	return math.Float32frombits(v), err
}

func (f field) bytes() ([]byte, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	return append([]byte(nil), f.buf...), nil
}

func (f field) string() (string, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.buf), nil
}

// message returns the undecoded content of an embedded message
func (f field) message() ([]byte, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	return f.buf, nil
}
