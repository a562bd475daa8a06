package widevine

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

var errWireType = errors.New("unexpected wire type")

// field is one decoded protobuf field. Varint and fixed values land in v,
// length-delimited values in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

func (f field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, errors.Wrapf(errWireType, "field %d: %v", f.num, f.typ)
	}
	return append([]byte(nil), f.b...), nil
}

func (f field) varint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, errors.Wrapf(errWireType, "field %d: %v", f.num, f.typ)
	}
	return f.v, nil
}

// walk calls fn for every field of a serialised message. Unknown fields are
// skipped by fn simply ignoring them.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(b)
			f.v = uint64(x)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// encoder appends fields in proto2 style: unset (nil or zero) optional
// fields are omitted.
type encoder []byte

func (e *encoder) bytes(num protowire.Number, b []byte) {
	if b == nil {
		return
	}
	*e = protowire.AppendTag(*e, num, protowire.BytesType)
	*e = protowire.AppendBytes(*e, b)
}

func (e *encoder) string(num protowire.Number, s string) {
	if s == "" {
		return
	}
	*e = protowire.AppendTag(*e, num, protowire.BytesType)
	*e = protowire.AppendString(*e, s)
}

func (e *encoder) varint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	*e = protowire.AppendTag(*e, num, protowire.VarintType)
	*e = protowire.AppendVarint(*e, v)
}

// required writes a varint even when it is zero.
func (e *encoder) required(num protowire.Number, v uint64) {
	*e = protowire.AppendTag(*e, num, protowire.VarintType)
	*e = protowire.AppendVarint(*e, v)
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if !v {
		return
	}
	e.varint(num, 1)
}
