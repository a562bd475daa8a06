package codec

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

type uintCodec struct {
	size  int
	order binary.ByteOrder
}

var (
	Uint8    Codec = uintCodec{size: 1}
	Uint16   Codec = uintCodec{size: 2, order: binary.BigEndian}
	Uint32   Codec = uintCodec{size: 4, order: binary.BigEndian}
	Uint16LE Codec = uintCodec{size: 2, order: binary.LittleEndian}
	Uint32LE Codec = uintCodec{size: 4, order: binary.LittleEndian}
)

func (c uintCodec) decode(r *reader, _ *Scope) (any, error) {
	b, err := r.take(c.size)
	if err != nil {
		return nil, err
	}
	switch c.size {
	case 1:
		return uint32(b[0]), nil
	case 2:
		return uint32(c.order.Uint16(b)), nil
	default:
		return c.order.Uint32(b), nil
	}
}

func (c uintCodec) encode(w *bytes.Buffer, v any, _ *Scope) error {
	n, err := toUint64(v)
	if err != nil {
		return err
	}
	if n > uint64(1)<<(8*c.size)-1 {
		return errors.Wrapf(ErrInvalidValue, "%d does not fit in %d bytes", n, c.size)
	}
	b := make([]byte, c.size)
	switch c.size {
	case 1:
		b[0] = byte(n)
	case 2:
		c.order.PutUint16(b, uint16(n))
	default:
		c.order.PutUint32(b, uint32(n))
	}
	w.Write(b)
	return nil
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint32:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint64:
		return n, nil
	case uint:
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, errors.Wrapf(ErrInvalidValue, "negative integer %d", n)
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, errors.Wrapf(ErrInvalidValue, "negative integer %d", n)
		}
		return uint64(n), nil
	case int32:
		if n < 0 {
			return 0, errors.Wrapf(ErrInvalidValue, "negative integer %d", n)
		}
		return uint64(n), nil
	case float64:
		// JSON numbers
		if n < 0 || n > math.MaxUint32 || n != math.Trunc(n) {
			return 0, errors.Wrapf(ErrInvalidValue, "%v is not an unsigned integer", n)
		}
		return uint64(n), nil
	}
	return 0, errors.Wrapf(ErrInvalidValue, "%T is not an integer", v)
}

type constCodec struct {
	expected []byte
}

// Const matches a literal byte sequence. Decoding yields a copy of it.
func Const(expected []byte) Codec {
	return constCodec{expected: append([]byte(nil), expected...)}
}

func (c constCodec) decode(r *reader, _ *Scope) (any, error) {
	b, err := r.take(len(c.expected))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(b, c.expected) {
		return nil, errors.Wrapf(ErrConstantMismatch, "expected %x, got %x", c.expected, b)
	}
	return append([]byte(nil), b...), nil
}

func (c constCodec) encode(w *bytes.Buffer, _ any, _ *Scope) error {
	w.Write(c.expected)
	return nil
}

type bytesCodec struct {
	length Length
}

// Bytes is a block of length bytes. A negative computed length fails.
func Bytes(length Length) Codec {
	return bytesCodec{length: length}
}

func (c bytesCodec) decode(r *reader, s *Scope) (any, error) {
	n, err := c.length(s)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrInsufficientData, "negative length %d at offset %d", n, r.off)
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (c bytesCodec) encode(w *bytes.Buffer, v any, s *Scope) error {
	b, ok := v.([]byte)
	if !ok && v != nil {
		return errors.Wrapf(ErrInvalidValue, "%T is not []byte", v)
	}
	n, err := c.length(s)
	if err != nil {
		return err
	}
	if n < 0 {
		return errors.Wrapf(ErrInvalidValue, "negative length %d", n)
	}
	if len(b) != n {
		return errors.Wrapf(ErrLengthMismatch, "bytes: expected %d, got %d", n, len(b))
	}
	w.Write(b)
	return nil
}

type remainingCodec struct{}

// Remaining consumes everything left in the current bounds.
var Remaining Codec = remainingCodec{}

func (remainingCodec) decode(r *reader, _ *Scope) (any, error) {
	b, _ := r.take(r.remaining())
	return append([]byte(nil), b...), nil
}

func (remainingCodec) encode(w *bytes.Buffer, v any, _ *Scope) error {
	b, ok := v.([]byte)
	if !ok && v != nil {
		return errors.Wrapf(ErrInvalidValue, "%T is not []byte", v)
	}
	w.Write(b)
	return nil
}
