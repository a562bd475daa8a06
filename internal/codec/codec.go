package codec

import (
	"bytes"

	"github.com/pkg/errors"
)

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrConstantMismatch = errors.New("constant mismatch")
	ErrLengthMismatch   = errors.New("length mismatch")
	ErrInvalidValue     = errors.New("invalid value")
)

// Codec is a binary structure description.
type Codec interface {
	decode(r *reader, s *Scope) (any, error)
	encode(w *bytes.Buffer, v any, s *Scope) error
}

// Decode parses data with c and reports how many bytes were consumed.
func Decode(c Codec, data []byte) (any, int, error) {
	r := &reader{buf: data}
	v, err := c.decode(r, nil)
	if err != nil {
		return nil, r.off, err
	}
	return v, r.off, nil
}

// Encode serialises v with c.
func Encode(c Codec, v any) ([]byte, error) {
	var w bytes.Buffer
	if err := c.encode(&w, v, nil); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

// take returns the next n bytes without copying.
func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, errors.Wrapf(ErrInsufficientData,
			"needed %d bytes at offset %d, only %d available", n, r.off, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// sub returns a reader bounded to the next n bytes. The parent cursor is not moved.
func (r *reader) sub(n int) (*reader, error) {
	if n < 0 || n > r.remaining() {
		return nil, errors.Wrapf(ErrInsufficientData,
			"needed %d bytes at offset %d, only %d available", n, r.off, r.remaining())
	}
	return &reader{buf: r.buf[r.off : r.off+n]}, nil
}
