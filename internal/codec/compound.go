package codec

import (
	"bytes"

	"github.com/Velocidex/ordereddict"
	"github.com/pkg/errors"
)

// Field is one named member of a Struct.
type Field struct {
	Name  string
	Codec Codec
}

// F is shorthand for a Field.
func F(name string, c Codec) Field { return Field{Name: name, Codec: c} }

type structCodec struct {
	fields []Field
}

// Struct decodes its fields in order into an *ordereddict.Dict. Each decoded
// field is bound in scope for the fields after it.
func Struct(fields ...Field) Codec {
	return structCodec{fields: fields}
}

func (c structCodec) decode(r *reader, s *Scope) (any, error) {
	out := ordereddict.NewDict()
	scope := s
	for _, f := range c.fields {
		v, err := f.Codec.decode(r, scope)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %s", f.Name)
		}
		scope = scope.With(f.Name, v)
		out.Set(f.Name, v)
	}
	return out, nil
}

func (c structCodec) encode(w *bytes.Buffer, v any, s *Scope) error {
	d, ok := v.(*ordereddict.Dict)
	if !ok {
		return errors.Wrapf(ErrInvalidValue, "struct: %T is not *ordereddict.Dict", v)
	}
	scope := s.withFrame(d)
	for _, f := range c.fields {
		fv, _ := d.Get(f.Name)
		if err := f.Codec.encode(w, fv, scope); err != nil {
			return errors.WithMessagef(err, "field %s", f.Name)
		}
	}
	return nil
}

type listCodec struct {
	count Length
	item  Codec
}

// List repeats item exactly count times.
func List(count Length, item Codec) Codec {
	return listCodec{count: count, item: item}
}

func (c listCodec) decode(r *reader, s *Scope) (any, error) {
	n, err := c.count(s)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidValue, "negative count %d", n)
	}
	// n comes from untrusted input; let append grow the slice
	out := make([]any, 0, min(n, 64))
	for i := 0; i < n; i++ {
		v, err := c.item.decode(r, s.With("_index", i))
		if err != nil {
			return nil, errors.WithMessagef(err, "item %d", i)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c listCodec) encode(w *bytes.Buffer, v any, s *Scope) error {
	items, err := toSlice(v)
	if err != nil {
		return err
	}
	n, err := c.count(s)
	if err != nil {
		return err
	}
	if len(items) != n {
		return errors.Wrapf(ErrLengthMismatch, "list: expected %d items, got %d", n, len(items))
	}
	for i, item := range items {
		if err := c.item.encode(w, item, s.With("_index", i)); err != nil {
			return errors.WithMessagef(err, "item %d", i)
		}
	}
	return nil
}

type greedyCodec struct {
	item Codec
}

// Greedy repeats item until the input is exhausted. An item that fails to
// decode, or consumes nothing, ends the repetition and is discarded.
func Greedy(item Codec) Codec {
	return greedyCodec{item: item}
}

func (c greedyCodec) decode(r *reader, s *Scope) (any, error) {
	out := []any{}
	for r.remaining() > 0 {
		start := r.off
		v, err := c.item.decode(r, s)
		if err != nil {
			r.off = start
			break
		}
		out = append(out, v)
		if r.off == start {
			break
		}
	}
	return out, nil
}

func (c greedyCodec) encode(w *bytes.Buffer, v any, s *Scope) error {
	items, err := toSlice(v)
	if err != nil {
		return err
	}
	for i, item := range items {
		if err := c.item.encode(w, item, s); err != nil {
			return errors.WithMessagef(err, "item %d", i)
		}
	}
	return nil
}

// Selector picks the Codec for a tagged union from the current scope.
type Selector func(s *Scope) (Codec, error)

type switchCodec struct {
	sel Selector
}

// Switch dispatches to the Codec chosen by sel.
func Switch(sel Selector) Codec {
	return switchCodec{sel: sel}
}

func (c switchCodec) decode(r *reader, s *Scope) (any, error) {
	inner, err := c.sel(s)
	if err != nil {
		return nil, err
	}
	return inner.decode(r, s)
}

func (c switchCodec) encode(w *bytes.Buffer, v any, s *Scope) error {
	inner, err := c.sel(s)
	if err != nil {
		return err
	}
	return inner.encode(w, v, s)
}

type prefixedCodec struct {
	length Length
	inner  Codec
}

// Prefixed bounds inner to length bytes. The outer cursor always advances by
// length, whatever inner consumed. Encoding zero-fills up to length.
func Prefixed(length Length, inner Codec) Codec {
	return prefixedCodec{length: length, inner: inner}
}

func (c prefixedCodec) decode(r *reader, s *Scope) (any, error) {
	n, err := c.length(s)
	if err != nil {
		return nil, err
	}
	sub, err := r.sub(n)
	if err != nil {
		return nil, err
	}
	v, err := c.inner.decode(sub, s)
	if err != nil {
		return nil, err
	}
	r.off += n
	return v, nil
}

func (c prefixedCodec) encode(w *bytes.Buffer, v any, s *Scope) error {
	var buf bytes.Buffer
	if err := c.inner.encode(&buf, v, s); err != nil {
		return err
	}
	n, err := c.length(s)
	if err != nil {
		return err
	}
	if buf.Len() > n {
		return errors.Wrapf(ErrLengthMismatch, "prefixed: built %d bytes, limit %d", buf.Len(), n)
	}
	w.Write(buf.Bytes())
	w.Write(make([]byte, n-buf.Len()))
	return nil
}

type sizedCodec struct {
	inner Codec
	size  func(v any) (int, error)
}

// Sized decodes inner and then skips padding until the total consumed equals
// size(value). Encoding zero-fills the same way.
func Sized(inner Codec, size func(v any) (int, error)) Codec {
	return sizedCodec{inner: inner, size: size}
}

// SizeField is a Sized size function reading an integer field of a struct value.
func SizeField(name string) func(v any) (int, error) {
	return func(v any) (int, error) {
		d, ok := v.(*ordereddict.Dict)
		if !ok {
			return 0, errors.Wrapf(ErrInvalidValue, "sized: %T is not a struct", v)
		}
		n, ok := GetUint(d, name)
		if !ok {
			return 0, errors.Wrapf(ErrInvalidValue, "sized: no field %q", name)
		}
		return int(n), nil
	}
}

func (c sizedCodec) decode(r *reader, s *Scope) (any, error) {
	start := r.off
	v, err := c.inner.decode(r, s)
	if err != nil {
		return nil, err
	}
	total, err := c.size(v)
	if err != nil {
		return nil, err
	}
	consumed := r.off - start
	if total < consumed {
		return nil, errors.Wrapf(ErrLengthMismatch, "sized: consumed %d bytes, declared %d", consumed, total)
	}
	if _, err := r.take(total - consumed); err != nil {
		return nil, err
	}
	return v, nil
}

func (c sizedCodec) encode(w *bytes.Buffer, v any, s *Scope) error {
	var buf bytes.Buffer
	if err := c.inner.encode(&buf, v, s); err != nil {
		return err
	}
	total, err := c.size(v)
	if err != nil {
		return err
	}
	if buf.Len() > total {
		return errors.Wrapf(ErrLengthMismatch, "sized: built %d bytes, declared %d", buf.Len(), total)
	}
	w.Write(buf.Bytes())
	w.Write(make([]byte, total-buf.Len()))
	return nil
}

func toSlice(v any) ([]any, error) {
	switch items := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return items, nil
	case []uint32:
		out := make([]any, len(items))
		for i, x := range items {
			out[i] = x
		}
		return out, nil
	case []*ordereddict.Dict:
		out := make([]any, len(items))
		for i, x := range items {
			out[i] = x
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrInvalidValue, "%T is not a list", v)
}
