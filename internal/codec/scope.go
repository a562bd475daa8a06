package codec

import (
	"github.com/Velocidex/ordereddict"
	"github.com/pkg/errors"
)

// Scope is an immutable chain of named values visible to Length and
// Selector functions. A nil *Scope is the empty scope.
type Scope struct {
	parent *Scope

	name  string
	value any

	// frame, when set, exposes every entry of a struct value being encoded.
	frame *ordereddict.Dict
}

// With returns a new scope binding name to v on top of s.
func (s *Scope) With(name string, v any) *Scope {
	return &Scope{parent: s, name: name, value: v}
}

func (s *Scope) withFrame(d *ordereddict.Dict) *Scope {
	return &Scope{parent: s, frame: d}
}

// Lookup walks the chain from the innermost binding outwards.
func (s *Scope) Lookup(name string) (any, bool) {
	for n := s; n != nil; n = n.parent {
		if n.frame != nil {
			if v, ok := n.frame.Get(name); ok {
				return v, true
			}
			continue
		}
		if n.name == name {
			return n.value, true
		}
	}
	return nil, false
}

// Int resolves name to an integer.
func (s *Scope) Int(name string) (int, error) {
	v, ok := s.Lookup(name)
	if !ok {
		return 0, errors.Wrapf(ErrInvalidValue, "%q is not in scope", name)
	}
	n, err := toUint64(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%q", name)
	}
	return int(n), nil
}

// Length computes a byte length or an item count from the current scope.
type Length func(s *Scope) (int, error)

// Fixed is a constant Length.
func Fixed(n int) Length {
	return func(*Scope) (int, error) { return n, nil }
}

// Ref takes a Length from an earlier field.
func Ref(name string) Length {
	return func(s *Scope) (int, error) { return s.Int(name) }
}

// RefFunc takes a Length from an earlier field and transforms it.
func RefFunc(name string, f func(int) int) Length {
	return func(s *Scope) (int, error) {
		n, err := s.Int(name)
		if err != nil {
			return 0, err
		}
		return f(n), nil
	}
}
