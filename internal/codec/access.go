package codec

import (
	"github.com/Velocidex/ordereddict"
)

// GetUint reads an integer field from a decoded struct.
func GetUint(d *ordereddict.Dict, name string) (uint32, bool) {
	if d == nil {
		return 0, false
	}
	v, ok := d.Get(name)
	if !ok {
		return 0, false
	}
	n, err := toUint64(v)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// GetBytes reads a byte-block field from a decoded struct.
func GetBytes(d *ordereddict.Dict, name string) []byte {
	if d == nil {
		return nil
	}
	v, _ := d.Get(name)
	b, _ := v.([]byte)
	return b
}

// GetDict reads a nested struct field.
func GetDict(d *ordereddict.Dict, name string) *ordereddict.Dict {
	if d == nil {
		return nil
	}
	v, _ := d.Get(name)
	out, _ := v.(*ordereddict.Dict)
	return out
}

// GetList reads a List or Greedy field.
func GetList(d *ordereddict.Dict, name string) []any {
	if d == nil {
		return nil
	}
	v, _ := d.Get(name)
	items, _ := toSlice(v)
	return items
}

// GetUints reads a list of integers.
func GetUints(d *ordereddict.Dict, name string) []uint32 {
	items := GetList(d, name)
	out := make([]uint32, 0, len(items))
	for _, item := range items {
		n, err := toUint64(item)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}
