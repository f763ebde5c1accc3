package valuetag

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Element is one member of a tuple value.
type Element struct {
	Tag   T
	Value any
}

// Tuple is the decoded form of the Tuple2..Tuple8 tags.
type Tuple []Element

// tuple element layout: [ tag:1 ][ length:2 ][ bytes ]
const elementHeader = 3

func tupleSpec(t T) Spec {
	n := t.Arity()
	name := "tuple" + string(rune('0'+n))
	return Spec{
		Name: name,
		Size: -1,
		Encode: func(v any) (b []byte, err error) {
			tu, ok := v.(Tuple)
			if !ok {
				return nil, mismatch(name, v)
			}
			if len(tu) != n {
				return nil, errors.Wrapf(ErrTypeMismatch, "%s needs %d elements, got %d",
					name, n, len(tu))
			}
			for _, el := range tu {
				if el.Tag.IsTuple() {
					return nil, errors.Wrapf(ErrTypeMismatch, "nested tuple in %s", name)
				}
				var eb []byte
				if eb, err = Encode(el.Tag, el.Value); err != nil {
					return
				}
				if len(eb) > 0xFFFF {
					return nil, errors.Wrapf(ErrTypeMismatch, "tuple element of %d bytes", len(eb))
				}
				b = append(b, byte(el.Tag), 0, 0)
				binary.BigEndian.PutUint16(b[len(b)-2:], uint16(len(eb)))
				b = append(b, eb...)
			}
			return
		},
		Decode: func(b []byte) (v any, err error) {
			var tu Tuple
			for len(b) > 0 {
				var tag T
				var eb []byte
				if tag, eb, b, err = nextElement(b); err != nil {
					return
				}
				var ev any
				if ev, err = Decode(tag, eb); err != nil {
					return
				}
				tu = append(tu, Element{Tag: tag, Value: ev})
			}
			if len(tu) != n {
				return nil, errors.Wrapf(ErrTypeMismatch, "%s with %d elements", name, len(tu))
			}
			return tu, nil
		},
		Compare: compareTuple,
	}
}

func nextElement(b []byte) (tag T, el, rest []byte, err error) {
	if len(b) < elementHeader {
		err = errors.Wrap(ErrTypeMismatch, "truncated tuple element header")
		return
	}
	tag = T(b[0])
	l := int(binary.BigEndian.Uint16(b[1:3]))
	if len(b) < elementHeader+l {
		err = errors.Wrap(ErrTypeMismatch, "truncated tuple element")
		return
	}
	return tag, b[elementHeader : elementHeader+l], b[elementHeader+l:], nil
}

// compareTuple compares element by element; a malformed tail sorts after a
// well formed one so the order stays total.
func compareTuple(a, b []byte) int {
	for len(a) > 0 && len(b) > 0 {
		ta, ea, ra, errA := nextElement(a)
		tb, eb, rb, errB := nextElement(b)
		if errA != nil || errB != nil {
			return compareBytes(a, b)
		}
		if c := Compare(ta, ea, tb, eb); c != 0 {
			return c
		}
		a, b = ra, rb
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
