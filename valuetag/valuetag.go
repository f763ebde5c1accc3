// Package valuetag defines the closed set of value types a datom can carry and
// the serializer table that encodes, decodes, compares and converts them.
//
// The tag is stored in every datom key, so comparators never have to look up
// the type of a value; they dispatch on the tag through Specs.
//
// Numeric values are encoded big endian with the sign bit flipped (and the
// IEEE total order trick for floats), so that for every numeric tag the byte
// order of the encoding is the numeric order.
package valuetag

import (
	"fmt"

	"github.com/pkg/errors"
)

// T is a value tag.
type T byte

const (
	Null T = iota
	UInt8
	UInt16
	UInt32
	UInt64
	Int16
	Int32
	Int64
	Float32
	Float64
	Ascii
	Utf8
	Utf8Insensitive
	Blob
	HashedBlob
	Reference
	Tuple2
	Tuple3
	Tuple4
	Tuple5
	Tuple6
	Tuple7
	Tuple8

	// count is the number of defined tags, anything above is invalid.
	count
)

var (
	// ErrTypeMismatch is returned when a value does not match the tag it is
	// being encoded, decoded or converted as.
	ErrTypeMismatch = errors.New("value type mismatch")
	// ErrUnknownTag is returned for tag bytes outside the enumeration.
	ErrUnknownTag = errors.New("unknown value tag")
)

// Valid reports whether t is a defined tag.
func (t T) Valid() bool { return t < count }

// IsTuple reports whether t is one of the tuple tags.
func (t T) IsTuple() bool { return t >= Tuple2 && t <= Tuple8 }

// Arity is the element count of a tuple tag, 0 for scalar tags.
func (t T) Arity() int {
	if !t.IsTuple() {
		return 0
	}
	return int(t-Tuple2) + 2
}

// TupleOf returns the tuple tag with n elements.
func TupleOf(n int) (t T, err error) {
	if n < 2 || n > 8 {
		err = errors.Wrapf(ErrUnknownTag, "no tuple tag with %d elements", n)
		return
	}
	return Tuple2 + T(n-2), nil
}

// Size is the fixed encoded width of the tag, or -1 for variable width.
func (t T) Size() int {
	if !t.Valid() {
		return -1
	}
	return Specs[t].Size
}

// Name is the symbolic name of the tag.
func (t T) Name() string {
	if !t.Valid() {
		return fmt.Sprintf("tag(%d)", byte(t))
	}
	return Specs[t].Name
}

func (t T) String() string { return t.Name() }

// Parse returns the tag with the given name.
func Parse(name string) (t T, err error) {
	for i := range Specs {
		if Specs[i].Name == name {
			return T(i), nil
		}
	}
	err = errors.Wrapf(ErrUnknownTag, "%q", name)
	return
}

// Compare orders two encoded values. Values of different tags order by tag.
func Compare(ta T, a []byte, tb T, b []byte) int {
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}
	if !ta.Valid() {
		return compareBytes(a, b)
	}
	return Specs[ta].Compare(a, b)
}

// Encode serializes v as a value of tag t.
func Encode(t T, v any) (b []byte, err error) {
	if !t.Valid() {
		err = errors.Wrapf(ErrUnknownTag, "%d", byte(t))
		return
	}
	return Specs[t].Encode(v)
}

// Decode deserializes an encoded value of tag t.
func Decode(t T, b []byte) (v any, err error) {
	if !t.Valid() {
		err = errors.Wrapf(ErrUnknownTag, "%d", byte(t))
		return
	}
	if s := Specs[t].Size; s >= 0 && len(b) != s {
		err = errors.Wrapf(ErrTypeMismatch, "%s value must be %d bytes, got %d",
			t, s, len(b))
		return
	}
	return Specs[t].Decode(b)
}

// Validate checks that b is a well formed encoding for tag t.
func Validate(t T, b []byte) (err error) {
	_, err = Decode(t, b)
	return
}
