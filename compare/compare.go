// Package compare holds the comparators that define the sort orders of the
// indexes.
//
// An element comparator orders two raw datom keys by one field. A sort order
// is a fixed list of elements applied until one of them is not zero. All of
// them read the keys in place through the datom accessors; a key that is too
// short to hold the fields being compared is a programming error and panics.
package compare

import (
	"bytes"
	"cmp"

	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/valuetag"
)

// Fn orders two encoded keys.
type Fn func(a, b []byte) int

// Resolver supplies attribute specific value comparison. A nil result means
// the value is compared by its tag. It is only asked about two values of the
// same attribute, so whatever it returns must agree with the tag order on
// everything the tag order tells apart.
type Resolver interface {
	ValueComparer(a ids.AttributeId, tag valuetag.T) func(a, b []byte) int
}

// Entity orders by EntityId.
func Entity(a, b []byte) int { return cmp.Compare(datom.EntityOf(a), datom.EntityOf(b)) }

// Attribute orders by AttributeId, ignoring the retract flag.
func Attribute(a, b []byte) int { return cmp.Compare(datom.AttrOf(a), datom.AttrOf(b)) }

// Tx orders by TxId.
func Tx(a, b []byte) int { return cmp.Compare(datom.TxOf(a), datom.TxOf(b)) }

// Assert orders assertions before retractions.
func Assert(a, b []byte) int {
	ra, rb := datom.IsRetract(a), datom.IsRetract(b)
	switch {
	case ra == rb:
		return 0
	case rb:
		return -1
	}
	return 1
}

// Value orders by value with tag dispatch only.
func Value(a, b []byte) int { return compareValue(nil, a, b) }

// ValueWith returns the value element of a registry aware comparator.
func ValueWith(r Resolver) Fn {
	return func(a, b []byte) int { return compareValue(r, a, b) }
}

// compareValue orders tags first. For one tag, inline values order before out
// of line ones, and two out of line values order by digest, which keeps the
// order total without loading blobs.
func compareValue(r Resolver, a, b []byte) int {
	ta, tb := datom.TagOf(a), datom.TagOf(b)
	if ta != tb {
		return cmp.Compare(ta, tb)
	}
	oa, ob := datom.LenOf(a) == datom.Oversized, datom.LenOf(b) == datom.Oversized
	va, vb := datom.ValueOf(a), datom.ValueOf(b)
	switch {
	case oa && ob:
		return bytes.Compare(va, vb)
	case oa:
		return 1
	case ob:
		return -1
	}
	if r != nil {
		if aa := datom.AttrOf(a); aa == datom.AttrOf(b) {
			if fn := r.ValueComparer(aa, ta); fn != nil {
				return fn(va, vb)
			}
		}
	}
	return valuetag.Compare(ta, va, tb, vb)
}

// Compose chains element comparators into a whole key comparator.
func Compose(elements ...Fn) Fn {
	return func(a, b []byte) int {
		for _, el := range elements {
			if c := el(a, b); c != 0 {
				return c
			}
		}
		return 0
	}
}

// SameFact reports whether two keys state the same fact: entity, attribute
// and value are equal under the value semantics of r, which may be nil.
func SameFact(r Resolver, a, b []byte) bool {
	return Entity(a, b) == 0 && Attribute(a, b) == 0 && compareValue(r, a, b) == 0
}

// SameSlot reports whether two keys have the same entity and attribute.
func SameSlot(a, b []byte) bool { return Entity(a, b) == 0 && Attribute(a, b) == 0 }
