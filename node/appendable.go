package node

import (
	"encoding/binary"
	"slices"

	"datom.lol/compare"
	"datom.lol/datom"
)

// Appendable is a columnar buffer of datom keys. It is mutable until it is
// handed to an Index.
type Appendable struct {
	e    []uint64
	a    []uint16 // attribute with the retract bit
	t    []uint64
	tag  []uint8
	vlen []uint16
	vend []uint32 // end offset of each value in vals
	vals []byte
}

// NewAppendable returns an empty node with room for n datoms.
func NewAppendable(n int) *Appendable {
	return &Appendable{
		e:    make([]uint64, 0, n),
		a:    make([]uint16, 0, n),
		t:    make([]uint64, 0, n),
		tag:  make([]uint8, 0, n),
		vlen: make([]uint16, 0, n),
		vend: make([]uint32, 0, n),
	}
}

// FromKeys builds a node holding keys in the given order.
func FromKeys(keys [][]byte) (a *Appendable) {
	a = NewAppendable(len(keys))
	for _, k := range keys {
		a.AddKey(k)
	}
	return
}

func (x *Appendable) Len() int   { return len(x.e) }
func (x *Appendable) Kind() Kind { return LeafKind }

// Add appends a datom.
func (x *Appendable) Add(d *datom.T) {
	a := uint16(d.A)
	if d.Retract {
		a |= 0x8000
	}
	x.e = append(x.e, uint64(d.E))
	x.a = append(x.a, a)
	x.t = append(x.t, uint64(d.Tx))
	x.tag = append(x.tag, uint8(d.Tag))
	x.vlen = append(x.vlen, d.ValueLen)
	x.vals = append(x.vals, d.V...)
	x.vend = append(x.vend, uint32(len(x.vals)))
}

// AddKey appends an encoded datom key. The key must be well formed.
func (x *Appendable) AddKey(k []byte) {
	x.e = append(x.e, binary.BigEndian.Uint64(k[datom.EntityOffset:]))
	x.a = append(x.a, binary.BigEndian.Uint16(k[datom.AttrOffset:]))
	x.t = append(x.t, binary.BigEndian.Uint64(k[datom.TxOffset:]))
	x.tag = append(x.tag, k[datom.TagOffset])
	x.vlen = append(x.vlen, binary.BigEndian.Uint16(k[datom.LenOffset:]))
	x.vals = append(x.vals, k[datom.PrefixLen:]...)
	x.vend = append(x.vend, uint32(len(x.vals)))
}

func (x *Appendable) value(i int) []byte {
	var start uint32
	if i > 0 {
		start = x.vend[i-1]
	}
	return x.vals[start:x.vend[i]]
}

// Key appends key i to dst.
func (x *Appendable) Key(dst []byte, i int) []byte {
	return putKey(dst, x.t[i], x.e[i], x.a[i], x.tag[i], x.vlen[i], x.value(i))
}

func putKey(dst []byte, t, e uint64, a uint16, tag uint8, vlen uint16, v []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, t)
	dst = binary.BigEndian.AppendUint64(dst, e)
	dst = binary.BigEndian.AppendUint16(dst, a)
	dst = append(dst, tag)
	dst = binary.BigEndian.AppendUint16(dst, vlen)
	return append(dst, v...)
}

// Keys returns every key as its own slice.
func (x *Appendable) Keys() (keys [][]byte) {
	keys = make([][]byte, x.Len())
	for i := range keys {
		keys[i] = x.Key(nil, i)
	}
	return
}

// Find returns the lower bound of target.
func (x *Appendable) Find(target []byte, fn compare.Fn) int { return find(x, target, fn) }

// Sort returns a copy ordered by fn. Equal keys keep their relative order.
func (x *Appendable) Sort(fn compare.Fn) *Appendable {
	keys := x.Keys()
	slices.SortStableFunc(keys, fn)
	return FromKeys(keys)
}

// IsSorted reports whether the keys are in fn order.
func (x *Appendable) IsSorted(fn compare.Fn) bool {
	var prev, cur []byte
	for i := range x.Len() {
		cur = x.Key(cur[:0], i)
		if i > 0 && fn(prev, cur) > 0 {
			return false
		}
		prev, cur = cur, prev
	}
	return true
}

// Split cuts a node into parts of between target and 2*target datoms. A node
// of at most 2*target datoms is returned whole.
func (x *Appendable) Split(target int) (parts []*Appendable) {
	n := x.Len()
	if target < 1 || n <= 2*target {
		return []*Appendable{x}
	}
	k := n / target
	for p := range k {
		from, to := p*n/k, (p+1)*n/k
		part := NewAppendable(to - from)
		for i := from; i < to; i++ {
			part.e = append(part.e, x.e[i])
			part.a = append(part.a, x.a[i])
			part.t = append(part.t, x.t[i])
			part.tag = append(part.tag, x.tag[i])
			part.vlen = append(part.vlen, x.vlen[i])
			part.vals = append(part.vals, x.value(i)...)
			part.vend = append(part.vend, uint32(len(part.vals)))
		}
		parts = append(parts, part)
	}
	return
}

// Pack freezes the node into its packed form.
func (x *Appendable) Pack() *Packed {
	return &Packed{
		n:    x.Len(),
		e:    encodeInts(x.e, true),
		a:    encodeInts(x.a, false),
		t:    encodeInts(x.t, true),
		tag:  encodeInts(x.tag, false),
		vlen: encodeInts(x.vlen, false),
		vend: encodeInts(x.vend, false),
		vals: slices.Clip(append([]byte{}, x.vals...)),
	}
}
