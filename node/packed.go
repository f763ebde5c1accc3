package node

import (
	"github.com/pkg/errors"

	"datom.lol/compare"
	"datom.lol/datom"
	"datom.lol/varint"
)

const packedVersion = 1

// Packed is the immutable columnar form of a sorted Appendable. Every column
// keeps O(1) random access, so it answers Key and Find like the node it was
// packed from.
type Packed struct {
	n                        int
	e, a, t, tag, vlen, vend ints
	vals                     []byte
}

func (x *Packed) Len() int   { return x.n }
func (x *Packed) Kind() Kind { return LeafKind }

func (x *Packed) value(i int) []byte {
	var start uint64
	if i > 0 {
		start = x.vend.get(i - 1)
	}
	return x.vals[start:x.vend.get(i)]
}

// Key appends key i to dst.
func (x *Packed) Key(dst []byte, i int) []byte {
	return putKey(dst, x.t.get(i), x.e.get(i), uint16(x.a.get(i)), uint8(x.tag.get(i)),
		uint16(x.vlen.get(i)), x.value(i))
}

// Find returns the lower bound of target.
func (x *Packed) Find(target []byte, fn compare.Fn) int { return find(x, target, fn) }

// Unpack expands the node back into an Appendable.
func (x *Packed) Unpack() *Appendable {
	return &Appendable{
		e:    decodeInts[uint64](&x.e, x.n),
		a:    decodeInts[uint16](&x.a, x.n),
		t:    decodeInts[uint64](&x.t, x.n),
		tag:  decodeInts[uint8](&x.tag, x.n),
		vlen: decodeInts[uint16](&x.vlen, x.n),
		vend: decodeInts[uint32](&x.vend, x.n),
		vals: append([]byte{}, x.vals...),
	}
}

func (x *Packed) columns() []*ints { return []*ints{&x.e, &x.a, &x.t, &x.tag, &x.vlen, &x.vend} }

// Size is the serialized size in bytes.
func (x *Packed) Size() (n int) {
	n = 2 + varint.Len(uint64(x.n)) + varint.Len(uint64(len(x.vals))) + len(x.vals)
	for _, c := range x.columns() {
		n += c.size()
	}
	return
}

// MarshalBinary serializes the node.
func (x *Packed) MarshalBinary() (b []byte, err error) {
	b = make([]byte, 0, x.Size())
	b = append(b, byte(LeafKind), packedVersion)
	b = varint.Append(b, uint64(x.n))
	for _, c := range x.columns() {
		b = c.appendTo(b)
	}
	b = varint.Append(b, uint64(len(x.vals)))
	b = append(b, x.vals...)
	return
}

// UnmarshalPacked decodes a serialized node. The result aliases b.
func UnmarshalPacked(b []byte) (x *Packed, err error) {
	if len(b) < 2 || Kind(b[0]) != LeafKind || b[1] != packedVersion {
		err = errors.Wrap(ErrCorruptNode, "not a packed node")
		return
	}
	b = b[2:]
	var n uint64
	if n, b, err = varint.Read(b); err != nil {
		err = errors.Wrap(ErrCorruptNode, err.Error())
		return
	}
	x = &Packed{n: int(n)}
	for _, c := range x.columns() {
		if *c, b, err = readInts(b, x.n); err != nil {
			return nil, err
		}
	}
	var l uint64
	if l, b, err = varint.Read(b); err != nil || uint64(len(b)) != l {
		err = errors.Wrap(ErrCorruptNode, "value bytes")
		return nil, err
	}
	x.vals = b
	if x.n > 0 && x.vend.get(x.n-1) != l {
		err = errors.Wrap(ErrCorruptNode, "value offsets disagree with value bytes")
		return nil, err
	}
	return
}

// lastKey copies out the largest key of a data node.
func lastKey(d Data) []byte {
	if d.Len() == 0 {
		return nil
	}
	return d.Key(make([]byte, 0, datom.PrefixLen+8), d.Len()-1)
}
