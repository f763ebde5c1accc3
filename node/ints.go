package node

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"datom.lol/varint"
)

// encoding is the representation chosen for one integer column.
type encoding byte

const (
	// constant stores one value for the whole column.
	constant encoding = iota + 1
	// raw stores every value big endian in width bytes.
	raw
	// packed stores value-base at a fixed bit width. For entity and tx
	// columns the partition byte shared by every value is stored once and
	// only the counter is packed.
	packed
)

// maxPackedBits keeps a packed value plus its in-byte shift inside one
// 64 bit load.
const maxPackedBits = 56

const partShift = 56

// ints is an immutable integer column with O(1) random access.
type ints struct {
	enc   encoding
	width uint8 // bytes for raw, bits for packed
	part  uint8 // partition byte of a packed partitioned column
	split bool  // part is set
	base  uint64
	data  []byte
}

// stats gathers the range of a column.
func stats[T constraints.Unsigned](vals []T) (lo, hi T) {
	if len(vals) == 0 {
		return
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		lo, hi = min(lo, v), max(hi, v)
	}
	return
}

// samePartition reports whether every value has the same top byte.
func samePartition[T constraints.Unsigned](vals []T) (part uint8, ok bool) {
	if len(vals) == 0 {
		return 0, false
	}
	part = uint8(uint64(vals[0]) >> partShift)
	for _, v := range vals[1:] {
		if uint8(uint64(v)>>partShift) != part {
			return 0, false
		}
	}
	return part, true
}

// encodeInts picks the smallest of the three encodings for vals.
// Partitioned columns try the partition split before plain packing.
func encodeInts[T constraints.Unsigned](vals []T, partitioned bool) (x ints) {
	n := len(vals)
	lo, hi := stats(vals)
	if lo == hi {
		return ints{enc: constant, base: uint64(lo)}
	}
	rawWidth := (bits.Len64(uint64(hi)) + 7) / 8
	best := n * rawWidth
	x = ints{enc: raw, width: uint8(rawWidth)}
	mask := ^uint64(0)
	if partitioned {
		if part, ok := samePartition(vals); ok {
			x.part, x.split = part, true
			mask = 1<<partShift - 1
			lo, hi = T(uint64(lo)&mask), T(uint64(hi)&mask)
		}
	}
	width := bits.Len64(uint64(hi - lo))
	if width <= maxPackedBits {
		if size := (n*width + 7) / 8; size < best {
			x.enc, x.width, x.base = packed, uint8(width), uint64(lo)
			x.data = make([]byte, size+8)
			for i, v := range vals {
				putBits(x.data, i*width, (uint64(v)&mask)-x.base)
			}
			return
		}
	}
	x = ints{enc: raw, width: uint8(rawWidth), data: make([]byte, n*rawWidth)}
	for i, v := range vals {
		putRaw(x.data[i*rawWidth:], rawWidth, uint64(v))
	}
	return
}

func putRaw(b []byte, width int, v uint64) {
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getRaw(b []byte, width int) (v uint64) {
	for _, c := range b[:width] {
		v = v<<8 | uint64(c)
	}
	return
}

// putBits ors v in at bit offset off. b has eight bytes of slack at the end.
func putBits(b []byte, off int, v uint64) {
	i, s := off>>3, uint(off&7)
	w := binary.LittleEndian.Uint64(b[i:])
	binary.LittleEndian.PutUint64(b[i:], w|v<<s)
}

func (x *ints) get(i int) uint64 {
	switch x.enc {
	case constant:
		return x.base
	case raw:
		w := int(x.width)
		return getRaw(x.data[i*w:], w)
	}
	off := i * int(x.width)
	w := binary.LittleEndian.Uint64(x.data[off>>3:])
	v := (w>>uint(off&7))&(1<<x.width-1) + x.base
	if x.split {
		v |= uint64(x.part) << partShift
	}
	return v
}

// decodeInts expands a column of n values.
func decodeInts[T constraints.Unsigned](x *ints, n int) (vals []T) {
	vals = make([]T, n)
	for i := range vals {
		vals[i] = T(x.get(i))
	}
	return
}

// size is the serialized size of the column.
func (x *ints) size() int { return 4 + varint.Len(x.base) + varint.Len(uint64(len(x.data))) + len(x.data) }

func (x *ints) appendTo(dst []byte) []byte {
	var flags byte
	if x.split {
		flags = 1
	}
	dst = append(dst, byte(x.enc), x.width, flags, x.part)
	dst = varint.Append(dst, x.base)
	dst = varint.Append(dst, uint64(len(x.data)))
	return append(dst, x.data...)
}

func readInts(b []byte, n int) (x ints, rest []byte, err error) {
	if len(b) < 4 {
		err = errors.Wrap(ErrCorruptNode, "truncated column header")
		return
	}
	x.enc, x.width, x.split, x.part = encoding(b[0]), b[1], b[2] == 1, b[3]
	b = b[4:]
	var l uint64
	if x.base, b, err = varint.Read(b); err != nil {
		err = errors.Wrap(ErrCorruptNode, err.Error())
		return
	}
	if l, b, err = varint.Read(b); err != nil || uint64(len(b)) < l {
		err = errors.Wrap(ErrCorruptNode, "truncated column data")
		return
	}
	x.data, rest = b[:l:l], b[l:]
	var need int
	switch x.enc {
	case constant:
	case raw:
		if x.width < 1 || x.width > 8 {
			err = errors.Wrapf(ErrCorruptNode, "raw width %d", x.width)
			return
		}
		need = n * int(x.width)
	case packed:
		if x.width > maxPackedBits {
			err = errors.Wrapf(ErrCorruptNode, "packed width %d", x.width)
			return
		}
		need = (n*int(x.width)+7)/8 + 8
	default:
		err = errors.Wrapf(ErrCorruptNode, "column encoding %d", x.enc)
		return
	}
	if len(x.data) < need {
		err = errors.Wrapf(ErrCorruptNode, "column of %d bytes, need %d", len(x.data), need)
	}
	return
}
