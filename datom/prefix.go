// Package datom implements the binary key format of a datom.
//
// Every datom key is a fixed size header followed by the value bytes:
//
//	[ 8 bytes TxId ][ 8 bytes EntityId ][ 2 bytes AttrId|retract ][ 1 byte ValueTag ][ 2 bytes ValueLen ][ value ]
//
// All integers are big endian. The retract flag is the top bit of the
// attribute field, which is why attribute ids are limited to 15 bits. The
// header is PrefixLen bytes for every value type, so a node of keys can be
// searched without knowing what the values are.
//
// A ValueLen of Oversized marks a value stored out of line: the key then
// carries the sha256 digest and the length of the value, and the value itself
// lives in the blob column keyed by the digest.
package datom

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"datom.lol/ids"
	"datom.lol/valuetag"
)

const (
	TxOffset     = 0
	EntityOffset = 8
	AttrOffset   = 16
	TagOffset    = 18
	LenOffset    = 19
	// PrefixLen is the size of the fixed header.
	PrefixLen = 21

	retractBit = 0x8000

	// Oversized is the ValueLen marker of an out-of-line value.
	Oversized = 0xFFFF
	// MaxInline is the longest value kept inside a key.
	MaxInline = Oversized - 1
	// OutOfLineLen is the size of the inline reference to an out-of-line
	// value: the digest and the full length.
	OutOfLineLen = DigestLen + 8
	// DigestLen is the size of a value digest.
	DigestLen = 32
)

// ErrCorruptKey is returned when a key fails to decode.
var ErrCorruptKey = errors.New("corrupt datom key")

// KeyPrefix is the decoded fixed header of a datom key.
type KeyPrefix struct {
	Tx       ids.TxId
	E        ids.EntityId
	A        ids.AttributeId
	Retract  bool
	Tag      valuetag.T
	ValueLen uint16
}

// IsOversized reports whether the value is stored out of line.
func (p KeyPrefix) IsOversized() bool { return p.ValueLen == Oversized }

// Put writes the prefix into the first PrefixLen bytes of b.
func (p KeyPrefix) Put(b []byte) {
	_ = b[PrefixLen-1]
	binary.BigEndian.PutUint64(b[TxOffset:], uint64(p.Tx))
	binary.BigEndian.PutUint64(b[EntityOffset:], uint64(p.E))
	a := uint16(p.A) &^ retractBit
	if p.Retract {
		a |= retractBit
	}
	binary.BigEndian.PutUint16(b[AttrOffset:], a)
	b[TagOffset] = byte(p.Tag)
	binary.BigEndian.PutUint16(b[LenOffset:], p.ValueLen)
}

// ReadPrefix decodes the header of a key. It does not allocate.
func ReadPrefix(key []byte) (p KeyPrefix, err error) {
	if len(key) < PrefixLen {
		err = errors.Wrapf(ErrCorruptKey, "truncated header: %d bytes", len(key))
		return
	}
	a := binary.BigEndian.Uint16(key[AttrOffset:])
	p = KeyPrefix{
		Tx:       ids.TxId(binary.BigEndian.Uint64(key[TxOffset:])),
		E:        ids.EntityId(binary.BigEndian.Uint64(key[EntityOffset:])),
		A:        ids.AttributeId(a &^ retractBit),
		Retract:  a&retractBit != 0,
		Tag:      valuetag.T(key[TagOffset]),
		ValueLen: binary.BigEndian.Uint16(key[LenOffset:]),
	}
	if !p.Tag.Valid() {
		err = errors.Wrapf(ErrCorruptKey, "value tag %d", key[TagOffset])
	}
	return
}

// The accessors below read single fields out of a key that is known to be
// well formed. They are what the comparators use on the hot path.

// TxOf returns the transaction of a key.
func TxOf(key []byte) ids.TxId {
	return ids.TxId(binary.BigEndian.Uint64(key[TxOffset : TxOffset+8]))
}

// EntityOf returns the entity of a key.
func EntityOf(key []byte) ids.EntityId {
	return ids.EntityId(binary.BigEndian.Uint64(key[EntityOffset : EntityOffset+8]))
}

// AttrOf returns the attribute of a key without the retract flag.
func AttrOf(key []byte) ids.AttributeId {
	return ids.AttributeId(binary.BigEndian.Uint16(key[AttrOffset:AttrOffset+2]) &^ retractBit)
}

// IsRetract returns the retract flag of a key.
func IsRetract(key []byte) bool {
	return binary.BigEndian.Uint16(key[AttrOffset:AttrOffset+2])&retractBit != 0
}

// TagOf returns the value tag of a key.
func TagOf(key []byte) valuetag.T { return valuetag.T(key[TagOffset]) }

// LenOf returns the ValueLen field of a key.
func LenOf(key []byte) uint16 { return binary.BigEndian.Uint16(key[LenOffset : LenOffset+2]) }

// ValueOf returns the value bytes that follow the header.
func ValueOf(key []byte) []byte { return key[PrefixLen:] }
