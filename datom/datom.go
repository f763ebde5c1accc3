package datom

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"

	"datom.lol/ids"
	"datom.lol/valuetag"
)

// T is a datom: a key prefix and the inline value bytes. For an oversized
// value V holds the digest and length, not the value.
type T struct {
	KeyPrefix
	V []byte
}

// New builds an assertion datom for an encoded value. When the value has to be
// stored out of line the full bytes are returned as outOfLine and the datom
// carries the digest reference instead.
func New(e ids.EntityId, a ids.AttributeId, tag valuetag.T, value []byte,
	tx ids.TxId) (d *T, outOfLine []byte) {

	d = &T{KeyPrefix: KeyPrefix{Tx: tx, E: e, A: a, Tag: tag}}
	if tag == valuetag.HashedBlob || len(value) > MaxInline {
		d.ValueLen = Oversized
		d.V = Reference(value)
		outOfLine = value
		return
	}
	d.ValueLen = uint16(len(value))
	d.V = value
	return
}

// Reference computes the inline form of an out-of-line value.
func Reference(value []byte) (ref []byte) {
	sum := sha256.Sum256(value)
	ref = make([]byte, OutOfLineLen)
	copy(ref, sum[:])
	binary.BigEndian.PutUint64(ref[DigestLen:], uint64(len(value)))
	return
}

// Digest returns the blob key of an oversized datom, nil otherwise.
func (d *T) Digest() []byte {
	if !d.IsOversized() || len(d.V) != OutOfLineLen {
		return nil
	}
	return d.V[:DigestLen]
}

// Size is the encoded key length.
func (d *T) Size() int { return PrefixLen + len(d.V) }

// Key encodes the datom into a fresh key.
func (d *T) Key() []byte { return d.AppendKey(nil) }

// AppendKey encodes the datom onto the end of dst.
func (d *T) AppendKey(dst []byte) []byte {
	n := len(dst)
	dst = append(dst, make([]byte, PrefixLen)...)
	d.KeyPrefix.Put(dst[n:])
	return append(dst, d.V...)
}

// Encode builds the key of prefix p and value. The ValueLen of p is ignored
// and set from the value; an out-of-line value is returned as outOfLine.
func Encode(p KeyPrefix, value []byte) (key, outOfLine []byte) {
	d, outOfLine := New(p.E, p.A, p.Tag, value, p.Tx)
	d.Retract = p.Retract
	key = d.Key()
	return
}

// Read splits a key into its prefix and value span without allocating.
func Read(key []byte) (p KeyPrefix, v []byte, err error) {
	if p, err = ReadPrefix(key); err != nil {
		return
	}
	v = key[PrefixLen:]
	switch {
	case p.IsOversized():
		if len(v) != OutOfLineLen {
			err = errors.Wrapf(ErrCorruptKey, "out-of-line reference of %d bytes", len(v))
		}
	case int(p.ValueLen) != len(v):
		err = errors.Wrapf(ErrCorruptKey, "value length field %d, %d bytes follow",
			p.ValueLen, len(v))
	case p.Tag.Size() >= 0 && p.Tag.Size() != len(v):
		err = errors.Wrapf(ErrCorruptKey, "%s value of %d bytes", p.Tag, len(v))
	}
	return
}

// Decode parses a key. V aliases key, nothing is copied.
func Decode(key []byte) (d *T, err error) {
	var p KeyPrefix
	var v []byte
	if p, v, err = Read(key); err != nil {
		return
	}
	return &T{KeyPrefix: p, V: v}, nil
}

// Clone deep copies the datom so it no longer aliases a key buffer.
func (d *T) Clone() *T {
	return &T{KeyPrefix: d.KeyPrefix, V: append([]byte{}, d.V...)}
}

// WithTx returns a copy stamped with another transaction.
func (d *T) WithTx(tx ids.TxId) *T {
	c := *d
	c.Tx = tx
	return &c
}

// AsRetract returns a retraction of the same fact in transaction tx.
func (d *T) AsRetract(tx ids.TxId) *T {
	c := *d
	c.Tx, c.Retract = tx, true
	return &c
}

// SameFact is true when both datoms have the same entity, attribute and value
// bytes. Value equality under attribute specific semantics is the business of
// the compare package.
func (d *T) SameFact(o *T) bool {
	return d.E == o.E && d.A == o.A && d.Tag == o.Tag && d.ValueLen == o.ValueLen &&
		bytes.Equal(d.V, o.V)
}

// Value decodes the inline value. Oversized values need the out-of-line bytes,
// use DecodeValue for those.
func (d *T) Value() (v any, err error) {
	if d.IsOversized() {
		err = errors.Wrapf(valuetag.ErrTypeMismatch, "%s value is stored out of line", d.Tag)
		return
	}
	return valuetag.Decode(d.Tag, d.V)
}

// DecodeValue decodes the value of the datom, taking the bytes of an oversized
// value from full.
func (d *T) DecodeValue(full []byte) (v any, err error) {
	if !d.IsOversized() {
		return d.Value()
	}
	if !bytes.Equal(Reference(full), d.V) {
		err = errors.Wrap(ErrCorruptKey, "out-of-line value does not match its digest")
		return
	}
	return valuetag.Decode(d.Tag, full)
}

func (d *T) String() string {
	op := "+"
	if d.Retract {
		op = "-"
	}
	var val string
	switch {
	case d.IsOversized():
		val = fmt.Sprintf("blob:%x…", d.V[:8])
	default:
		if v, err := d.Value(); err == nil {
			val = fmt.Sprintf("%v", v)
		} else {
			val = fmt.Sprintf("%x", d.V)
		}
	}
	return fmt.Sprintf("[%s %s %s %s(%s) %s]", op, d.E, d.A, d.Tag, val, d.Tx)
}
