package nodekv

import (
	"encoding/binary"
)

// P is the single byte prefix of a badger key, one per kind of record.
type P byte

const (
	// Version holds the format version of the database.
	Version P = iota + 1
	// Sequence is the counter handing out node ids.
	Sequence
	// Node holds a serialized node by id.
	Node
	// Manifest holds the flushed root of a datom column.
	Manifest
	// Pending holds a batch written since the last flush, by sequence.
	Pending
	// Column holds the records of a column that is not made of datoms.
	Column
)

// B returns the prefix as a byte.
func (p P) B() byte { return byte(p) }

// Key appends the parts to the prefix byte.
func (p P) Key(parts ...by) (b by) {
	n := 1
	for _, s := range parts {
		n += len(s)
	}
	b = make(by, 0, n)
	b = append(b, p.B())
	for _, s := range parts {
		b = append(b, s...)
	}
	return
}

func u64(v uint64) (b by) {
	b = make(by, 8)
	binary.BigEndian.PutUint64(b, v)
	return
}

func nodeKey(id uint64) by { return Node.Key(u64(id)) }
func manifestKey(col byte) by { return Manifest.Key(by{col}) }
func pendingKey(seq uint64) by { return Pending.Key(u64(seq)) }
func columnKey(col byte, k by) by { return Column.Key(by{col}, k) }
func columnPrefix(col byte) by { return Column.Key(by{col}) }
