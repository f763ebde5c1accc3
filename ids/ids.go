// Package ids defines the three identifier axes of a datom: entities,
// attributes and transactions.
//
// Entity and transaction ids are partitioned 64 bit integers. The top byte
// selects the partition and the remaining 56 bits are a counter that only
// ever increases inside its partition:
//
//	[ 1 byte partition ][ 7 bytes counter ]
//
// Attribute ids are 15 bit integers; the 16th bit of the encoded field is the
// retract flag of a datom key.
package ids

import (
	"fmt"
)

// Partition is the top byte of an EntityId.
type Partition byte

const (
	// Attribute entities carry the schema-as-data definitions. The counter of
	// an attribute entity is its AttributeId.
	Attribute Partition = 0
	// Tx entities are the entity form of transaction ids, used to attach
	// metadata such as timestamps to a transaction.
	Tx Partition = 1
	// Entity is the partition for user data.
	Entity Partition = 2
	// Temp is the partition of ids assigned by in-flight transactions. They
	// never reach the store, they are remapped during commit.
	Temp Partition = 0xFF
)

func (p Partition) String() string {
	switch p {
	case Attribute:
		return "attr"
	case Tx:
		return "tx"
	case Entity:
		return "entity"
	case Temp:
		return "temp"
	}
	return fmt.Sprintf("part%d", byte(p))
}

const (
	counterBits = 56
	// MaxCounter is the largest counter value of a partition.
	MaxCounter = 1<<counterBits - 1
	// MaxAttribute is the largest attribute id, the top bit of the 16 bit
	// field is reserved for the retract flag.
	MaxAttribute AttributeId = 0x7FFF
)

// EntityId identifies an entity.
type EntityId uint64

// Make composes an EntityId out of a partition and a counter.
func Make(p Partition, counter uint64) EntityId {
	return EntityId(uint64(p)<<counterBits | counter&MaxCounter)
}

// Partition returns the partition of the id.
func (e EntityId) Partition() Partition { return Partition(e >> counterBits) }

// Counter returns the per-partition counter of the id.
func (e EntityId) Counter() uint64 { return uint64(e) & MaxCounter }

// IsTemp is true for ids assigned by an in-flight transaction.
func (e EntityId) IsTemp() bool { return e.Partition() == Temp }

func (e EntityId) String() string {
	return fmt.Sprintf("%s:%d", e.Partition(), e.Counter())
}

// AttributeId identifies an attribute.
type AttributeId uint16

// Entity is the attribute entity that holds this attribute's definition.
func (a AttributeId) Entity() EntityId { return Make(Attribute, uint64(a)) }

func (a AttributeId) String() string { return fmt.Sprintf("attr#%d", uint16(a)) }

// AttributeOf returns the attribute id of an attribute entity.
func AttributeOf(e EntityId) (a AttributeId, ok bool) {
	if e.Partition() != Attribute || e.Counter() > uint64(MaxAttribute) {
		return
	}
	return AttributeId(e.Counter()), true
}

// TxId identifies a transaction. Transaction ids are the counters of the Tx
// partition, so they compare in commit order.
type TxId uint64

// MinTx is the transaction that writes the bootstrap schema.
const MinTx TxId = TxId(Tx)<<counterBits | 1

// MaxTx is the largest representable transaction id, useful as an open upper
// bound in scans.
const MaxTx TxId = TxId(Tx)<<counterBits | MaxCounter

// TxFromCounter builds a TxId from a counter value.
func TxFromCounter(c uint64) TxId { return TxId(Make(Tx, c)) }

// Entity returns the entity form of the transaction id.
func (t TxId) Entity() EntityId { return EntityId(t) }

// Counter returns the transaction sequence number.
func (t TxId) Counter() uint64 { return EntityId(t).Counter() }

// Next returns the transaction id following t.
func (t TxId) Next() TxId { return TxFromCounter(t.Counter() + 1) }

func (t TxId) String() string { return fmt.Sprintf("tx:%d", t.Counter()) }

// TxOf converts a Tx partition entity into the transaction id.
func TxOf(e EntityId) (t TxId, ok bool) {
	if e.Partition() != Tx {
		return
	}
	return TxId(e), true
}
