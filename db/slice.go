package db

import (
	"math"

	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/valuetag"
)

// Slice selects a key range of one index: keys from From, inclusive, up to
// To, exclusive, in the order of the index or the reverse. A nil bound is
// open.
type Slice struct {
	Index   index.Id
	From    []byte
	To      []byte
	Reverse bool
}

// History returns the slice over the history variant of its index.
func (sl Slice) History() Slice {
	sl.Index = sl.Index.History()
	return sl
}

// Reversed returns the slice walked backwards.
func (sl Slice) Reversed() Slice {
	sl.Reverse = !sl.Reverse
	return sl
}

const (
	maxEntity = ids.EntityId(math.MaxUint64)
	maxTx     = ids.TxId(math.MaxUint64)
)

// bound builds a key used only as a slice bound.
func bound(tx ids.TxId, e ids.EntityId, a ids.AttributeId, retract bool, tag valuetag.T,
	v []byte) (key []byte) {

	key, _ = datom.Encode(datom.KeyPrefix{Tx: tx, E: e, A: a, Retract: retract, Tag: tag}, v)
	return
}

// least is the smallest key of entity e and attribute a in every datom order
// that starts with entity or attribute.
func least(e ids.EntityId, a ids.AttributeId) []byte {
	return bound(0, e, a, false, valuetag.Null, nil)
}

// All is the whole of index i.
func All(i index.Id) Slice { return Slice{Index: i} }

// PartitionSlice is every current datom of the entities of partition p.
func PartitionSlice(p ids.Partition) Slice {
	sl := Slice{Index: index.EAVTCurrent, From: least(ids.Make(p, 0), 0)}
	if p < ids.Temp {
		sl.To = least(ids.Make(p+1, 0), 0)
	}
	return sl
}

// EntitySlice is every current datom of entity e.
func EntitySlice(e ids.EntityId) Slice {
	return Slice{Index: index.EAVTCurrent, From: least(e, 0), To: least(e+1, 0)}
}

// EntityAttributeSlice is every current datom of attribute a on entity e.
func EntityAttributeSlice(e ids.EntityId, a ids.AttributeId) Slice {
	to := least(e, a+1)
	if a >= ids.MaxAttribute {
		to = least(e+1, 0)
	}
	return Slice{Index: index.EAVTCurrent, From: least(e, a), To: to}
}

// AttributeSlice is every current datom of attribute a.
func AttributeSlice(a ids.AttributeId) Slice {
	sl := Slice{Index: index.AEVTCurrent, From: least(0, a), To: least(0, a+1)}
	if a >= ids.MaxAttribute {
		sl.To = nil
	}
	return sl
}

// AttributeValueSlice is every current datom of attribute a holding the
// encoded value v. The attribute must be indexed or unique.
func AttributeValueSlice(a ids.AttributeId, tag valuetag.T, v []byte) Slice {
	return Slice{
		Index: index.AVETCurrent,
		From:  bound(0, 0, a, false, tag, v),
		// no datom has the largest entity, it is in the temp partition
		To: bound(maxTx, maxEntity, a, true, tag, v),
	}
}

// ReferenceSlice is every current datom whose value refers to target.
func ReferenceSlice(target ids.EntityId) Slice {
	from, _ := valuetag.Encode(valuetag.Reference, target)
	to, _ := valuetag.Encode(valuetag.Reference, target+1)
	return Slice{
		Index: index.VAETCurrent,
		From:  bound(0, 0, 0, false, valuetag.Reference, from),
		To:    bound(0, 0, 0, false, valuetag.Reference, to),
	}
}

// TxSlice is every datom of transaction tx in the log.
func TxSlice(tx ids.TxId) Slice {
	return Slice{Index: index.TxLog, From: bound(tx, 0, 0, false, valuetag.Null, nil),
		To: bound(tx+1, 0, 0, false, valuetag.Null, nil)}
}

// TxRange is the log from transaction from up to, not including, to.
func TxRange(from, to ids.TxId) Slice {
	sl := Slice{Index: index.TxLog, From: bound(from, 0, 0, false, valuetag.Null, nil)}
	if to != 0 {
		sl.To = bound(to, 0, 0, false, valuetag.Null, nil)
	}
	return sl
}
