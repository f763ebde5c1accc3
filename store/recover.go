package store

import (
	"datom.lol/attr"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv"
)

// recover rebuilds the writer state from the backend: the last transaction,
// the schema and the id high water marks. An empty backend gets the built-in
// schema as its first transaction.
func (s *T) recover(c cx) (err er) {
	var v kv.View
	if v, err = s.backend.View(); chk.E(err) {
		return
	}
	snap := db.New(v, 0, attr.Bootstrap())
	defer snap.Release()
	var last *datom.T
	if last, err = first(snap, db.All(index.TxLog).Reversed()); err != nil {
		return
	}
	if last == nil {
		return s.genesis()
	}
	s.last = last.Tx
	var schema []*datom.T
	if schema, err = snap.Collect(db.PartitionSlice(ids.Attribute)); err != nil {
		return
	}
	var defs []attr.Definition
	if defs, err = attr.FromDatoms(schema); err != nil {
		return
	}
	reg := attr.Bootstrap()
	var user []attr.Definition
	for _, d := range defs {
		if !attr.IsBuiltin(d.Id) {
			user = append(user, d)
		}
	}
	if reg, err = reg.With(user...); err != nil {
		return
	}
	var maxE ids.EntityId
	for _, sl := range []db.Slice{
		db.PartitionSlice(ids.Entity).Reversed(),
		db.PartitionSlice(ids.Entity).History().Reversed(),
	} {
		var d *datom.T
		if d, err = first(snap, sl); err != nil {
			return
		}
		if d != nil && d.E > maxE {
			maxE = d.E
		}
	}
	// excised entities are gone from the indexes but their ids stay used
	var excised []*datom.T
	if excised, err = snap.Collect(db.AttributeSlice(attr.TxExcisedEntity)); err != nil {
		return
	}
	for _, d := range excised {
		var ev any
		if ev, err = d.Value(); err != nil {
			return
		}
		if e := ev.(ids.EntityId); e.Partition() == ids.Entity && e > maxE {
			maxE = e
		}
	}
	s.alloc = ids.NewAllocator(map[ids.Partition]uint64{
		ids.Entity: maxE.Counter(),
		ids.Tx:     s.last.Counter(),
	})
	s.reg.Store(reg)
	var cur kv.View
	if cur, err = s.backend.View(); chk.E(err) {
		return
	}
	s.publish(db.New(cur, s.last, reg))
	log.I.F("recovered at %s with %d attributes, entity ids up to %d", s.last, reg.Len(),
		maxE.Counter())
	return
}

// genesis writes the built-in schema into an empty backend.
func (s *T) genesis() (err er) {
	reg := attr.Bootstrap()
	s.alloc = ids.NewAllocator(nil)
	var v kv.View
	if v, err = s.backend.View(); chk.E(err) {
		return
	}
	s.current = db.New(v, 0, reg)
	tx := ids.MinTx
	var schema []*datom.T
	for _, d := range attr.Builtins() {
		schema = append(schema, d.Datoms(tx)...)
	}
	var res *Result
	if res, err = s.commit(tx, reg, schema, nil, nil); err != nil {
		return
	}
	res.Release()
	log.I.F("initialized an empty store at %s", tx)
	return
}

func first(snap *db.T, sl db.Slice) (d *datom.T, err er) {
	var it *db.Iterator
	if it, err = snap.Datoms(sl); err != nil {
		return
	}
	defer it.Close()
	if it.Next() {
		return it.Datom(), nil
	}
	return nil, it.Err()
}
