package store

import (
	"bytes"

	"github.com/pkg/errors"

	"datom.lol/attr"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv"
	"datom.lol/valuetag"
)

// Rewrite is given every logged datom and returns what it should become, or
// nil to leave it. Only the value may change. full carries the bytes of an
// oversized value the store does not hold yet.
type Rewrite func(d *datom.T) (nd *datom.T, full by, err er)

// Excise removes every datom of the entities, past and present, from every
// index. The transaction records how many datoms went and which entities.
// Blobs and references held by other entities are left alone.
func (s *T) Excise(c cx, entities []ids.EntityId) (res *Result, err er) {
	return s.submit(c, func() (*Result, er) { return s.excise(entities) })
}

func (s *T) excise(entities []ids.EntityId) (res *Result, err er) {
	snap := s.current
	reg := snap.Registry()
	gone := make(map[ids.EntityId]bo, len(entities))
	for _, e := range entities {
		if e.Partition() != ids.Entity {
			return nil, errors.Errorf("%s is not in the entity partition", e)
		}
		gone[e] = true
	}
	b := &kv.Batch{}
	remove := func(sl db.Slice, in []index.Id) (err er) {
		var ds []*datom.T
		if ds, err = snap.Collect(sl); err != nil {
			return
		}
		for _, d := range ds {
			var def *attr.Definition
			if def, err = reg.Definition(d.A); err != nil {
				return
			}
			key := d.Key()
			for _, i := range in {
				if index.Includes(i, def, d) {
					b.Delete(byte(i), key)
				}
			}
		}
		return
	}
	for e := range gone {
		if err = remove(db.EntitySlice(e), index.CurrentIndexes()); err != nil {
			return
		}
		if err = remove(db.EntitySlice(e).History(), index.HistoryIndexes()); err != nil {
			return
		}
	}
	var it *db.Iterator
	if it, err = snap.Datoms(db.All(index.TxLog)); err != nil {
		return
	}
	var n uint64
	for it.Next() {
		if d := it.Datom(); gone[d.E] {
			b.Delete(byte(index.TxLog), d.Key())
			n++
		}
	}
	if err = it.Err(); err != nil {
		it.Close()
		return
	}
	it.Close()
	tx := s.last.Next()
	count, _ := valuetag.Encode(valuetag.UInt64, n)
	marker, _ := datom.New(tx.Entity(), attr.TxExcisedDatoms, valuetag.UInt64, count, tx)
	markers := []*datom.T{marker}
	for _, e := range entities {
		ref, _ := valuetag.Encode(valuetag.Reference, e)
		d, _ := datom.New(tx.Entity(), attr.TxExcisedEntity, valuetag.Reference, ref, tx)
		markers = append(markers, d)
	}
	if res, err = s.commit(tx, reg, markers, nil, b); err != nil {
		return
	}
	log.I.F("%s excised %d datoms of %d entities", tx, n, len(gone))
	return
}

// ScanUpdate walks the log and rewrites the value of every datom fn changes,
// in the log, history and, if the datom is current, the current indexes.
// Values of unique attributes cannot be rewritten.
func (s *T) ScanUpdate(c cx, fn Rewrite) (res *Result, err er) {
	return s.submit(c, func() (*Result, er) { return s.scanUpdate(fn) })
}

func (s *T) scanUpdate(fn Rewrite) (res *Result, err er) {
	snap := s.current
	reg := snap.Registry()
	var it *db.Iterator
	if it, err = snap.Datoms(db.All(index.TxLog)); err != nil {
		return
	}
	defer it.Close()
	b := &kv.Batch{}
	var n no
	for it.Next() {
		d := it.Datom()
		var nd *datom.T
		var full by
		if nd, full, err = fn(d); err != nil {
			return
		}
		if nd == nil {
			continue
		}
		var def *attr.Definition
		if def, err = s.checkRewrite(snap, d, nd, full); err != nil {
			return
		}
		if full != nil {
			b.Put(byte(index.Blobs), bytes.Clone(nd.Digest()), full)
		}
		var current bo
		if current, err = isCurrent(snap, d); err != nil {
			return
		}
		rewrite(b, def, def, d, nd, current)
		n++
	}
	if err = it.Err(); err != nil {
		return
	}
	if n == 0 {
		return &Result{Tx: s.last, Snapshot: snap.Retain()}, nil
	}
	tx := s.last.Next()
	if res, err = s.commit(tx, reg, nil, nil, b); err != nil {
		return
	}
	log.I.F("%s rewrote %d datoms", tx, n)
	return
}

func (s *T) checkRewrite(snap *db.T, d, nd *datom.T, full by) (def *attr.Definition, err er) {
	if nd.E != d.E || nd.A != d.A || nd.Tx != d.Tx || nd.Retract != d.Retract {
		return nil, errors.Errorf("rewrite of %s changes more than its value", d)
	}
	reg := snap.Registry()
	if def, err = reg.Definition(d.A); err != nil {
		return
	}
	if def.Unique {
		return nil, errors.Wrapf(attr.ErrSchemaConflict, "values of %s are unique", def.Symbol)
	}
	if err = reg.Check(nd.A, nd.Tag); err != nil {
		return
	}
	if !nd.IsOversized() {
		if int(nd.ValueLen) != len(nd.V) {
			return nil, errors.Wrapf(datom.ErrCorruptKey, "value length %d, %d bytes",
				nd.ValueLen, len(nd.V))
		}
		err = valuetag.Validate(nd.Tag, nd.V)
		return
	}
	if full == nil {
		_, err = snap.Blob(nd.Digest())
		return
	}
	if !bytes.Equal(datom.Reference(full), nd.V) {
		err = errors.Wrapf(datom.ErrCorruptKey, "value does not match digest of %s", nd)
	}
	return
}

// isCurrent tells whether a logged datom is still in the current indexes.
func isCurrent(snap *db.T, d *datom.T) (ok bo, err er) {
	if d.Retract {
		return
	}
	var cur []*datom.T
	if cur, err = snap.Collect(db.EntityAttributeSlice(d.E, d.A)); err != nil {
		return
	}
	key := d.Key()
	for _, c := range cur {
		if bytes.Equal(c.Key(), key) {
			return true, nil
		}
	}
	return
}
