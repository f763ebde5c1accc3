package store

import (
	"datom.lol/attr"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/ids"
)

// Tx builds one transaction. Values are encoded against the schema of the
// commit they end up in, so a Tx may be built before the attributes it uses
// are migrated. A Tx is not safe for concurrent use.
type Tx struct {
	s     *T
	temps ids.TempIds
	ops   []op
	blobs db.Blobs
}

type op struct {
	e       ids.EntityId
	symbol  st
	v       any
	retract bo
	d       *datom.T
}

// Begin starts building a transaction.
func (s *T) Begin() *Tx { return &Tx{s: s, blobs: make(db.Blobs)} }

// TempId returns a fresh temporary entity id, valid within this transaction.
func (t *Tx) TempId() ids.EntityId { return t.temps.Next() }

// Add asserts v for attribute symbol on e.
func (t *Tx) Add(e ids.EntityId, symbol st, v any) *Tx {
	t.ops = append(t.ops, op{e: e, symbol: symbol, v: v})
	return t
}

// Retract retracts v for attribute symbol on e.
func (t *Tx) Retract(e ids.EntityId, symbol st, v any) *Tx {
	t.ops = append(t.ops, op{e: e, symbol: symbol, v: v, retract: true})
	return t
}

// AddDatom adds an encoded datom. full is the value of an oversized datom and
// may be nil if the store already holds it.
func (t *Tx) AddDatom(d *datom.T, full by) *Tx {
	if full != nil {
		t.blobs.Add(d, full)
	}
	t.ops = append(t.ops, op{d: d})
	return t
}

// Len is the number of operations added.
func (t *Tx) Len() no { return len(t.ops) }

// Commit hands the transaction to the writer and waits until it is
// published.
func (t *Tx) Commit(c cx) (res *Result, err er) {
	return t.s.submit(c, func() (res *Result, err er) {
		var ds []*datom.T
		if ds, err = t.encode(t.s.current.Registry()); err != nil {
			return
		}
		return t.s.transact(ds, t.blobs)
	})
}

func (t *Tx) encode(reg *attr.Registry) (ds []*datom.T, err er) {
	ds = make([]*datom.T, 0, len(t.ops))
	for _, o := range t.ops {
		if o.d != nil {
			ds = append(ds, o.d)
			continue
		}
		var def *attr.Definition
		if def, err = reg.BySymbol(o.symbol); err != nil {
			return
		}
		var b by
		if _, b, err = reg.Encode(def.Id, o.v); err != nil {
			return
		}
		d, full := datom.New(o.e, def.Id, def.Tag, b, 0)
		if full != nil {
			t.blobs.Add(d, full)
		}
		if o.retract {
			d = d.AsRetract(0)
		}
		ds = append(ds, d)
	}
	return
}
