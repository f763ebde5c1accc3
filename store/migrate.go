package store

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"

	"datom.lol/attr"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv"
	"datom.lol/valuetag"
)

// Migrate brings the schema in line with defs. New attributes are added,
// changed ones are checked against the stored data and their datoms are
// re-encoded and re-indexed in the same transaction as the new definitions.
// Nothing is written when the schema already matches.
func (s *T) Migrate(c cx, defs []attr.Definition) (res *Result, err er) {
	return s.submit(c, func() (*Result, er) { return s.migrate(defs) })
}

func (s *T) migrate(defs []attr.Definition) (res *Result, err er) {
	snap := s.current
	reg := snap.Registry()
	var plan *attr.Plan
	if plan, err = attr.PlanMigration(reg, defs); err != nil {
		return
	}
	if plan.Empty() {
		log.D.Ln("schema is up to date")
		return &Result{Tx: s.last, Snapshot: snap.Retain()}, nil
	}
	for _, ch := range plan.Changed {
		if err = validate(snap, ch); err != nil {
			return
		}
		if err = validateHistory(snap, ch); err != nil {
			return
		}
	}
	var next *attr.Registry
	if next, err = reg.With(plan.Definitions()...); err != nil {
		return
	}
	b := &kv.Batch{}
	if err = s.reindex(snap, plan.Changed, b); err != nil {
		return
	}
	tx := s.last.Next()
	var schema []*datom.T
	for _, d := range plan.Definitions() {
		schema = append(schema, d.Datoms(tx)...)
	}
	if res, err = s.commit(tx, next, schema, nil, b); err != nil {
		return
	}
	log.I.F("%s migrated schema: %d added, %d changed, %d index operations", tx,
		len(plan.Added), len(plan.Changed), b.Len())
	return
}

// validate checks the current values of a changed attribute against its new
// definition.
func validate(snap *db.T, ch attr.Change) (err er) {
	if !ch.BecameUnique() && !ch.BecameOne() && !ch.TagChanged() {
		return
	}
	var it *db.Iterator
	if it, err = snap.Datoms(db.AttributeSlice(ch.Old.Id)); err != nil {
		return
	}
	defer it.Close()
	holders := make(map[st]ids.EntityId)
	facts := make(map[st]bo)
	var prev ids.EntityId
	scratch := &kv.Batch{}
	for it.Next() {
		d := it.Datom()
		if ch.BecameOne() && d.E == prev {
			return errors.Wrapf(attr.ErrSchemaConflict, "%s has several values of %s", d.E,
				ch.New.Symbol)
		}
		prev = d.E
		nd := d
		if ch.TagChanged() {
			if nd, err = convert(snap, d, ch.New.Tag, scratch); err != nil {
				return
			}
			scratch.Ops = scratch.Ops[:0]
		}
		k := st(nd.V)
		if nd.Tag == valuetag.Utf8Insensitive {
			k = cases.Fold().String(k)
		}
		// values that only differed in case become one fact
		ek := d.E.String() + "/" + k
		if facts[ek] {
			return errors.Wrapf(attr.ErrSchemaConflict, "%s holds %q twice as %s", d.E, nd.V,
				ch.New.Tag)
		}
		facts[ek] = true
		if !ch.BecameUnique() {
			continue
		}
		if e, ok := holders[k]; ok && e != d.E {
			return errors.Wrapf(attr.ErrSchemaConflict, "%s and %s share a value of %s", e,
				d.E, ch.New.Symbol)
		}
		holders[k] = d.E
	}
	return it.Err()
}

// folded is the history of the values of one entity that fold to the same
// value: which of them are asserted, and what the transaction being read
// did.
type folded struct {
	present           map[st]bo
	tx                ids.TxId
	asserts, retracts bo
}

// settled tells whether the merged fact, which holds the latest datom of the
// transaction with retractions ordered last, agrees with the values.
func (f *folded) settled() bo {
	if f.retracts {
		return len(f.present) == 0
	}
	return !f.asserts || len(f.present) > 0
}

// validateHistory checks that the logged datoms of an attribute becoming case
// insensitive still tell the same story once values differing in case are one
// fact. A transaction that keeps one spelling and retracts another would read
// as a retraction.
func validateHistory(snap *db.T, ch attr.Change) (err er) {
	if !ch.TagChanged() || ch.New.Tag != valuetag.Utf8Insensitive {
		return
	}
	var it *db.Iterator
	if it, err = snap.Datoms(db.All(index.TxLog)); err != nil {
		return
	}
	defer it.Close()
	groups := make(map[st]*folded)
	scratch := &kv.Batch{}
	check := func(d *datom.T, f *folded) (err er) {
		if !f.settled() {
			err = errors.Wrapf(attr.ErrSchemaConflict,
				"%s: values of %s differing only in case disagree at %s", d.E, ch.New.Symbol, f.tx)
		}
		return
	}
	for it.Next() {
		d := it.Datom()
		if d.A != ch.Old.Id {
			continue
		}
		var nd *datom.T
		if nd, err = convert(snap, d, ch.New.Tag, scratch); err != nil {
			return
		}
		scratch.Ops = scratch.Ops[:0]
		k := st(nd.V)
		if !nd.IsOversized() {
			k = cases.Fold().String(k)
		}
		gk := d.E.String() + "/" + k
		f, ok := groups[gk]
		if !ok {
			f = &folded{present: make(map[st]bo), tx: d.Tx}
			groups[gk] = f
		}
		if f.tx != d.Tx {
			if err = check(d, f); err != nil {
				return
			}
			f.tx, f.asserts, f.retracts = d.Tx, false, false
		}
		if d.Retract {
			f.retracts = true
			delete(f.present, st(d.V))
		} else {
			f.asserts = true
			f.present[st(d.V)] = true
		}
	}
	if err = it.Err(); err != nil {
		return
	}
	for _, f := range groups {
		if !f.settled() {
			return errors.Wrapf(attr.ErrSchemaConflict,
				"values of %s differing only in case disagree at %s", ch.New.Symbol, f.tx)
		}
	}
	return
}

// convert re-encodes the value of d as tag to. An oversized result has its
// bytes put into the blob column through b.
func convert(snap *db.T, d *datom.T, to valuetag.T, b *kv.Batch) (nd *datom.T, err er) {
	v := d.V
	if d.IsOversized() {
		if v, err = snap.Blob(d.Digest()); err != nil {
			return
		}
	}
	var out by
	if out, err = valuetag.Convert(d.Tag, to, v); err != nil {
		return nil, errors.Wrapf(attr.ErrSchemaConflict, "%s: %v", d, err)
	}
	var full by
	nd, full = datom.New(d.E, d.A, to, out, d.Tx)
	nd.Retract = d.Retract
	if full != nil {
		b.Put(byte(index.Blobs), bytes.Clone(nd.Digest()), full)
	}
	return
}

// reindex moves every logged datom of the changed attributes to the indexes
// and encoding of its new definition. History keeps the membership it had, a
// change of NoHistory only applies to later writes.
func (s *T) reindex(snap *db.T, changes []attr.Change, b *kv.Batch) (err er) {
	type move struct {
		old, new *attr.Definition
		current  map[st]bo
	}
	moves := make(map[ids.AttributeId]*move)
	for _, ch := range changes {
		if !ch.TagChanged() && !ch.IndexChanged() {
			continue
		}
		m := &move{old: &ch.Old, current: make(map[st]bo)}
		nd := ch.New
		nd.NoHistory = ch.Old.NoHistory
		m.new = &nd
		var cur []*datom.T
		if cur, err = snap.Collect(db.AttributeSlice(ch.Old.Id)); err != nil {
			return
		}
		for _, d := range cur {
			m.current[st(d.Key())] = true
		}
		moves[ch.Old.Id] = m
	}
	if len(moves) == 0 {
		return
	}
	var it *db.Iterator
	if it, err = snap.Datoms(db.All(index.TxLog)); err != nil {
		return
	}
	defer it.Close()
	for it.Next() {
		d := it.Datom()
		m, ok := moves[d.A]
		if !ok {
			continue
		}
		nd := d
		if m.new.Tag != d.Tag {
			if nd, err = convert(snap, d, m.new.Tag, b); err != nil {
				return
			}
		}
		rewrite(b, m.old, m.new, d, nd, m.current[st(d.Key())])
	}
	return it.Err()
}

// rewrite replaces the keys of a logged datom in every index it belongs to.
// current tells whether the datom is in the current indexes.
func rewrite(b *kv.Batch, oldDef, newDef *attr.Definition, old, nd *datom.T, current bo) {
	ok, nk := old.Key(), nd.Key()
	same := bytes.Equal(ok, nk)
	for _, i := range index.Datoms() {
		was := index.Includes(i, oldDef, old) && (current || !i.IsCurrent())
		is := index.Includes(i, newDef, nd) && (current || !i.IsCurrent())
		if same && was == is {
			continue
		}
		if was {
			b.Delete(byte(i), ok)
		}
		if is {
			b.Put(byte(i), nk, nil)
		}
	}
}
