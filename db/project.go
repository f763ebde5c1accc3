package db

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"

	"datom.lol/attr"
	"datom.lol/compare"
	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv"
	"datom.lol/valuetag"
)

// Blobs holds out-of-line values by digest.
type Blobs map[st]by

// Add records the full value of an oversized datom.
func (b Blobs) Add(d *datom.T, full by) {
	if digest := d.Digest(); digest != nil {
		b[st(digest)] = full
	}
}

// Projection is what one transaction writes: the backend batch across every
// index and the datoms that went into the log, implicit retractions
// included.
type Projection struct {
	Tx     ids.TxId
	Batch  *kv.Batch
	Datoms []*datom.T
}

type slot struct {
	e ids.EntityId
	a ids.AttributeId
}

// undone is a retraction made earlier in the same transaction, kept so that
// asserting the fact again cancels it.
type undone struct {
	old, r *datom.T
	def    *attr.Definition
}

type projector struct {
	s         *T
	p         *Projection
	blobs     Blobs
	slots     map[slot][]*datom.T
	owners    map[st]ids.EntityId
	retracted []undone
}

// Project turns datoms with permanent ids into the writes of transaction tx
// against this snapshot. An assertion of a fact that is already current is
// dropped, as is a retraction of one that is not. Asserting a cardinality one
// attribute retracts the value it replaces. Retracting removes the datom from
// the current indexes and adds the retraction to history and the log.
// Oversized values take their bytes from blobs unless already stored.
func (s *T) Project(tx ids.TxId, datoms []*datom.T, blobs Blobs) (p *Projection, err er) {
	if err = s.live(); err != nil {
		return
	}
	if s.asOf != 0 {
		return nil, errors.New("projection onto an as-of snapshot")
	}
	pr := &projector{
		s:      s,
		p:      &Projection{Tx: tx, Batch: &kv.Batch{}},
		blobs:  blobs,
		slots:  make(map[slot][]*datom.T),
		owners: make(map[st]ids.EntityId),
	}
	for _, d := range datoms {
		var def *attr.Definition
		if def, err = pr.check(d); err != nil {
			return
		}
		d = d.WithTx(tx)
		if d.Retract {
			err = pr.retractFact(d, def)
		} else {
			err = pr.assert(d, def)
		}
		if err != nil {
			return
		}
	}
	return pr.p, nil
}

func (pr *projector) check(d *datom.T) (def *attr.Definition, err er) {
	if d.E.IsTemp() {
		return nil, errors.Errorf("datom %s carries a temporary id", d)
	}
	if def, err = pr.s.reg.Definition(d.A); err != nil {
		return
	}
	if err = pr.s.reg.Check(d.A, d.Tag); err != nil {
		return
	}
	if d.IsOversized() {
		if len(d.V) != datom.OutOfLineLen {
			err = errors.Wrapf(datom.ErrCorruptKey, "out-of-line reference of %d bytes",
				len(d.V))
		}
		return
	}
	if int(d.ValueLen) != len(d.V) {
		return nil, errors.Wrapf(datom.ErrCorruptKey, "value length %d, %d bytes", d.ValueLen,
			len(d.V))
	}
	err = valuetag.Validate(d.Tag, d.V)
	return
}

// current returns the current datoms of a slot, as changed by the datoms
// projected so far.
func (pr *projector) current(e ids.EntityId, a ids.AttributeId) (ds []*datom.T, err er) {
	k := slot{e, a}
	var ok bo
	if ds, ok = pr.slots[k]; ok {
		return
	}
	if ds, err = pr.s.Collect(EntityAttributeSlice(e, a)); err != nil {
		return
	}
	pr.slots[k] = ds
	return
}

func (pr *projector) same(a, b *datom.T) bo {
	return compare.SameFact(pr.s.reg, a.Key(), b.Key())
}

func (pr *projector) assert(d *datom.T, def *attr.Definition) (err er) {
	var cur []*datom.T
	if cur, err = pr.current(d.E, d.A); err != nil {
		return
	}
	for _, c := range cur {
		if pr.same(c, d) {
			return
		}
	}
	var u *undone
	for i := range pr.retracted {
		if pr.same(pr.retracted[i].old, d) {
			x := pr.retracted[i]
			u = &x
			pr.retracted = append(pr.retracted[:i], pr.retracted[i+1:]...)
			break
		}
	}
	if def.Unique {
		if err = pr.claim(d, def); err != nil {
			return
		}
	}
	if def.Cardinality == attr.One {
		for _, c := range cur {
			pr.retract(c, def)
		}
	}
	if u != nil {
		pr.restore(*u)
		return
	}
	if d.IsOversized() {
		if err = pr.blob(d); err != nil {
			return
		}
	}
	pr.put(d, def, true)
	k := slot{d.E, d.A}
	pr.slots[k] = append(pr.slots[k], d)
	return
}

func (pr *projector) retractFact(d *datom.T, def *attr.Definition) (err er) {
	var cur []*datom.T
	if cur, err = pr.current(d.E, d.A); err != nil {
		return
	}
	for _, c := range cur {
		if pr.same(c, d) {
			pr.retract(c, def)
			return
		}
	}
	return
}

// put adds a datom to the log and the history indexes, and for an assertion
// to the current indexes.
func (pr *projector) put(d *datom.T, def *attr.Definition, current bo) {
	key := d.Key()
	for _, i := range index.Datoms() {
		if i.IsCurrent() && !current {
			continue
		}
		if index.Includes(i, def, d) {
			pr.p.Batch.Put(byte(i), key, nil)
		}
	}
	pr.p.Datoms = append(pr.p.Datoms, d)
}

// retract removes a current datom and records its retraction.
func (pr *projector) retract(old *datom.T, def *attr.Definition) {
	key := old.Key()
	for _, i := range index.CurrentIndexes() {
		if index.Includes(i, def, old) {
			pr.p.Batch.Delete(byte(i), key)
		}
	}
	r := old.AsRetract(pr.p.Tx)
	pr.put(r, def, false)
	pr.drop(old)
	if def.Unique {
		pr.owners[uniqueKey(old)] = 0
	}
	pr.retracted = append(pr.retracted, undone{old: old, r: r, def: def})
}

// restore cancels a retraction made earlier in the transaction: the old
// datom goes back into the current indexes and the retraction is taken out
// of history and the log.
func (pr *projector) restore(u undone) {
	key, rkey := u.old.Key(), u.r.Key()
	for _, i := range index.Datoms() {
		if !index.Includes(i, u.def, u.old) {
			continue
		}
		if i.IsCurrent() {
			pr.p.Batch.Put(byte(i), key, nil)
			continue
		}
		pr.p.Batch.Delete(byte(i), rkey)
	}
	for i, d := range pr.p.Datoms {
		if d == u.r {
			pr.p.Datoms = append(pr.p.Datoms[:i], pr.p.Datoms[i+1:]...)
			break
		}
	}
	k := slot{u.old.E, u.old.A}
	pr.slots[k] = append(pr.slots[k], u.old)
}

func (pr *projector) drop(old *datom.T) {
	k := slot{old.E, old.A}
	ds := pr.slots[k]
	for i, d := range ds {
		if d == old {
			// the slice may be shared with an earlier state of the slot
			pr.slots[k] = append(ds[:i:i], ds[i+1:]...)
			return
		}
	}
}

// claim gives a unique value to d.E, failing if another entity holds it.
func (pr *projector) claim(d *datom.T, def *attr.Definition) (err er) {
	k := uniqueKey(d)
	owner, ok := pr.owners[k]
	if !ok {
		if owner, err = pr.s.Owner(d); err != nil {
			return
		}
	}
	if owner != 0 && owner != d.E {
		return errors.Wrapf(ErrUniqueViolation, "%s of %s is held by %s", def.Symbol, d.E, owner)
	}
	pr.owners[k] = d.E
	return
}

// uniqueKey identifies a value of an attribute within one transaction.
func uniqueKey(d *datom.T) st {
	v := d.V
	if d.Tag == valuetag.Utf8Insensitive {
		v = cases.Fold().Bytes(v)
	}
	var b bytes.Buffer
	b.WriteByte(byte(d.A >> 8))
	b.WriteByte(byte(d.A))
	b.WriteByte(byte(d.Tag))
	b.Write(v)
	return b.String()
}

// Owner returns the entity currently holding the attribute value of d, or
// zero. The attribute must be indexed.
func (s *T) Owner(d *datom.T) (e ids.EntityId, err er) {
	from, to := *d, *d
	from.E, from.Tx, from.Retract = 0, 0, false
	to.E, to.Tx, to.Retract = maxEntity, maxTx, true
	var it *Iterator
	if it, err = s.Datoms(Slice{Index: index.AVETCurrent, From: from.Key(), To: to.Key()}); err != nil {
		return
	}
	defer it.Close()
	if it.Next() {
		return it.Datom().E, nil
	}
	return 0, it.Err()
}

// blob stores the full value of an oversized datom if the store does not
// hold it already.
func (pr *projector) blob(d *datom.T) (err er) {
	digest := d.Digest()
	if full, ok := pr.blobs[st(digest)]; ok {
		if !bytes.Equal(datom.Reference(full), d.V) {
			return errors.Wrapf(datom.ErrCorruptKey, "value does not match digest %x", digest)
		}
		pr.p.Batch.Put(byte(index.Blobs), bytes.Clone(digest), full)
		return
	}
	if _, err = pr.s.Blob(digest); err != nil {
		err = errors.Wrapf(err, "no value given for %s", d)
	}
	return
}
