package store

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"datom.lol/attr"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/ids"
	"datom.lol/valuetag"
)

// Transact commits datoms as one transaction. Datoms may use temp ids as
// entities and as reference values; ids.TxTemp stands for the transaction
// entity. The transaction ids of the datoms are ignored.
func (s *T) Transact(c cx, datoms []*datom.T, blobs db.Blobs) (res *Result, err er) {
	return s.submit(c, func() (*Result, er) { return s.transact(datoms, blobs) })
}

func (s *T) transact(datoms []*datom.T, blobs db.Blobs) (res *Result, err er) {
	reg := s.current.Registry()
	for _, d := range datoms {
		// schema goes through Migrate, transaction metadata is the store's
		if attr.IsBuiltin(d.A) {
			return nil, errors.Wrapf(attr.ErrSchemaConflict, "%s is reserved", d.A)
		}
	}
	tx := s.last.Next()
	alloc := s.alloc.Clone()
	var remaps ids.Remaps
	if remaps, err = s.assign(reg, tx, datoms, alloc); err != nil {
		return
	}
	resolved := make([]*datom.T, len(datoms))
	for i, d := range datoms {
		resolved[i] = remap(d, remaps)
	}
	res, err = s.commit(tx, reg, resolved, blobs, nil)
	if s.last == tx {
		// the backend holds the new ids even if publishing failed
		s.alloc = alloc
	}
	if err != nil {
		return
	}
	res.Remaps = remaps
	log.D.F("%s committed %d datoms, %d new ids", tx, len(res.Datoms), len(remaps))
	return
}

// assign gives every temp id of datoms a permanent id. A temp id asserting a
// unique value some entity already holds becomes that entity; the rest are
// allocated in the entity partition in order of first use.
func (s *T) assign(reg *attr.Registry, tx ids.TxId, datoms []*datom.T,
	alloc *ids.Allocator) (remaps ids.Remaps, err er) {

	remaps = make(ids.Remaps)
	for _, d := range datoms {
		if !d.E.IsTemp() {
			if d.E.Partition() == ids.Entity {
				alloc.Observe(d.E)
			}
			continue
		}
		if d.Retract || d.E == ids.TxTemp {
			continue
		}
		if _, done := remaps[d.E]; done {
			continue
		}
		var def *attr.Definition
		if def, err = reg.Definition(d.A); err != nil {
			return
		}
		if !def.Unique || isTempRef(d) {
			continue
		}
		var owner ids.EntityId
		if owner, err = s.current.Owner(d); err != nil {
			return
		}
		if owner != 0 {
			remaps[d.E] = owner
		}
	}
	for _, d := range datoms {
		for _, e := range temps(d) {
			if _, done := remaps[e]; done {
				continue
			}
			if e == ids.TxTemp {
				remaps[e] = tx.Entity()
				continue
			}
			remaps[e] = alloc.Next(ids.Entity)
		}
	}
	return
}

func isTempRef(d *datom.T) bo {
	return d.Tag == valuetag.Reference && len(d.V) == 8 &&
		ids.EntityId(binary.BigEndian.Uint64(d.V)).IsTemp()
}

// temps lists the temp ids a datom uses.
func temps(d *datom.T) (out []ids.EntityId) {
	if d.E.IsTemp() {
		out = append(out, d.E)
	}
	if isTempRef(d) {
		out = append(out, ids.EntityId(binary.BigEndian.Uint64(d.V)))
	}
	return
}

// remap replaces the temp ids of d by their permanent ids.
func remap(d *datom.T, remaps ids.Remaps) *datom.T {
	c := *d
	c.E = remaps.Resolve(d.E)
	if isTempRef(d) {
		v := make(by, 8)
		binary.BigEndian.PutUint64(v, uint64(remaps.Resolve(
			ids.EntityId(binary.BigEndian.Uint64(d.V)))))
		c.V = v
	}
	return &c
}
