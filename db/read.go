package db

import (
	"github.com/pkg/errors"

	"datom.lol/attr"
	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv"
)

// Get returns the value of attribute symbol on entity e. For a cardinality
// many attribute it is the first value in value order.
func (s *T) Get(e ids.EntityId, symbol st) (v any, found bo, err er) {
	var def *attr.Definition
	if def, err = s.reg.BySymbol(symbol); err != nil {
		return
	}
	var ds []*datom.T
	if ds, err = s.Collect(EntityAttributeSlice(e, def.Id)); err != nil || len(ds) == 0 {
		return
	}
	if v, err = s.Value(ds[0]); err != nil {
		return
	}
	return v, true, nil
}

// GetAll returns every current value of attribute symbol on entity e.
func (s *T) GetAll(e ids.EntityId, symbol st) (vs []any, err er) {
	var def *attr.Definition
	if def, err = s.reg.BySymbol(symbol); err != nil {
		return
	}
	var ds []*datom.T
	if ds, err = s.Collect(EntityAttributeSlice(e, def.Id)); err != nil {
		return
	}
	for _, d := range ds {
		var v any
		if v, err = s.Value(d); err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return
}

// Entity returns the current datoms of entity e.
func (s *T) Entity(e ids.EntityId) (ds []*datom.T, err er) {
	return s.Collect(EntitySlice(e))
}

// Value decodes the value of a datom, loading it from the blob column when it
// is stored out of line.
func (s *T) Value(d *datom.T) (v any, err er) {
	if !d.IsOversized() {
		return d.Value()
	}
	var full by
	if full, err = s.Blob(d.Digest()); err != nil {
		return
	}
	return d.DecodeValue(full)
}

// Blob returns an out-of-line value by digest.
func (s *T) Blob(digest by) (b by, err er) {
	if err = s.live(); err != nil {
		return
	}
	if len(digest) != datom.DigestLen {
		return nil, errors.Wrapf(datom.ErrCorruptKey, "digest of %d bytes", len(digest))
	}
	col := byte(index.Blobs)
	if s.overlay != nil {
		var ov kv.View
		if ov, err = s.overlay.View(); err != nil {
			return
		}
		_, b, err = ov.Get(col, digest)
		ov.Release()
		if !errors.Is(err, kv.ErrNotFound) {
			return
		}
	}
	if _, b, err = s.v.view.Get(col, digest); errors.Is(err, kv.ErrNotFound) {
		err = errors.Wrapf(err, "blob %x", digest)
	}
	return
}

// Lookup finds the entity holding value v for attribute symbol, which must be
// indexed. For a unique attribute there is at most one; otherwise the lowest
// entity is returned.
func (s *T) Lookup(symbol st, v any) (e ids.EntityId, found bo, err er) {
	var def *attr.Definition
	if def, err = s.reg.BySymbol(symbol); err != nil {
		return
	}
	if !def.InAVET() {
		err = errors.Errorf("%s is neither indexed nor unique", symbol)
		return
	}
	var b by
	if _, b, err = s.reg.Encode(def.Id, v); err != nil {
		return
	}
	var it *Iterator
	if it, err = s.Datoms(AttributeValueSlice(def.Id, def.Tag, b)); err != nil {
		return
	}
	defer it.Close()
	if it.Next() {
		return it.Datom().E, true, nil
	}
	err = it.Err()
	return
}
