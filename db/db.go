// Package db is the read side of the datom store. A T is an immutable
// snapshot: a backend view, the transaction it reflects and the attribute
// registry of that transaction. Snapshots are cheap to share between
// goroutines and never change after they are made.
package db

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"

	"datom.lol/attr"
	"datom.lol/context"
	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv"
	"datom.lol/kv/memkv"
)

// ErrUniqueViolation is returned when a write would give a unique attribute
// value to a second entity.
var ErrUniqueViolation = errors.New("unique attribute value already taken")

// ErrReleased is returned when a snapshot is used after Release.
var ErrReleased = errors.New("snapshot released")

// shared is the backend view behind a snapshot and everything derived from
// it. The view is released when the last snapshot using it is.
type shared struct {
	view kv.View
	refs atomic.Int64
}

func (s *shared) retain() { s.refs.Add(1) }

func (s *shared) release() {
	if s.refs.Add(-1) == 0 {
		s.view.Release()
	}
}

// T is a snapshot of the store.
type T struct {
	v        *shared
	basis    ids.TxId
	reg      *attr.Registry
	asOf     ids.TxId // zero unless this is an AsOf view
	overlay  *memkv.T // speculative datoms of an AsIf view
	tombs    *memkv.T // keys the speculative datoms remove
	released *atomic.Bool
}

// New wraps a view taken right after the commit of basis. The snapshot owns
// the view.
func New(view kv.View, basis ids.TxId, reg *attr.Registry) (s *T) {
	v := &shared{view: view}
	return v.snapshot(basis, reg)
}

func (v *shared) snapshot(basis ids.TxId, reg *attr.Registry) (s *T) {
	v.retain()
	s = &T{v: v, basis: basis, reg: reg, released: new(atomic.Bool)}
	// a snapshot dropped without Release still gives its view back
	runtime.AddCleanup(s, func(c cleanup) { c.release() }, cleanup{v, s.released})
	return
}

type cleanup struct {
	v        *shared
	released *atomic.Bool
}

func (c cleanup) release() {
	if !c.released.Swap(true) {
		c.v.release()
	}
}

// derive returns a new handle on the same view.
func (s *T) derive() (d *T) {
	d = s.v.snapshot(s.basis, s.reg)
	d.asOf, d.overlay, d.tombs = s.asOf, s.overlay, s.tombs
	return
}

// Retain returns another handle on the snapshot that must be released on its
// own.
func (s *T) Retain() *T { return s.derive() }

// Release gives the snapshot's hold on the backend view back. Using the
// snapshot afterwards fails with ErrReleased; releasing twice does nothing.
func (s *T) Release() { cleanup{s.v, s.released}.release() }

func (s *T) live() (err error) {
	if s.released.Load() {
		err = ErrReleased
	}
	return
}

// Basis is the last transaction visible in the snapshot.
func (s *T) Basis() ids.TxId {
	if s.asOf != 0 && s.asOf < s.basis {
		return s.asOf
	}
	return s.basis
}

// Registry is the schema as of the basis.
func (s *T) Registry() *attr.Registry { return s.reg }

// IsAsOf reports whether the snapshot is a historical view.
func (s *T) IsAsOf() bool { return s.asOf != 0 }

// IsSpeculative reports whether the snapshot holds uncommitted datoms.
func (s *T) IsSpeculative() bool { return s.overlay != nil }

// AsOf returns a view of the database as it was right after tx. Current
// index reads are answered from the history indexes, keeping for every fact
// the latest datom at or before tx and dropping it if that is a retraction.
// Attributes without history are not visible in such a view.
func (s *T) AsOf(tx ids.TxId) (h *T, err error) {
	if err = s.live(); err != nil {
		return
	}
	if s.overlay != nil {
		return nil, errors.New("as-of view of a speculative snapshot")
	}
	h = s.derive()
	h.asOf = tx
	return
}

// AsIf returns a speculative snapshot: this one with datoms applied as if
// they had been committed in the next transaction. Nothing is written to the
// store. The datoms must carry permanent ids; blobs holds the values of
// oversized ones.
func (s *T) AsIf(datoms []*datom.T, blobs Blobs) (h *T, err error) {
	if err = s.live(); err != nil {
		return
	}
	if s.asOf != 0 {
		return nil, errors.New("speculative view of an as-of snapshot")
	}
	tx := s.basis.Next()
	var p *Projection
	if p, err = s.Project(tx, datoms, blobs); err != nil {
		return
	}
	cols := s.columns()
	h = s.derive()
	h.basis = tx
	if s.overlay == nil {
		h.overlay, h.tombs = memkv.New(cols), memkv.New(cols)
	} else {
		// the previous layers are immutable, new writes go on top of copies
		h.overlay, h.tombs = s.overlay.Clone(), s.tombs.Clone()
	}
	var adds, dels kv.Batch
	for _, op := range p.Batch.Ops {
		if op.Delete {
			dels.Put(op.Col, op.Key, nil)
			adds.Delete(op.Col, op.Key)
			continue
		}
		adds.Put(op.Col, op.Key, op.Value)
		dels.Delete(op.Col, op.Key)
	}
	if err = h.overlay.Write(context.Bg(), &adds); err == nil {
		err = h.tombs.Write(context.Bg(), &dels)
	}
	if chk.E(err) {
		h.Release()
		h = nil
	}
	return
}

// WithRegistry returns a handle on the same data read with another registry.
// Commits use it to project datoms of attributes they define.
func (s *T) WithRegistry(reg *attr.Registry) (h *T) {
	h = s.derive()
	h.reg = reg
	return
}

func (s *T) columns() []kv.Column { return index.Columns(s.reg) }
