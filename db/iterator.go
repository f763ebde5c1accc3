package db

import (
	"bytes"

	"github.com/pkg/errors"

	"datom.lol/compare"
	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv"
)

// source is a positioned walk over the keys of one column in one direction.
// Seek finds the first key at or after a key in the direction of the walk.
type source interface {
	seek(key by)
	rewind()
	step()
	valid() bo
	key() by
	err() er
	close()
}

// walk gives a backend iterator a direction.
type walk struct {
	it      kv.Iterator
	reverse bo
}

func (w *walk) seek(key by) {
	if w.reverse {
		w.it.SeekForPrev(key)
		return
	}
	w.it.Seek(key)
}

func (w *walk) rewind() {
	if w.reverse {
		w.it.Last()
		return
	}
	w.it.First()
}

func (w *walk) step() {
	if w.reverse {
		w.it.Prev()
		return
	}
	w.it.Next()
}

func (w *walk) valid() bo { return w.it.Valid() }
func (w *walk) key() by   { return w.it.Key() }
func (w *walk) err() er   { return w.it.Err() }
func (w *walk) close()    { w.it.Close() }

// merged lays the datoms of a speculative overlay over the snapshot. Keys the
// overlay removed are skipped, and where both sides hold a key the overlay
// wins.
type merged struct {
	base, adds source
	tombs      kv.View
	views      []kv.View
	col        byte
	cmp        compare.Fn
	reverse    bo
	cur        source
	e          er
}

func (m *merged) seek(key by) {
	m.base.seek(key)
	m.adds.seek(key)
	m.settle()
}

func (m *merged) rewind() {
	m.base.rewind()
	m.adds.rewind()
	m.settle()
}

func (m *merged) step() {
	if m.cur == nil {
		return
	}
	m.cur.step()
	m.settle()
}

func (m *merged) settle() {
	m.cur = nil
	for {
		for m.e == nil && m.base.valid() && m.removed(m.base.key()) {
			m.base.step()
		}
		if m.e != nil {
			return
		}
		bv, av := m.base.valid(), m.adds.valid()
		switch {
		case !bv && !av:
			return
		case !bv:
			m.cur = m.adds
			return
		case !av:
			m.cur = m.base
			return
		}
		c := m.cmp(m.base.key(), m.adds.key())
		if m.reverse {
			c = -c
		}
		switch {
		case c < 0:
			m.cur = m.base
		case c > 0:
			m.cur = m.adds
		default:
			m.base.step()
			continue
		}
		return
	}
}

func (m *merged) removed(key by) bo {
	_, _, err := m.tombs.Get(m.col, key)
	switch {
	case err == nil:
		return true
	case !errors.Is(err, kv.ErrNotFound):
		m.e = err
	}
	return false
}

func (m *merged) valid() bo { return m.e == nil && m.cur != nil }
func (m *merged) key() by   { return m.cur.key() }

func (m *merged) err() er {
	switch {
	case m.e != nil:
		return m.e
	case m.base.err() != nil:
		return m.base.err()
	}
	return m.adds.err()
}

func (m *merged) close() {
	m.base.close()
	m.adds.close()
	for _, v := range m.views {
		v.Release()
	}
}

// collapse turns a history index into the current index as of a transaction:
// of every fact it yields the latest datom at or before the bound, unless
// that is a retraction. The datoms of a fact are adjacent in every history
// order, oldest first.
type collapse struct {
	src     source
	r       compare.Resolver
	asOf    ids.TxId
	reverse bo
	out     by
}

func (c *collapse) seek(key by) {
	c.src.seek(factEdge(key, c.reverse))
	c.next()
}

func (c *collapse) rewind() {
	c.src.rewind()
	c.next()
}

func (c *collapse) step() { c.next() }

func (c *collapse) next() {
	c.out = nil
	for c.src.valid() {
		first := bytes.Clone(c.src.key())
		var pick by
		for ; c.src.valid() && compare.SameFact(c.r, first, c.src.key()); c.src.step() {
			k := c.src.key()
			if datom.TxOf(k) > c.asOf {
				continue
			}
			// walking backwards the first one seen is the latest
			if !c.reverse || pick == nil {
				pick = bytes.Clone(k)
			}
		}
		if pick != nil && !datom.IsRetract(pick) {
			c.out = pick
			return
		}
	}
}

func (c *collapse) valid() bo { return c.out != nil }
func (c *collapse) key() by   { return c.out }
func (c *collapse) err() er   { return c.src.err() }
func (c *collapse) close()    { c.src.close() }

// factEdge moves a seek key to the edge of its fact, so that a collapsed walk
// always sees every datom of the first fact it lands on.
func factEdge(key by, reverse bo) (edge by) {
	p, err := datom.ReadPrefix(key)
	if err != nil {
		return key
	}
	edge = bytes.Clone(key)
	p.Tx, p.Retract = 0, false
	if reverse {
		p.Tx, p.Retract = maxTx, true
	}
	p.Put(edge)
	return
}

// bounded hides datoms of transactions after asOf.
type bounded struct {
	source
	asOf ids.TxId
}

func (b *bounded) skip() {
	for b.source.valid() && datom.TxOf(b.source.key()) > b.asOf {
		b.source.step()
	}
}

func (b *bounded) seek(key by) { b.source.seek(key); b.skip() }
func (b *bounded) rewind()     { b.source.rewind(); b.skip() }
func (b *bounded) step()       { b.source.step(); b.skip() }

// Iterator walks the datoms of a slice. It starts before the first datom;
// every Next moves it one datom on until it runs off the slice, which is not
// an error.
type Iterator struct {
	src     source
	cmp     compare.Fn
	sl      Slice
	d       *datom.T
	started bo
	primed  bo
	done    bo
	e       er
}

// Datoms opens an iterator over a slice. In an AsOf snapshot a current index
// is read from its history index, and history reads stop at the bound.
func (s *T) Datoms(sl Slice) (it *Iterator, err er) {
	if err = s.live(); err != nil {
		return
	}
	if !sl.Index.IsDatoms() {
		err = errors.Errorf("%s is not a datom index", sl.Index)
		return
	}
	cmp := compare.WithResolver(sl.Index.Order(), s.reg)
	col := sl.Index
	if s.asOf != 0 {
		if col.IsCurrent() {
			col = col.History()
		}
		if col == index.TxLog {
			limit := bound(s.asOf+1, 0, 0, false, 0, nil)
			if sl.To == nil || cmp(limit, sl.To) < 0 {
				sl.To = limit
			}
		}
	}
	var src source
	if src, err = s.open(byte(col), cmp, sl.Reverse); err != nil {
		return
	}
	switch {
	case s.asOf != 0 && sl.Index.IsCurrent():
		src = &collapse{src: src, r: s.reg, asOf: s.asOf, reverse: sl.Reverse}
	case s.asOf != 0 && sl.Index != index.TxLog:
		src = &bounded{source: src, asOf: s.asOf}
	}
	return &Iterator{src: src, cmp: cmp, sl: sl}, nil
}

// open walks one column of the snapshot, with the overlay of a speculative
// snapshot merged in.
func (s *T) open(col byte, cmp compare.Fn, reverse bo) (src source, err er) {
	var it kv.Iterator
	if it, err = s.v.view.Iterator(col); err != nil {
		return
	}
	src = &walk{it: it, reverse: reverse}
	if s.overlay == nil {
		return
	}
	m := &merged{base: src, col: col, cmp: cmp, reverse: reverse}
	var adds, tombs kv.View
	if adds, err = s.overlay.View(); err != nil {
		src.close()
		return nil, err
	}
	if tombs, err = s.tombs.View(); err != nil {
		adds.Release()
		src.close()
		return nil, err
	}
	m.views, m.tombs = []kv.View{adds, tombs}, tombs
	var ai kv.Iterator
	if ai, err = adds.Iterator(col); err != nil {
		m.views = m.views[:0]
		adds.Release()
		tombs.Release()
		src.close()
		return nil, err
	}
	m.adds = &walk{it: ai, reverse: reverse}
	return m, nil
}

func (it *Iterator) position() {
	sl := it.sl
	switch {
	case !sl.Reverse && sl.From != nil:
		it.seek(sl.From, false)
	case sl.Reverse && sl.To != nil:
		it.seek(sl.To, true)
	default:
		it.src.rewind()
	}
}

// seek positions the source on the first key at or after key in the
// direction of the walk, or strictly before it when exclusive. A collapsed
// source seeks to the edge of a fact, so the datom it yields may lie on the
// wrong side of key and is stepped over.
func (it *Iterator) seek(key by, exclusive bo) {
	it.src.seek(key)
	for it.src.valid() {
		c := it.cmp(it.src.key(), key)
		if it.sl.Reverse {
			c = -c
		}
		if c > 0 || (c == 0 && !exclusive) {
			return
		}
		it.src.step()
	}
}

func (it *Iterator) inside(k by) bo {
	return (it.sl.From == nil || it.cmp(k, it.sl.From) >= 0) &&
		(it.sl.To == nil || it.cmp(k, it.sl.To) < 0)
}

// Next moves to the next datom and reports whether there is one.
func (it *Iterator) Next() bo {
	if it.e != nil || it.done {
		return false
	}
	switch {
	case it.primed:
		it.primed = false
	case !it.started:
		it.started = true
		it.position()
	default:
		it.src.step()
	}
	if it.src.valid() {
		if k := it.src.key(); it.inside(k) {
			if it.d, it.e = datom.Decode(bytes.Clone(k)); it.e != nil {
				it.d = nil
				return false
			}
			return true
		}
	}
	it.e = it.src.err()
	it.done, it.d = true, nil
	return false
}

// Seek moves the iterator so that the following Next lands on the first
// datom at or after key in the direction of the walk. Keys outside the slice
// are clamped to it.
func (it *Iterator) Seek(key by) {
	if it.e != nil {
		return
	}
	if len(key) < datom.PrefixLen {
		it.e = errors.Wrapf(datom.ErrCorruptKey, "seek key of %d bytes", len(key))
		return
	}
	it.started, it.primed, it.done, it.d = true, true, false, nil
	sl := it.sl
	switch {
	case !sl.Reverse && sl.From != nil && it.cmp(key, sl.From) < 0,
		sl.Reverse && sl.To != nil && it.cmp(key, sl.To) >= 0:
		it.position()
	default:
		it.seek(key, false)
	}
}

// Datom is the datom Next moved to. It does not change when the iterator
// moves on.
func (it *Iterator) Datom() *datom.T { return it.d }

func (it *Iterator) Err() er { return it.e }

// Close releases the backend iterators. It must be called before the
// snapshot is released.
func (it *Iterator) Close() { it.src.close() }

// Collect reads a whole slice.
func (s *T) Collect(sl Slice) (out []*datom.T, err er) {
	var it *Iterator
	if it, err = s.Datoms(sl); err != nil {
		return
	}
	defer it.Close()
	for it.Next() {
		out = append(out, it.Datom())
	}
	err = it.Err()
	return
}
