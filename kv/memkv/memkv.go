// Package memkv is an in-memory kv backend. Every column is a copy-on-write
// B-tree ordered by the column comparator; a write clones the trees it
// touches and publishes the result, so a view is just the set of trees that
// was current when it was taken.
package memkv

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"datom.lol/kv"
)

const degree = 32

type item struct {
	key, value by
}

type tree = btree.BTreeG[item]

// T is an in-memory backend.
type T struct {
	mx      sync.Mutex // serializes writers
	cols    []*kv.Column
	current atomic.Pointer[[]*tree]
	closed  atomic.Bool
	writes  atomic.Uint64
}

var _ kv.I = (*T)(nil)

// New creates an empty backend with the given columns.
func New(cols []kv.Column) (b *T) {
	b = &T{cols: make([]*kv.Column, 256)}
	trees := make([]*tree, 256)
	for i := range cols {
		c := cols[i]
		b.cols[c.ID] = &c
		trees[c.ID] = btree.NewG[item](degree, func(x, y item) bool {
			return c.Comparator(x.key, y.key) < 0
		})
	}
	b.current.Store(&trees)
	log.D.F("memkv with %d columns", len(cols))
	return
}

// Clone returns a backend starting out with the current content of b. Later
// writes to either are not seen by the other.
func (b *T) Clone() (c *T) {
	c = &T{cols: b.cols}
	trees := slices.Clone(*b.current.Load())
	for i, t := range trees {
		if t != nil {
			trees[i] = t.Clone()
		}
	}
	c.current.Store(&trees)
	return
}

// Write applies the batch to clones of the current trees and publishes them.
func (b *T) Write(c cx, batch *kv.Batch) (err er) {
	if b.closed.Load() {
		return kv.ErrClosed
	}
	for _, op := range batch.Ops {
		if b.cols[op.Col] == nil {
			return errors.Wrapf(kv.ErrBackendFailure, "unknown column %d", op.Col)
		}
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	prev := *b.current.Load()
	next := make([]*tree, len(prev))
	copy(next, prev)
	cloned := make([]bo, len(prev))
	for _, op := range batch.Ops {
		if !cloned[op.Col] {
			next[op.Col] = next[op.Col].Clone()
			cloned[op.Col] = true
		}
		if op.Delete {
			next[op.Col].Delete(item{key: op.Key})
			continue
		}
		next[op.Col].ReplaceOrInsert(item{key: op.Key, value: op.Value})
	}
	b.current.Store(&next)
	b.writes.Add(1)
	return
}

// Writes is the number of batches applied.
func (b *T) Writes() uint64 { return b.writes.Load() }

// View returns the trees published by the last write.
func (b *T) View() (v kv.View, err er) {
	if b.closed.Load() {
		return nil, kv.ErrClosed
	}
	return &view{b: b, trees: *b.current.Load()}, nil
}

// FlushAndCompact has nothing to persist.
func (b *T) FlushAndCompact(c cx) (err er) {
	if b.closed.Load() {
		return kv.ErrClosed
	}
	log.D.F("memkv holds %d writes, nothing to flush", b.writes.Load())
	return
}

// Close drops the trees. Views taken before Close keep theirs.
func (b *T) Close() (err er) {
	if b.closed.Swap(true) {
		return kv.ErrClosed
	}
	return
}

type view struct {
	b     *T
	trees []*tree
}

func (v *view) tree(col byte) (t *tree, err er) {
	if t = v.trees[col]; t == nil {
		err = errors.Wrapf(kv.ErrBackendFailure, "unknown column %d", col)
	}
	return
}

func (v *view) Get(col byte, key by) (k, val by, err er) {
	var t *tree
	if t, err = v.tree(col); err != nil {
		return
	}
	it, ok := t.Get(item{key: key})
	if !ok {
		err = kv.ErrNotFound
		return
	}
	return it.key, it.value, nil
}

func (v *view) Iterator(col byte) (i kv.Iterator, err er) {
	var t *tree
	if t, err = v.tree(col); err != nil {
		return
	}
	return &iterator{t: t, cmp: v.b.cols[col].Comparator}, nil
}

func (v *view) Release() {}
