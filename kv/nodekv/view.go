package nodekv

import (
	"bytes"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"datom.lol/kv"
	"datom.lol/node"
)

// View pins the current roots and opens a badger read transaction for the
// other columns. Until Release, no node the roots reach is deleted.
func (b *T) View() (v kv.View, err er) {
	if b.closed.Load() {
		return nil, kv.ErrClosed
	}
	b.pub.RLock()
	defer b.pub.RUnlock()
	s := b.current.Load()
	b.live.Compute(s.epoch, func(n int, loaded bool) (int, bool) { return n + 1, false })
	return &view{b: b, s: s, txn: b.db.NewTransaction(false)}, nil
}

type view struct {
	b        *T
	s        *state
	txn      *badger.Txn
	released atomic.Bool
}

func (v *view) Get(col byte, key by) (k, val by, err er) {
	if v.b.cols[col] == nil {
		return nil, nil, errors.Wrapf(kv.ErrBackendFailure, "unknown column %d", col)
	}
	if root := v.s.roots[col]; root != nil {
		var pos no
		if pos, err = root.Find(key); err != nil {
			return
		}
		if pos == root.DeepLen() {
			return nil, nil, kv.ErrNotFound
		}
		if k, err = root.Key(nil, pos); err != nil {
			return
		}
		if root.Tree().Cmp(k, key) != 0 {
			return nil, nil, kv.ErrNotFound
		}
		return k, by{}, nil
	}
	var item *badger.Item
	if item, err = v.txn.Get(columnKey(col, key)); errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, kv.ErrNotFound
	} else if err != nil {
		return nil, nil, wrap(err, "get")
	}
	if val, err = item.ValueCopy(nil); err != nil {
		return nil, nil, wrap(err, "get")
	}
	return bytes.Clone(key), val, nil
}

func (v *view) Iterator(col byte) (it kv.Iterator, err er) {
	if v.b.cols[col] == nil {
		return nil, errors.Wrapf(kv.ErrBackendFailure, "unknown column %d", col)
	}
	if root := v.s.roots[col]; root != nil {
		return &cursor{Cursor: root.Cursor()}, nil
	}
	return &columnIterator{txn: v.txn, prefix: columnPrefix(col)}, nil
}

// Release unpins the roots. Nodes they alone reach are deleted by the next
// write or compaction.
func (v *view) Release() {
	if v.released.Swap(true) {
		return
	}
	v.b.live.Compute(v.s.epoch, func(n int, loaded bool) (int, bool) { return n - 1, n <= 1 })
	v.txn.Discard()
}

// cursor adapts a node cursor to kv.Iterator. Datom columns hold no values.
type cursor struct {
	*node.Cursor
}

func (c *cursor) Value() by { return nil }
func (c *cursor) Close()    {}

// columnIterator walks one plain column with a forward and a reverse badger
// iterator, switching between them when the direction changes.
type columnIterator struct {
	txn      *badger.Txn
	prefix   by
	fwd, rev *badger.Iterator
	it       *badger.Iterator
	key, val by
	err      er
}

func (c *columnIterator) forward() *badger.Iterator {
	if c.fwd == nil {
		c.fwd = c.txn.NewIterator(badger.IteratorOptions{Prefix: c.prefix, PrefetchValues: true,
			PrefetchSize: 16})
	}
	c.it = c.fwd
	return c.fwd
}

func (c *columnIterator) reverse() *badger.Iterator {
	if c.rev == nil {
		c.rev = c.txn.NewIterator(badger.IteratorOptions{Reverse: true})
	}
	c.it = c.rev
	return c.rev
}

// load copies out the current entry, or clears it when the iterator left the
// column.
func (c *columnIterator) load() {
	c.key, c.val = nil, nil
	if c.it == nil || !c.it.ValidForPrefix(c.prefix) {
		return
	}
	item := c.it.Item()
	c.key = item.KeyCopy(nil)[len(c.prefix):]
	if c.val, c.err = item.ValueCopy(nil); c.err != nil {
		c.err = wrap(c.err, "iterate")
	}
}

func (c *columnIterator) Seek(key by) {
	c.forward().Seek(append(bytes.Clone(c.prefix), key...))
	c.load()
}

func (c *columnIterator) SeekForPrev(key by) {
	c.reverse().Seek(append(bytes.Clone(c.prefix), key...))
	c.load()
}

func (c *columnIterator) First() {
	c.forward().Seek(c.prefix)
	c.load()
}

func (c *columnIterator) Last() {
	// the first key of the next column, if there is one, is the only key at
	// or before this bound outside the column
	end := bytes.Clone(c.prefix)
	end[len(end)-1]++
	it := c.reverse()
	it.Seek(end)
	if it.Valid() && bytes.Equal(it.Item().Key(), end) {
		it.Next()
	}
	c.load()
}

func (c *columnIterator) Next() {
	if c.key == nil {
		return
	}
	if c.it == c.rev {
		cur := append(bytes.Clone(c.prefix), c.key...)
		it := c.forward()
		it.Seek(cur)
		if it.ValidForPrefix(c.prefix) && bytes.Equal(it.Item().Key(), cur) {
			it.Next()
		}
		c.load()
		return
	}
	c.it.Next()
	c.load()
}

func (c *columnIterator) Prev() {
	if c.key == nil {
		return
	}
	if c.it == c.fwd {
		cur := append(bytes.Clone(c.prefix), c.key...)
		it := c.reverse()
		it.Seek(cur)
		if it.ValidForPrefix(c.prefix) && bytes.Equal(it.Item().Key(), cur) {
			it.Next()
		}
		c.load()
		return
	}
	c.it.Next()
	c.load()
}

func (c *columnIterator) Valid() bo { return c.err == nil && c.key != nil }
func (c *columnIterator) Key() by   { return c.key }
func (c *columnIterator) Value() by { return c.val }
func (c *columnIterator) Err() er   { return c.err }

func (c *columnIterator) Close() {
	if c.fwd != nil {
		c.fwd.Close()
	}
	if c.rev != nil {
		c.rev.Close()
	}
	c.key = nil
}
