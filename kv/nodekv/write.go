package nodekv

import (
	"encoding/binary"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"datom.lol/datom"
	"datom.lol/kv"
	"datom.lol/node"
	"datom.lol/varint"
)

// changes are the net adds and removes of one datom column.
type changes struct {
	adds, removes [][]byte
}

// net reduces the datom ops of a batch to the last op per key and column.
func (b *T) net(ops []kv.Op) (per map[byte]*changes) {
	per = make(map[byte]*changes)
	byCol := make(map[byte][]kv.Op)
	for _, op := range ops {
		if b.trees[op.Col] != nil {
			byCol[op.Col] = append(byCol[op.Col], op)
		}
	}
	for col, list := range byCol {
		cmp := b.trees[col].Cmp
		slices.SortStableFunc(list, func(x, y kv.Op) int { return cmp(x.Key, y.Key) })
		c := &changes{}
		for i, op := range list {
			if i+1 < len(list) && cmp(op.Key, list[i+1].Key) == 0 {
				continue
			}
			if op.Delete {
				c.removes = append(c.removes, op.Key)
			} else {
				c.adds = append(c.adds, op.Key)
			}
		}
		per[col] = c
	}
	return
}

// ingest returns new roots with the changes applied, one column per goroutine.
func (b *T) ingest(roots []*node.Index, per map[byte]*changes) (next []*node.Index, err er) {
	next = slices.Clone(roots)
	var g errgroup.Group
	for col, c := range per {
		g.Go(func() (err er) {
			next[col], err = roots[col].Ingest(node.FromKeys(c.adds), node.FromKeys(c.removes))
			return
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	return
}

func (b *T) validate(batch *kv.Batch) (err er) {
	for _, op := range batch.Ops {
		if b.cols[op.Col] == nil {
			return errors.Wrapf(kv.ErrBackendFailure, "unknown column %d", op.Col)
		}
		if b.trees[op.Col] != nil {
			if _, _, err = datom.Read(op.Key); err != nil {
				return errors.Wrapf(err, "column %s", b.cols[op.Col].Name)
			}
		}
	}
	return
}

// Write records the batch and publishes the new roots. The pending record and
// the ops on plain columns commit in one badger transaction; the roots are
// published after that commit and under the same lock views are taken with.
func (b *T) Write(c cx, batch *kv.Batch) (err er) {
	if b.closed.Load() {
		return kv.ErrClosed
	}
	if err = b.validate(batch); err != nil {
		return
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed.Load() {
		return kv.ErrClosed
	}
	cur := b.current.Load()
	per := b.net(batch.Ops)
	var roots []*node.Index
	if roots, err = b.ingest(cur.roots, per); chk.E(err) {
		return
	}
	record := encodePending(per)
	b.pub.Lock()
	err = b.db.Update(func(txn *badger.Txn) (err er) {
		if len(per) > 0 {
			if err = txn.Set(pendingKey(b.pending), record); err != nil {
				return
			}
		}
		for _, op := range batch.Ops {
			if b.trees[op.Col] != nil {
				continue
			}
			if op.Delete {
				err = txn.Delete(columnKey(op.Col, op.Key))
			} else {
				err = txn.Set(columnKey(op.Col, op.Key), op.Value)
			}
			if err != nil {
				return
			}
		}
		return
	})
	if err != nil {
		b.pub.Unlock()
		return wrap(err, "write")
	}
	b.current.Store(&state{epoch: cur.epoch + 1, roots: roots})
	b.pub.Unlock()
	if len(per) > 0 {
		b.pending++
	}
	for _, ch := range per {
		b.unflushed += len(ch.adds) + len(ch.removes)
	}
	if b.unflushed >= b.opts.FlushThreshold {
		if err = b.flush(); chk.E(err) {
			// the write itself is durable in its pending record
			log.W.F("flush after write failed, will retry: %v", err)
			err = nil
		}
	}
	b.collect()
	return
}

// encodePending serializes net changes: per column its id, the number of adds
// and removes, then the length prefixed keys.
func encodePending(per map[byte]*changes) (b by) {
	cols := make([]byte, 0, len(per))
	for col := range per {
		cols = append(cols, col)
	}
	slices.Sort(cols)
	for _, col := range cols {
		c := per[col]
		b = append(b, col)
		b = varint.Append(b, uint64(len(c.adds)))
		b = varint.Append(b, uint64(len(c.removes)))
		for _, k := range c.adds {
			b = varint.Append(b, uint64(len(k)))
			b = append(b, k...)
		}
		for _, k := range c.removes {
			b = varint.Append(b, uint64(len(k)))
			b = append(b, k...)
		}
	}
	return
}

func decodePending(b by) (per map[byte]*changes, err er) {
	per = make(map[byte]*changes)
	keys := func(n uint64) (list [][]byte, err er) {
		for range n {
			var l uint64
			if l, b, err = varint.Read(b); err != nil {
				return
			}
			if uint64(len(b)) < l {
				return nil, errors.New("truncated pending key")
			}
			list = append(list, b[:l:l])
			b = b[l:]
		}
		return
	}
	for len(b) > 0 {
		col := b[0]
		b = b[1:]
		var na, nr uint64
		if na, b, err = varint.Read(b); err != nil {
			return
		}
		if nr, b, err = varint.Read(b); err != nil {
			return
		}
		c := &changes{}
		if c.adds, err = keys(na); err != nil {
			return
		}
		if c.removes, err = keys(nr); err != nil {
			return
		}
		per[col] = c
	}
	return
}

// replay applies the pending records in the order they were written.
func (b *T) replay(roots []*node.Index) (err er) {
	var n no
	if err = b.db.View(func(txn *badger.Txn) (err er) {
		prefix := Pending.Key()
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true,
			PrefetchSize: 100})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v by
			if v, err = it.Item().ValueCopy(nil); err != nil {
				return
			}
			var per map[byte]*changes
			if per, err = decodePending(v); err != nil {
				return errors.Wrapf(err, "pending record %x", it.Item().Key())
			}
			for col := range per {
				if b.trees[col] == nil {
					return errors.Errorf("pending record for unknown column %d", col)
				}
			}
			var next []*node.Index
			if next, err = b.ingest(roots, per); err != nil {
				return
			}
			copy(roots, next)
			for _, c := range per {
				b.unflushed += len(c.adds) + len(c.removes)
			}
			b.pending = binary.BigEndian.Uint64(it.Item().Key()[1:]) + 1
			n++
		}
		return
	}); err != nil {
		return wrap(err, "replay")
	}
	if n > 0 {
		log.I.F("replayed %d pending batches, %d datoms", n, b.unflushed)
	}
	return
}
