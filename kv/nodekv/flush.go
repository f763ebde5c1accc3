package nodekv

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/errgroup"

	"datom.lol/kv"
	"datom.lol/node"
)

// nodeWriter stores flushed nodes through a badger write batch. It is safe
// for concurrent use, as are the sequence and the write batch behind it.
type nodeWriter struct {
	b       *T
	wb      *badger.WriteBatch
	written atomic.Int64
	bytes   atomic.Int64
}

func (w *nodeWriter) Write(kind node.Kind, n []byte) (id uint64, err er) {
	if id, err = w.b.seq.Next(); err != nil {
		return 0, wrap(err, "node id")
	}
	// ids start at one
	id++
	rec := w.b.encode(n)
	if err = w.wb.Set(nodeKey(id), rec); err != nil {
		return 0, wrap(err, "write node")
	}
	w.written.Add(1)
	w.bytes.Add(int64(len(rec)))
	return
}

// flush writes every unflushed root, replaces the manifests and drops the
// pending records, then schedules the nodes nothing reaches anymore for
// deletion. Must be called with mx held.
func (b *T) flush() (err er) {
	cur := b.current.Load()
	roots := make([]*node.Index, len(cur.roots))
	copy(roots, cur.roots)
	w := &nodeWriter{b: b, wb: b.db.NewWriteBatch()}
	defer w.wb.Cancel()
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	var changed []byte
	for col, root := range cur.roots {
		if root == nil || root == b.stored[col] {
			continue
		}
		changed = append(changed, byte(col))
		g.Go(func() (err er) {
			roots[col], err = root.Flush(w)
			return
		})
	}
	if err = g.Wait(); chk.E(err) {
		return
	}
	if err = w.wb.Flush(); err != nil {
		return wrap(err, "flush nodes")
	}
	manifests := make(map[byte][]byte, len(changed))
	for _, col := range changed {
		if manifests[col], err = roots[col].MarshalBinary(); chk.E(err) {
			return
		}
	}
	if err = b.db.Update(func(txn *badger.Txn) (err er) {
		for col, m := range manifests {
			if err = txn.Set(manifestKey(col), m); err != nil {
				return
			}
		}
		return
	}); err != nil {
		return wrap(err, "manifests")
	}
	if err = b.dropPending(); err != nil {
		return
	}
	var obsolete []uint64
	for _, col := range changed {
		var now map[uint64]struct{}
		if now, err = reachable(roots[col]); chk.E(err) {
			return
		}
		for id := range b.reachable[col] {
			if _, ok := now[id]; !ok {
				obsolete = append(obsolete, id)
			}
		}
		b.reachable[col] = now
		b.stored[col] = roots[col]
	}
	b.pub.Lock()
	b.current.Store(&state{epoch: cur.epoch + 1, roots: roots})
	if len(obsolete) > 0 {
		b.garbage = append(b.garbage, garbage{epoch: cur.epoch, ids: obsolete})
	}
	b.pub.Unlock()
	log.I.F("flushed %d datoms into %d nodes (%d bytes), %d nodes obsolete",
		b.unflushed, w.written.Load(), w.bytes.Load(), len(obsolete))
	b.unflushed = 0
	return
}

// dropPending deletes every pending record. A crash before this completes
// replays batches the manifests already hold, which changes nothing.
func (b *T) dropPending() (err er) {
	var keys [][]byte
	if err = b.db.View(func(txn *badger.Txn) (err er) {
		prefix := Pending.Key()
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return
	}); err != nil {
		return wrap(err, "pending records")
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err = wb.Delete(k); err != nil {
			return wrap(err, "drop pending")
		}
	}
	return wrap(wb.Flush(), "drop pending")
}

// collect deletes scheduled nodes once no view of an epoch that could reach
// them is alive.
func (b *T) collect() {
	b.pub.Lock()
	oldest := b.current.Load().epoch
	b.live.Range(func(epoch uint64, n int) bool {
		if n > 0 && epoch < oldest {
			oldest = epoch
		}
		return true
	})
	var ids []uint64
	keep := b.garbage[:0]
	for _, g := range b.garbage {
		if g.epoch < oldest {
			ids = append(ids, g.ids...)
			continue
		}
		keep = append(keep, g)
	}
	b.garbage = keep
	b.pub.Unlock()
	if len(ids) == 0 {
		return
	}
	if err := b.deleteNodes(ids); chk.E(err) {
		// they stay unreachable and the next sweep at open removes them
		return
	}
	log.D.F("deleted %d obsolete nodes", len(ids))
}

func (b *T) deleteNodes(ids []uint64) (err er) {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		b.cache.Remove(id)
		if err = wb.Delete(nodeKey(id)); err != nil {
			return wrap(err, "delete node")
		}
	}
	return wrap(wb.Flush(), "delete nodes")
}

// FlushAndCompact flushes every pending datom, deletes obsolete nodes that
// are no longer visible and has badger compact its tables and value log.
func (b *T) FlushAndCompact(c cx) (err er) {
	if b.closed.Load() {
		return kv.ErrClosed
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.unflushed > 0 {
		if err = b.flush(); chk.E(err) {
			return
		}
	}
	b.collect()
	if err = c.Err(); err != nil {
		return
	}
	if b.opts.InMemory {
		return
	}
	if err = b.db.Flatten(runtime.NumCPU()); err != nil {
		return wrap(err, "flatten")
	}
	for c.Err() == nil {
		if err = b.db.RunValueLogGC(0.5); err != nil {
			break
		}
	}
	if errors.Is(err, badger.ErrNoRewrite) {
		err = nil
	}
	return wrap(err, "value log gc")
}
