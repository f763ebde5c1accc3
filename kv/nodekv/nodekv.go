// Package nodekv is the durable kv backend. Every datom column is a node.Index
// tree; badger holds the packed nodes, one manifest per column naming the
// flushed root, and the batches written since the last flush. Columns that
// are not made of datoms are stored in badger directly.
//
// A write ingests into new in-memory roots, records the batch as a pending
// record and publishes the roots. Once enough datoms are pending the roots
// are flushed: new nodes are written, manifests replaced and the pending
// records dropped. Nodes the new manifests no longer reach are deleted once
// every view that could still read them has been released.
package nodekv

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/klauspost/compress/zstd"
	"github.com/puzpuzpuz/xsync/v3"

	"datom.lol/kv"
	"datom.lol/lol"
	"datom.lol/node"
	"datom.lol/units"
)

// FormatVersion is the version of the records written by this package.
const FormatVersion = 1

// Options configure a backend.
type Options struct {
	// Dir is where badger keeps its files. Ignored when InMemory is set.
	Dir      st
	InMemory bo
	// NodeSize is the target number of datoms in a packed node.
	NodeSize no
	// Fanout is the largest number of children of an index node.
	Fanout no
	// FlushThreshold is the number of pending datoms that triggers a flush.
	FlushThreshold no
	// NodeCache is the number of resolved nodes kept in memory.
	NodeCache no
	// BlockCache is the size of badger's block cache in bytes.
	BlockCache int64
	// Compress packed nodes with zstd.
	Compress bo
	// LogLevel is the lol level of badger's own messages.
	LogLevel no
}

// DefaultOptions returns options for a database in dir.
func DefaultOptions(dir st) Options {
	return Options{
		Dir:            dir,
		NodeSize:       512,
		Fanout:         64,
		FlushThreshold: 16384,
		NodeCache:      4096,
		BlockCache:     64 * units.MiB,
		Compress:       true,
		LogLevel:       1,
	}
}

// state is what a view sees: the roots as of one published write.
type state struct {
	epoch uint64
	roots []*node.Index // by column id, nil for other columns
}

// garbage are nodes that became unreachable when epoch was superseded.
type garbage struct {
	epoch uint64
	ids   []uint64
}

// T is a badger backed kv.I.
type T struct {
	opts   Options
	Logger *logger
	db     *badger.DB
	seq    *badger.Sequence
	cols   []*kv.Column
	trees  []*node.Tree
	cache  *node.LRU
	enc    *zstd.Encoder
	dec    *zstd.Decoder

	// mx serializes writers, flushes and compaction.
	mx sync.Mutex
	// pub is held for writing while a write becomes visible, and for reading
	// while a view is taken, so a view pairs a state with the badger snapshot
	// of the same write.
	pub     sync.RWMutex
	current atomic.Pointer[state]
	closed  atomic.Bool

	pending   uint64 // sequence of the next pending record
	unflushed no     // datom ops since the last flush
	reachable []map[uint64]struct{}
	stored    []*node.Index // roots the manifests name
	garbage   []garbage
	live      *xsync.MapOf[uint64, int]
	loads     *xsync.Counter
}

var _ kv.I = (*T)(nil)

// Open opens or creates the database and restores every column: manifests
// become reference trees and pending records are replayed on top of them.
func Open(opts Options, cols []kv.Column) (b *T, err er) {
	b = &T{
		opts:      opts,
		cols:      make([]*kv.Column, 256),
		trees:     make([]*node.Tree, 256),
		reachable: make([]map[uint64]struct{}, 256),
		stored:    make([]*node.Index, 256),
		live:      xsync.NewMapOf[uint64, int](),
		loads:     xsync.NewCounter(),
	}
	if b.cache, err = node.NewLRU(opts.NodeCache); chk.E(err) {
		return
	}
	if b.enc, err = zstd.NewWriter(nil); chk.E(err) {
		return
	}
	if b.dec, err = zstd.NewReader(nil); chk.E(err) {
		return
	}
	roots := make([]*node.Index, 256)
	for i := range cols {
		c := cols[i]
		b.cols[c.ID] = &c
		if !c.Datoms {
			continue
		}
		b.trees[c.ID] = &node.Tree{Cmp: c.Comparator, Target: opts.NodeSize,
			Fanout: opts.Fanout, Loader: b, Cache: b.cache}
	}
	label := opts.Dir
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
		label = "memory"
	}
	log.I.Ln("opening datom store at", label)
	bopts.BlockCacheSize = opts.BlockCache
	bopts.BlockSize = 64 * units.KiB
	bopts.CompactL0OnClose = true
	bopts.Compression = options.None
	b.Logger = NewLogger(opts.LogLevel, label)
	bopts.Logger = b.Logger
	if b.db, err = badger.Open(bopts); err != nil {
		return nil, wrap(err, "open")
	}
	if b.seq, err = b.db.GetSequence(Sequence.Key(), 1000); err != nil {
		b.db.Close()
		return nil, wrap(err, "sequence")
	}
	if err = b.restore(roots); err != nil {
		b.seq.Release()
		b.db.Close()
		return nil, err
	}
	b.current.Store(&state{epoch: 1, roots: roots})
	return
}

func wrap(err er, what st) er {
	if err == nil {
		return nil
	}
	return errorf.E("%w: %s: %w", kv.ErrBackendFailure, what, err)
}

func (b *T) restore(roots []*node.Index) (err er) {
	if err = b.db.Update(func(txn *badger.Txn) (err er) {
		var item *badger.Item
		if item, err = txn.Get(Version.Key()); errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(Version.Key(), u64(FormatVersion))
		} else if err != nil {
			return
		}
		return item.Value(func(val by) (err er) {
			if len(val) != 8 || binary.BigEndian.Uint64(val) != FormatVersion {
				err = errorf.E("database format %x, this build reads %d", val, FormatVersion)
			}
			return
		})
	}); err != nil {
		return wrap(err, "version")
	}
	for id, t := range b.trees {
		if t == nil {
			continue
		}
		roots[id] = t.Empty()
		var m by
		if err = b.db.View(func(txn *badger.Txn) (err er) {
			var item *badger.Item
			if item, err = txn.Get(manifestKey(byte(id))); errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			} else if err != nil {
				return
			}
			m, err = item.ValueCopy(nil)
			return
		}); err != nil {
			return wrap(err, "manifest")
		}
		if m != nil {
			if roots[id], err = t.UnmarshalIndex(m); chk.E(err) {
				return
			}
		}
		if b.reachable[id], err = reachable(roots[id]); chk.E(err) {
			return
		}
		b.stored[id] = roots[id]
		log.D.F("column %s: %d datoms flushed", b.cols[id].Name, roots[id].DeepLen())
	}
	if err = b.sweep(); err != nil {
		return
	}
	return b.replay(roots)
}

// reachable collects the ids of every stored node under root.
func reachable(root *node.Index) (ids map[uint64]struct{}, err er) {
	ids = make(map[uint64]struct{})
	err = root.References(func(id uint64, kind node.Kind) { ids[id] = struct{}{} })
	return
}

// sweep deletes stored nodes no manifest reaches, left behind by a flush
// that did not complete.
func (b *T) sweep() (err er) {
	var orphans []uint64
	if err = b.db.View(func(txn *badger.Txn) (err er) {
		prefix := Node.Key()
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := binary.BigEndian.Uint64(it.Item().Key()[1:])
			if !b.isReachable(id) {
				orphans = append(orphans, id)
			}
		}
		return
	}); err != nil {
		return wrap(err, "sweep")
	}
	if len(orphans) == 0 {
		return
	}
	log.I.F("deleting %d orphaned nodes", len(orphans))
	return b.deleteNodes(orphans)
}

func (b *T) isReachable(id uint64) bo {
	for _, r := range b.reachable {
		if _, ok := r[id]; ok {
			return true
		}
	}
	return false
}

// Load reads a stored node. A missing node is nil without error.
func (b *T) Load(id uint64) (n by, err er) {
	b.loads.Inc()
	if err = b.db.View(func(txn *badger.Txn) (err er) {
		var item *badger.Item
		if item, err = txn.Get(nodeKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return
		}
		n, err = item.ValueCopy(nil)
		return
	}); err != nil {
		return nil, wrap(err, "load node")
	}
	if n == nil {
		return
	}
	return b.decode(n)
}

const (
	plain      byte = 0
	compressed byte = 1
)

func (b *T) encode(n by) by {
	if !b.opts.Compress {
		return append(by{plain}, n...)
	}
	return b.enc.EncodeAll(n, by{compressed})
}

func (b *T) decode(n by) (out by, err er) {
	if len(n) == 0 {
		return nil, errorf.E("%w: empty node record", node.ErrCorruptNode)
	}
	switch n[0] {
	case plain:
		return n[1:], nil
	case compressed:
		if out, err = b.dec.DecodeAll(n[1:], nil); err != nil {
			return nil, errorf.E("%w: %w", node.ErrCorruptNode, err)
		}
		return
	}
	return nil, errorf.E("%w: node record flag %d", node.ErrCorruptNode, n[0])
}

// Loads is the number of nodes read from badger since Open.
func (b *T) Loads() int64 { return b.loads.Value() }

// SetLogLevel changes the level of badger's messages.
func (b *T) SetLogLevel(level st) {
	log.I.F("setting db log level %s", level)
	b.Logger.SetLogLevel(lol.GetLogLevel(level))
}

// Close flushes pending datoms so the next Open has nothing to replay.
func (b *T) Close() (err er) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed.Swap(true) {
		return kv.ErrClosed
	}
	if b.unflushed > 0 {
		chk.E(b.flush())
	}
	chk.E(b.seq.Release())
	if err = b.db.Close(); chk.E(err) {
		return wrap(err, "close")
	}
	b.enc.Close()
	b.dec.Close()
	log.I.F("datom store closed")
	return
}
