// Package store is the datom store: it owns the backend, serializes every
// write through a single writer goroutine and publishes an immutable
// snapshot after each commit.
//
// A transaction moves through five states. It is pending while the caller
// builds it, assigned once the writer gives it a transaction id and remaps its
// temp ids, indexed once it has been projected into every index, committed
// once the backend applied the batch, and observed once the new snapshot has
// been published to waiters and subscribers. Anything that fails before the
// backend write leaves no trace.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"datom.lol/attr"
	"datom.lol/config"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv"
	"datom.lol/kv/memkv"
	"datom.lol/kv/nodekv"
	"datom.lol/valuetag"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store closed")
	// ErrUniqueViolation is returned when a commit would give a unique
	// attribute value to a second entity.
	ErrUniqueViolation = db.ErrUniqueViolation
	// ErrFailed is returned by every write after a commit reached the backend
	// but could not be read back. The store has to be reopened.
	ErrFailed = errors.New("store failed")
)

// Options tune a store.
type Options struct {
	// SubscriberBuffer is the default channel size of a subscription.
	SubscriberBuffer no
	// Clock stamps transactions. Defaults to time.Now.
	Clock func() time.Time
}

// Result is the outcome of a commit. The caller owns Snapshot and must
// release it.
type Result struct {
	Tx       ids.TxId
	Remaps   ids.Remaps
	Datoms   []*datom.T
	Snapshot *db.T
}

// Release gives back the snapshot of the result.
func (r *Result) Release() {
	if r != nil && r.Snapshot != nil {
		r.Snapshot.Release()
	}
}

// registry is the schema of the latest commit. It orders the backend
// columns, so it has to be there before the backend is opened.
type registry struct {
	atomic.Pointer[attr.Registry]
}

func (r *registry) ValueComparer(a ids.AttributeId, tag valuetag.T) func(a, b []byte) int {
	return r.Load().ValueComparer(a, tag)
}

// T is a datom store.
type T struct {
	backend kv.I
	opts    Options
	reg     *registry

	mx      sync.RWMutex // guards current against release while it is retained
	current *db.T

	// owned by the writer
	last   ids.TxId
	alloc  *ids.Allocator
	failed er

	reqs    chan request
	quit    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	subs    *xsync.MapOf[uint64, *subscription]
	nextSub atomic.Uint64
	commits *xsync.Counter
}

// Columns returns the backend columns a store needs.
func Columns() []kv.Column { return index.Columns(attr.Bootstrap()) }

// Open builds the backend named in the configuration and opens a store on
// it.
func Open(c cx, cfg *config.C) (s *T, err er) {
	r := &registry{}
	r.Store(attr.Bootstrap())
	cols := index.Columns(r)
	var b kv.I
	switch cfg.Backend {
	case "memory":
		b = memkv.New(cols)
	case "badger":
		o := nodekv.DefaultOptions(cfg.DataDir)
		o.NodeSize, o.Fanout = cfg.NodeSize, cfg.NodeFanout
		o.FlushThreshold, o.NodeCache = cfg.FlushThreshold, cfg.NodeCache
		o.BlockCache = cfg.BlockCache
		o.Compress = cfg.Compression == "zstd"
		o.LogLevel = cfg.DBLogLevel()
		if b, err = nodekv.Open(o, cols); chk.E(err) {
			return
		}
	default:
		return nil, errors.Errorf("unknown backend %q", cfg.Backend)
	}
	if s, err = newStore(c, b, r, Options{SubscriberBuffer: cfg.SubscriberBuffer}); err != nil {
		chk.E(b.Close())
	}
	return
}

// New opens a store on a backend built with Columns. The store closes the
// backend when it is closed.
func New(c cx, backend kv.I, opts Options) (s *T, err er) {
	r := &registry{}
	r.Store(attr.Bootstrap())
	return newStore(c, backend, r, opts)
}

func newStore(c cx, backend kv.I, r *registry, opts Options) (s *T, err er) {
	if opts.SubscriberBuffer < 1 {
		opts.SubscriberBuffer = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s = &T{
		backend: backend,
		opts:    opts,
		reg:     r,
		reqs:    make(chan request),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		subs:    xsync.NewMapOf[uint64, *subscription](),
		commits: xsync.NewCounter(),
	}
	if err = s.recover(c); err != nil {
		return nil, err
	}
	go s.writer()
	return
}

// Snapshot returns the latest committed snapshot.
func (s *T) Snapshot() (snap *db.T, err er) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.current.Retain(), nil
}

// Registry is the schema of the latest commit.
func (s *T) Registry() *attr.Registry { return s.reg.Load() }

// Commits is the number of transactions committed since the store opened.
func (s *T) Commits() int64 { return s.commits.Value() }

// publish makes snap the latest snapshot. The store keeps its own handle.
func (s *T) publish(snap *db.T) {
	s.mx.Lock()
	old := s.current
	s.current = snap
	s.mx.Unlock()
	s.reg.Store(snap.Registry())
	if old != nil {
		old.Release()
	}
	s.notify(snap)
}

// Close stops the writer, ends every subscription and closes the backend.
func (s *T) Close() (err er) {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	close(s.quit)
	<-s.done
	s.subs.Range(func(id uint64, sub *subscription) bool {
		sub.close()
		return true
	})
	s.mx.Lock()
	s.current.Release()
	s.mx.Unlock()
	log.D.F("closing store after %d commits", s.commits.Value())
	return s.backend.Close()
}
