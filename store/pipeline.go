package store

import (
	"github.com/pkg/errors"

	"datom.lol/attr"
	"datom.lol/context"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/ids"
	"datom.lol/kv"
	"datom.lol/valuetag"
)

// request is one unit of work for the writer.
type request struct {
	c    cx
	fn   func() (*Result, er)
	done chan outcome
}

type outcome struct {
	res *Result
	err er
}

// writer runs every write of the store, one at a time, in arrival order.
func (s *T) writer() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case r := <-s.reqs:
			var o outcome
			// a request is not interrupted once the writer picked it up
			switch {
			case s.failed != nil:
				o.err = s.failed
			default:
				if o.err = r.c.Err(); o.err == nil {
					o.res, o.err = r.fn()
				}
			}
			r.done <- o
		}
	}
}

// submit hands fn to the writer and waits for its outcome.
func (s *T) submit(c cx, fn func() (*Result, er)) (res *Result, err er) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	r := request{c: c, fn: fn, done: make(chan outcome, 1)}
	select {
	case s.reqs <- r:
	case <-c.Done():
		return nil, c.Err()
	case <-s.quit:
		return nil, ErrClosed
	}
	o := <-r.done
	return o.res, o.err
}

// commit projects datoms as transaction tx onto the latest snapshot, read
// with reg, writes them after the operations of pre and publishes the
// result. Every transaction is stamped with the store clock.
func (s *T) commit(tx ids.TxId, reg *attr.Registry, datoms []*datom.T, blobs db.Blobs,
	pre *kv.Batch) (res *Result, err er) {

	ts, _ := datom.New(tx.Entity(), attr.TxTimestamp, valuetag.Int64,
		stamp(s.opts.Clock().UnixMilli()), tx)
	datoms = append(datoms[:len(datoms):len(datoms)], ts)
	base := s.current.WithRegistry(reg)
	defer base.Release()
	var p *db.Projection
	if p, err = base.Project(tx, datoms, blobs); err != nil {
		return
	}
	b := p.Batch
	if pre != nil && pre.Len() > 0 {
		b = &kv.Batch{Ops: make([]kv.Op, 0, pre.Len()+p.Batch.Len())}
		b.Append(pre)
		b.Append(p.Batch)
	}
	s.reg.Store(reg)
	if err = s.backend.Write(context.Bg(), b); chk.E(err) {
		s.reg.Store(s.current.Registry())
		return
	}
	s.last = tx
	var v kv.View
	if v, err = s.view(); err != nil {
		s.failed = errors.Wrapf(ErrFailed, "%s is written but cannot be read: %v", tx, err)
		log.E.Ln(s.failed)
		return nil, s.failed
	}
	snap := db.New(v, tx, reg)
	s.publish(snap)
	s.commits.Inc()
	log.T.F("%s wrote %d operations", tx, b.Len())
	return &Result{Tx: tx, Datoms: p.Datoms, Snapshot: snap.Retain()}, nil
}

// viewAttempts bounds the tries to read back a commit.
const viewAttempts = 3

// view opens a view of the backend after a write. Nothing can be published
// without one, so a failure is retried before it is given up on.
func (s *T) view() (v kv.View, err er) {
	for range viewAttempts {
		if v, err = s.backend.View(); !chk.E(err) {
			return
		}
	}
	return
}

func stamp(ms int64) by {
	b, _ := valuetag.Encode(valuetag.Int64, ms)
	return b
}

// FlushAndCompact has the backend persist and reclaim space. It runs between
// commits.
func (s *T) FlushAndCompact(c cx) (err er) {
	_, err = s.submit(c, func() (*Result, er) {
		return nil, s.backend.FlushAndCompact(c)
	})
	return
}
