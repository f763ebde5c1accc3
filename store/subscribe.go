package store

import (
	"sync"

	"datom.lol/db"
)

type subscription struct {
	id      uint64
	mx      sync.Mutex
	ch      chan *db.T
	closed  bo
	dropped no
}

// Subscribe delivers the snapshot of every later commit on the returned
// channel. The receiver owns each snapshot and must release it. When the
// buffer is full the oldest undelivered snapshot is dropped, so the latest
// one is always there. cancel ends the subscription and closes the channel.
func (s *T) Subscribe(buffer no) (ch <-chan *db.T, cancel func()) {
	if buffer < 1 {
		buffer = s.opts.SubscriberBuffer
	}
	sub := &subscription{id: s.nextSub.Add(1), ch: make(chan *db.T, buffer)}
	s.subs.Store(sub.id, sub)
	if s.closed.Load() {
		s.subs.Delete(sub.id)
		sub.close()
	}
	return sub.ch, func() {
		s.subs.Delete(sub.id)
		sub.close()
	}
}

func (s *T) notify(snap *db.T) {
	s.subs.Range(func(id uint64, sub *subscription) bool {
		sub.send(snap)
		return true
	})
}

func (sub *subscription) send(snap *db.T) {
	sub.mx.Lock()
	defer sub.mx.Unlock()
	if sub.closed {
		return
	}
	h := snap.Retain()
	for {
		select {
		case sub.ch <- h:
			return
		default:
		}
		select {
		case old := <-sub.ch:
			old.Release()
			sub.dropped++
			log.W.F("subscription %d is behind, dropped %s (%d so far)", sub.id, old.Basis(),
				sub.dropped)
		default:
		}
	}
}

func (sub *subscription) close() {
	sub.mx.Lock()
	defer sub.mx.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	for snap := range sub.ch {
		snap.Release()
	}
}
