// Package interrupt runs registered handlers once when the process receives
// an interrupt or termination signal, so open stores get closed before exit.
package interrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"datom.lol/log"
)

var (
	mx       sync.Mutex
	handlers []func()
	once     sync.Once
	// HandlersDone is closed after all handlers have run.
	HandlersDone = make(chan struct{})
)

// AddHandler registers a function to run on interrupt. Handlers run in
// reverse order of registration.
func AddHandler(fn func()) {
	mx.Lock()
	handlers = append(handlers, fn)
	mx.Unlock()
	once.Do(listen)
}

func listen() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.I.F("received %s, running %d shutdown handlers", s, count())
		Run()
	}()
}

func count() int {
	mx.Lock()
	defer mx.Unlock()
	return len(handlers)
}

var runOnce sync.Once

// Run executes the registered handlers immediately. It is safe to call more
// than once; only the first call has any effect.
func Run() {
	runOnce.Do(func() {
		mx.Lock()
		hs := handlers
		handlers = nil
		mx.Unlock()
		for i := len(hs) - 1; i >= 0; i-- {
			hs[i]()
		}
		close(HandlersDone)
	})
}
