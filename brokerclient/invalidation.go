package brokerclient

import (
	"context"
	"sync"

	"github.com/brokered/svcbroker/moniker"
)

// invalidationDispatcher runs "invalidated" handlers on a dedicated worker,
// strictly sequentially, per spec §4.5: handlers are never invoked inline
// under the cache's lock, never run concurrently with the previous
// invocation, and a newer invalidation preempts the still-running previous
// handler set via its context before waiting for it to actually finish.
type invalidationDispatcher struct {
	mu       sync.Mutex
	handlers []func(ctx context.Context, impacted []moniker.Moniker)

	jobs      chan job
	curCancel context.CancelFunc
	stopOnce  sync.Once
	stopCh    chan struct{}
}

type job struct {
	impacted []moniker.Moniker
}

func newInvalidationDispatcher() *invalidationDispatcher {
	d := &invalidationDispatcher{
		jobs:   make(chan job, 64),
		stopCh: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *invalidationDispatcher) run() {
	for {
		select {
		case j := <-d.jobs:
			ctx, cancel := context.WithCancel(context.Background())
			d.mu.Lock()
			d.curCancel = cancel
			handlers := append([]func(ctx context.Context, impacted []moniker.Moniker){}, d.handlers...)
			d.mu.Unlock()

			for _, h := range handlers {
				h(ctx, j.impacted)
			}
			cancel()
			d.mu.Lock()
			d.curCancel = nil
			d.mu.Unlock()
		case <-d.stopCh:
			return
		}
	}
}

// trigger cancels any in-flight handler invocation's context (it keeps
// running; only its cancellation signal fires early) and enqueues the new
// invalidation. The new handler set starts only once the worker has picked
// the previous job off the queue and finished running it, since the worker
// processes jobs one at a time.
func (d *invalidationDispatcher) trigger(impacted []moniker.Moniker) {
	d.mu.Lock()
	if d.curCancel != nil {
		d.curCancel()
	}
	d.mu.Unlock()

	select {
	case d.jobs <- job{impacted: impacted}:
	case <-d.stopCh:
	}
}

func (d *invalidationDispatcher) subscribe(handler func(ctx context.Context, impacted []moniker.Moniker)) func() {
	d.mu.Lock()
	idx := len(d.handlers)
	d.handlers = append(d.handlers, handler)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if idx < len(d.handlers) {
				d.handlers[idx] = func(context.Context, []moniker.Moniker) {}
			}
		})
	}
}

func (d *invalidationDispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}
