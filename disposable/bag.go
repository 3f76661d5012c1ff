// Package disposable implements a thread-safe, one-shot collection of owned
// disposable resources with aggregate-failure teardown. It is the core
// ownership primitive used throughout the broker graph for failure-unwind,
// grounded in the teacher's mutex-guarded shutdown bookkeeping
// (server.Server.shutdown/wg in server/server.go), generalized from
// "in-flight requests" to "arbitrary owned disposables."
package disposable

import (
	"sync"

	"github.com/brokered/svcbroker/brokererr"
)

// Disposable is anything that releases resources exactly once.
type Disposable interface {
	Dispose() error
}

// Func adapts a plain function to the Disposable interface.
type Func func() error

// Dispose implements Disposable.
func (f Func) Dispose() error { return f() }

// Bag is a one-shot ownership collection: Add appends disposables while the
// bag is alive, Dispose transitions it to disposed and tears everything
// down, in insertion order, collecting every failure into one aggregate.
type Bag struct {
	mu       sync.Mutex
	disposed bool
	items    []Disposable
}

// New returns an empty, live bag.
func New() *Bag {
	return &Bag{}
}

// Add appends x if the bag is not yet disposed. If the bag is already
// disposed, x is disposed immediately instead (fire-and-forget — any error
// from that immediate disposal is swallowed, matching the "immediately
// dispose and return" contract in spec §4.1).
func (b *Bag) Add(x Disposable) {
	if x == nil {
		return
	}
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		_ = x.Dispose()
		return
	}
	b.items = append(b.items, x)
	b.mu.Unlock()
}

// TryAdd appends x if the bag is not yet disposed and returns true. If the
// bag is already disposed, it does NOT dispose x — it returns false so the
// caller retains ownership and can fall through to an alternate path.
func (b *Bag) TryAdd(x Disposable) bool {
	if x == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return false
	}
	b.items = append(b.items, x)
	return true
}

// Dispose transitions the bag to disposed and disposes every owned item, in
// insertion order, exactly once. Every item is attempted even if earlier
// ones fail; all failures are collected into a single aggregate error.
// Calling Dispose more than once, or concurrently with Add, is safe — the
// transition is guarded by the same mutex, and only the first caller
// performs teardown.
func (b *Bag) Dispose() error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.disposed = true
	items := b.items
	b.items = nil
	b.mu.Unlock()

	errs := make([]error, 0, len(items))
	for _, item := range items {
		if err := item.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return brokererr.NewAggregate(errs...)
}

// Disposed reports whether Dispose has already run.
func (b *Bag) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}
