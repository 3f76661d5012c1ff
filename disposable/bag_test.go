package disposable

import (
	"errors"
	"sync"
	"testing"

	"github.com/brokered/svcbroker/brokererr"
)

type countingDisposable struct {
	mu    sync.Mutex
	count int
	err   error
}

func (c *countingDisposable) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.err
}

func TestEachAddedResourceDisposedExactlyOnce(t *testing.T) {
	bag := New()
	items := make([]*countingDisposable, 5)
	for i := range items {
		items[i] = &countingDisposable{}
		bag.Add(items[i])
	}
	if err := bag.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	for i, it := range items {
		if it.count != 1 {
			t.Fatalf("item %d disposed %d times, want 1", i, it.count)
		}
	}
	// Second Dispose is a no-op.
	if err := bag.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
	for i, it := range items {
		if it.count != 1 {
			t.Fatalf("item %d disposed %d times after second Dispose, want 1", i, it.count)
		}
	}
}

func TestAddAfterDisposeDisposesImmediately(t *testing.T) {
	bag := New()
	if err := bag.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	late := &countingDisposable{}
	bag.Add(late)
	if late.count != 1 {
		t.Fatalf("late Add did not dispose immediately, count=%d", late.count)
	}
}

func TestTryAddAfterDisposeDoesNotDispose(t *testing.T) {
	bag := New()
	if err := bag.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	late := &countingDisposable{}
	if ok := bag.TryAdd(late); ok {
		t.Fatalf("TryAdd on disposed bag returned true")
	}
	if late.count != 0 {
		t.Fatalf("TryAdd disposed the rejected item, count=%d", late.count)
	}
}

func TestDisposeAggregatesFailures(t *testing.T) {
	bag := New()
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	bag.Add(&countingDisposable{err: errA})
	bag.Add(&countingDisposable{}) // succeeds
	bag.Add(&countingDisposable{err: errB})

	err := bag.Dispose()
	if err == nil {
		t.Fatalf("expected aggregate error")
	}
	var agg *brokererr.Aggregate
	if !errors.As(err, &agg) {
		t.Fatalf("expected *brokererr.Aggregate, got %T", err)
	}
	if len(agg.Errors()) != 2 {
		t.Fatalf("expected 2 inner errors, got %d", len(agg.Errors()))
	}
}

func TestConcurrentAddAndDisposeNeverLeaks(t *testing.T) {
	bag := New()
	var wg sync.WaitGroup
	items := make([]*countingDisposable, 200)
	for i := range items {
		items[i] = &countingDisposable{}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		bag.Dispose()
	}()
	for i := range items {
		wg.Add(1)
		go func(d *countingDisposable) {
			defer wg.Done()
			bag.Add(d)
		}(items[i])
	}
	wg.Wait()
	bag.Dispose() // ensure anything added after the first race still gets torn down
	for i, it := range items {
		it.mu.Lock()
		c := it.count
		it.mu.Unlock()
		if c != 1 {
			t.Fatalf("item %d disposed %d times, want exactly 1", i, c)
		}
	}
}
