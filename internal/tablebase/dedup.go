package tablebase

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/freeeve/endgametrainer/internal/fen"
)

// Dedup collapses concurrent fetches for the same position key into a
// single in-flight request. The in-flight record is owned by the fetch
// goroutine alone: it removes the record when the fetch settles, success
// or failure, so a failed fetch never poisons the key and a caller that
// observed settlement can immediately retry. Waiting callers only select
// on the completion channel with their own context; a caller abandoning
// the wait never touches the table.
type Dedup struct {
	mu       sync.Mutex
	inflight map[fen.Key]*flight

	joins   uint64 // callers that attached to an existing fetch
	fetches uint64
}

type flight struct {
	done   chan struct{}
	res    *Result
	err    error
	waiter int
	cancel context.CancelFunc
}

// NewDedup creates an empty dedup table.
func NewDedup() *Dedup {
	return &Dedup{inflight: make(map[fen.Key]*flight)}
}

// Do returns the result of fetch for key, sharing one underlying fetch
// between concurrent callers. The fetch runs detached from any single
// caller's context; it is cancelled only when every waiter has gone away,
// and its settlement removes the table entry either way.
func (d *Dedup) Do(ctx context.Context, key fen.Key, fetch func(context.Context) (*Result, error)) (*Result, error) {
	d.mu.Lock()
	if f, ok := d.inflight[key]; ok {
		f.waiter++
		d.mu.Unlock()
		atomic.AddUint64(&d.joins, 1)
		return d.await(ctx, f)
	}

	fctx, cancel := context.WithCancel(context.Background())
	f := &flight{done: make(chan struct{}), waiter: 1, cancel: cancel}
	d.inflight[key] = f
	d.mu.Unlock()
	atomic.AddUint64(&d.fetches, 1)

	go func() {
		res, err := fetch(fctx)
		// Remove the entry before signalling settlement so a caller that
		// sees the failure can retry with a fresh fetch right away.
		d.mu.Lock()
		delete(d.inflight, key)
		d.mu.Unlock()
		f.res, f.err = res, err
		close(f.done)
		cancel()
	}()

	return d.await(ctx, f)
}

func (d *Dedup) await(ctx context.Context, f *flight) (*Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		d.mu.Lock()
		f.waiter--
		last := f.waiter == 0
		d.mu.Unlock()
		if last {
			// No one cares about the answer anymore; stop the fetch.
			// Its settlement still cleans up the table entry.
			f.cancel()
		}
		return nil, ctx.Err()
	}
}

// Pending returns the number of in-flight keys.
func (d *Dedup) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Stats returns the number of fetches started and of callers that joined
// an existing fetch instead of starting their own.
func (d *Dedup) Stats() (fetches, joins uint64) {
	return atomic.LoadUint64(&d.fetches), atomic.LoadUint64(&d.joins)
}
