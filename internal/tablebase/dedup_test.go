package tablebase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freeeve/endgametrainer/internal/fen"
	"github.com/freeeve/endgametrainer/internal/tablebase"
)

const testKey = fen.Key("8/8/8/4k3/8/8/4K3/4R3 w - -")

func TestDedupSharesFetch(t *testing.T) {
	d := tablebase.NewDedup()

	var calls int32
	release := make(chan struct{})
	want := &tablebase.Result{WDL: 2, Category: tablebase.CategoryWin}

	fetch := func(ctx context.Context) (*tablebase.Result, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return want, nil
	}

	const k = 8
	var wg sync.WaitGroup
	results := make([]*tablebase.Result, k)
	errs := make([]error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.Do(context.Background(), testKey, fetch)
		}(i)
	}

	// Let all callers attach before the fetch settles.
	time.Sleep(20 * time.Millisecond)
	if got := d.Pending(); got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch called %d times, want 1", got)
	}
	for i := 0; i < k; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d: %v", i, errs[i])
		}
		if results[i] != want {
			t.Errorf("caller %d got a different result pointer", i)
		}
	}
	if got := d.Pending(); got != 0 {
		t.Errorf("Pending after settle = %d, want 0", got)
	}
}

func TestDedupFailureRecovery(t *testing.T) {
	d := tablebase.NewDedup()

	var calls int32
	boom := errors.New("boom")
	fetch := func(ctx context.Context) (*tablebase.Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, boom
		}
		return &tablebase.Result{Category: tablebase.CategoryDraw}, nil
	}

	if _, err := d.Do(context.Background(), testKey, fetch); !errors.Is(err, boom) {
		t.Fatalf("first call err = %v, want boom", err)
	}
	if got := d.Pending(); got != 0 {
		t.Fatalf("failed fetch left pending entry, Pending = %d", got)
	}

	// The failure must not poison the key: the next call fetches again.
	res, err := d.Do(context.Background(), testKey, fetch)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if res.Category != tablebase.CategoryDraw {
		t.Errorf("second call category = %s, want draw", res.Category)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("fetch called %d times, want 2", got)
	}
}

func TestDedupCallerCancel(t *testing.T) {
	d := tablebase.NewDedup()

	fetchCancelled := make(chan struct{})
	fetch := func(ctx context.Context) (*tablebase.Result, error) {
		<-ctx.Done()
		close(fetchCancelled)
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := d.Do(ctx, testKey, fetch); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The last waiter leaving cancels the fetch, whose settlement must
	// still clean up the table.
	select {
	case <-fetchCancelled:
	case <-time.After(time.Second):
		t.Fatal("fetch was never cancelled after last waiter left")
	}

	deadline := time.Now().Add(time.Second)
	for d.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("pending entry not cleaned up after cancelled fetch settled")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDedupSurvivingWaiterKeepsFetch(t *testing.T) {
	d := tablebase.NewDedup()

	release := make(chan struct{})
	want := &tablebase.Result{Category: tablebase.CategoryWin}
	fetch := func(ctx context.Context) (*tablebase.Result, error) {
		select {
		case <-release:
			return want, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()

	done := make(chan *tablebase.Result, 1)
	go func() {
		res, _ := d.Do(context.Background(), testKey, fetch)
		done <- res
	}()
	time.Sleep(10 * time.Millisecond)

	// Second caller joins then cancels; the survivor must still get a result.
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel1()
	}()
	_, err := d.Do(ctx1, testKey, fetch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("joined caller err = %v, want context.Canceled", err)
	}

	close(release)
	select {
	case res := <-done:
		if res != want {
			t.Error("surviving caller did not receive the fetch result")
		}
	case <-time.After(time.Second):
		t.Fatal("surviving caller never completed")
	}
}

func TestDedupDistinctKeysFetchIndependently(t *testing.T) {
	d := tablebase.NewDedup()

	var calls int32
	fetch := func(ctx context.Context) (*tablebase.Result, error) {
		atomic.AddInt32(&calls, 1)
		return &tablebase.Result{Category: tablebase.CategoryDraw}, nil
	}

	keys := []fen.Key{"k1", "k2", "k3"}
	for _, k := range keys {
		if _, err := d.Do(context.Background(), k, fetch); err != nil {
			t.Fatalf("Do(%s): %v", k, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != int32(len(keys)) {
		t.Errorf("fetch called %d times, want %d", got, len(keys))
	}
}
