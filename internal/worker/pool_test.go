package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPoolDefaultConcurrency(t *testing.T) {
	p := NewPool[string](0)
	if p.concurrency != runtime.NumCPU() {
		t.Errorf("expected concurrency %d, got %d", runtime.NumCPU(), p.concurrency)
	}

	p2 := NewPool[string](-1)
	if p2.concurrency != runtime.NumCPU() {
		t.Errorf("expected concurrency %d for -1, got %d", runtime.NumCPU(), p2.concurrency)
	}
}

func TestProcessEmpty(t *testing.T) {
	p := NewPool[string](2)
	results := p.Process(context.Background(), nil, func(_ context.Context, s string) (string, error) {
		return s, nil
	})
	if results != nil {
		t.Errorf("expected nil results for empty input, got %v", results)
	}
}

func TestProcessPreservesOrder(t *testing.T) {
	p := NewPool[string](4)
	items := []string{"src/a.go", "src/b.go", "c.md", "d.yaml", "e", "f", "g", "h"}

	results := p.Process(context.Background(), items, func(_ context.Context, s string) (string, error) {
		return "hashed-" + s, nil
	})

	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("result[%d] unexpected error: %v", i, r.Err)
		}
		if r.Value != "hashed-"+items[i] {
			t.Errorf("result[%d] = %q", i, r.Value)
		}
		if r.Index != i || r.Item != items[i] {
			t.Errorf("result[%d] index/item = %d/%q", i, r.Index, r.Item)
		}
	}
}

func TestProcessCapturesErrors(t *testing.T) {
	p := NewPool[int](2)
	items := []string{"ok", "missing", "ok", "missing"}

	results := p.Process(context.Background(), items, func(_ context.Context, s string) (int, error) {
		if s == "missing" {
			return 0, fmt.Errorf("open %s: no such file", s)
		}
		return 1, nil
	})

	for i, r := range results {
		wantErr := items[i] == "missing"
		if (r.Err != nil) != wantErr {
			t.Errorf("result[%d] err = %v, wantErr %v", i, r.Err, wantErr)
		}
	}
}

func TestProcessConcurrency(t *testing.T) {
	p := NewPool[int](4)

	var maxConcurrent, current int64
	items := make([]string, 20)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}

	p.Process(context.Background(), items, func(_ context.Context, _ string) (int, error) {
		c := atomic.AddInt64(&current, 1)
		for {
			old := atomic.LoadInt64(&maxConcurrent)
			if c <= old || atomic.CompareAndSwapInt64(&maxConcurrent, old, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return 0, nil
	})

	if peak := atomic.LoadInt64(&maxConcurrent); peak > 4 {
		t.Errorf("peak concurrency %d exceeds pool size 4", peak)
	}
}

func TestProcessCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int64
	p := NewPool[int](2)
	results := p.Process(ctx, []string{"a", "b", "c"}, func(_ context.Context, _ string) (int, error) {
		atomic.AddInt64(&calls, 1)
		return 1, nil
	})

	if calls != 0 {
		t.Errorf("fn called %d times after cancellation", calls)
	}
	for i, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("result[%d] err = %v, want context.Canceled", i, r.Err)
		}
	}
}
