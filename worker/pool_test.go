package worker

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(4)
	defer p.Stop()

	var wg sync.WaitGroup
	var count int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if err := p.Post(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if count != 100 {
		t.Fatalf("expect 100 tasks, got %d", count)
	}
}

// a panicking task must not take the worker down with it
func TestPoolSurvivesPanic(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	if err := p.Post(func() { panic("bad request") }); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	if err := p.Post(func() { close(done) }); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestStopDrainsQueue(t *testing.T) {
	p := NewPool(1)

	var count int64
	block := make(chan struct{})
	p.Post(func() { <-block })
	for i := 0; i < 10; i++ {
		p.Post(func() { atomic.AddInt64(&count, 1) })
	}

	close(block)
	p.Stop()

	if got := atomic.LoadInt64(&count); got != 10 {
		t.Fatalf("expect Stop to drain 10 queued tasks, got %d", got)
	}
}

func TestStopWaitsForSpawned(t *testing.T) {
	p := NewPool(1)

	var finished atomic.Bool
	if err := p.Spawn(func() {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}); err != nil {
		t.Fatal(err)
	}
	p.Stop()

	if !finished.Load() {
		t.Fatal("expect Stop to wait for spawned goroutine")
	}
}

func TestPostAfterStop(t *testing.T) {
	p := NewPool(2)
	p.Stop()
	p.Stop() // idempotent

	if err := p.Post(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expect ErrStopped, got %v", err)
	}
	if err := p.Spawn(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expect ErrStopped, got %v", err)
	}

	ran := false
	p.Dispatch(func() { ran = true })
	if !ran {
		t.Fatal("expect Dispatch to run inline after Stop")
	}
}

func TestMaxInFlight(t *testing.T) {
	p := NewPool(1, WithMaxInFlight(2))
	defer p.Stop()

	var cur, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Spawn(func() {
			defer wg.Done()
			n := atomic.AddInt64(&cur, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&cur, -1)
		})
	}
	wg.Wait()

	if peak > 2 {
		t.Fatalf("expect at most 2 spawned goroutines in flight, saw %d", peak)
	}
}

func TestChooseThreads(t *testing.T) {
	hw := runtime.NumCPU()
	cases := []struct {
		hint, want int
	}{
		{0, hw},
		{-1, hw},
		{1, 1},
		{4 * hw, 4 * hw},
		{4*hw + 1, hw},
	}
	for _, tc := range cases {
		if got := ChooseThreads(tc.hint); got != tc.want {
			t.Fatalf("ChooseThreads(%d) = %d, want %d", tc.hint, got, tc.want)
		}
	}
}
