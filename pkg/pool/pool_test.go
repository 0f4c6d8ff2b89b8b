package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReuseLIFO(t *testing.T) {
	var n int
	p := New(4, func() (int, error) {
		n++
		return n, nil
	})

	a, err := p.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := p.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != 1 || b != 2 {
		t.Fatalf("expected fresh sessions 1 and 2, got %d and %d", a, b)
	}

	p.Put(a)
	p.Put(b)
	if s, _ := p.Get(); s != b {
		t.Fatalf("expected most recently released session %d, got %d", b, s)
	}
	if s, _ := p.Get(); s != a {
		t.Fatalf("expected session %d, got %d", a, s)
	}
	if n != 2 {
		t.Fatalf("expected 2 opens, got %d", n)
	}
}

func TestBlocksAtCapacity(t *testing.T) {
	var n int
	p := New(2, func() (int, error) {
		n++
		return n, nil
	})

	a, _ := p.Get()
	p.Get()

	got := make(chan int)
	go func() {
		s, _ := p.Get()
		got <- s
	}()

	select {
	case s := <-got:
		t.Fatalf("third Get should block, returned %d", s)
	case <-time.After(50 * time.Millisecond):
	}

	p.Put(a)
	select {
	case s := <-got:
		if s != a {
			t.Fatalf("expected released session %d, got %d", a, s)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter was not woken by Put")
	}
	if n != 2 {
		t.Fatalf("expected 2 opens, got %d", n)
	}
}

func TestOpenFailureNotCounted(t *testing.T) {
	fail := true
	var n int
	p := New(1, func() (int, error) {
		if fail {
			return 0, errors.New("open failed")
		}
		n++
		return n, nil
	})

	if _, err := p.Get(); err == nil {
		t.Fatalf("expected open error")
	}

	// the failed open must not have consumed the capacity slot
	fail = false
	s, err := p.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != 1 {
		t.Fatalf("expected session 1, got %d", s)
	}
}

func TestConcurrent(t *testing.T) {
	const capacity = 4
	const workers = 32
	const iters = 100

	var open, out, max atomic.Int64
	p := New(capacity, func() (int64, error) {
		return open.Add(1), nil
	})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				s, err := p.Get()
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				n := out.Add(1)
				for {
					m := max.Load()
					if n <= m || max.CompareAndSwap(m, n) {
						break
					}
				}
				out.Add(-1)
				p.Put(s)
			}
		}()
	}
	wg.Wait()

	if open.Load() > capacity {
		t.Fatalf("opened %d sessions, capacity is %d", open.Load(), capacity)
	}
	if max.Load() > capacity {
		t.Fatalf("%d sessions out at once, capacity is %d", max.Load(), capacity)
	}
}
