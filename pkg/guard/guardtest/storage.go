// Package guardtest contains conformance tests shared by client storage
// implementations.
package guardtest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/doorman-core/doorman/pkg/guard"
)

// TestClientStorage tests whether an EMPTY client storage instance implements
// the interface correctly. The storage must also implement
// guard.ClientInspector so the persisted counters can be checked.
func TestClientStorage(t *testing.T, s guard.ClientStorage) {
	ctx := context.Background()

	ins, ok := s.(guard.ClientInspector)
	if !ok {
		t.Fatalf("storage must implement guard.ClientInspector")
	}
	inspect := func(t *testing.T, addr string) guard.ClientRecord {
		t.Helper()
		rec, ok, err := ins.InspectClient(ctx, addr)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("record for %q should exist", addr)
		}
		return rec
	}

	t.Run("MissingClient", func(t *testing.T) {
		if _, _, err := s.GetScores(ctx, "192.0.2.1", -5); !errors.Is(err, guard.ErrClientNotFound) {
			t.Fatalf("expected ErrClientNotFound, got %v", err)
		}
		if _, _, err := s.AddMisbehavior(ctx, "192.0.2.1", 2); !errors.Is(err, guard.ErrClientNotFound) {
			t.Fatalf("expected ErrClientNotFound, got %v", err)
		}
		if _, _, err := s.IncrementConnections(ctx, "192.0.2.1"); !errors.Is(err, guard.ErrClientNotFound) {
			t.Fatalf("expected ErrClientNotFound, got %v", err)
		}
		if err := s.DecrementConnections(ctx, "192.0.2.1"); !errors.Is(err, guard.ErrClientNotFound) {
			t.Fatalf("expected ErrClientNotFound, got %v", err)
		}
		if _, ok, err := ins.InspectClient(ctx, "192.0.2.1"); err != nil || ok {
			t.Fatalf("record should not exist (ok=%v, err=%v)", ok, err)
		}
	})

	t.Run("Create", func(t *testing.T) {
		if err := s.CreateClient(ctx, "192.0.2.1", -0.1, 0, 0.1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rec := inspect(t, "192.0.2.1")
		want := guard.ClientRecord{
			Addr:             "192.0.2.1",
			T1Score:          -0.1,
			T2Score:          0,
			AccessMultiplier: 0.1,
			Accesses:         1,
			Connections:      1,
		}
		if rec != want {
			t.Fatalf("incorrect new record %+v", rec)
		}
	})

	t.Run("CreateIsIdempotent", func(t *testing.T) {
		if err := s.CreateClient(ctx, "192.0.2.1", -99, -99, 99); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec := inspect(t, "192.0.2.1"); rec.T1Score != -0.1 || rec.AccessMultiplier != 0.1 {
			t.Fatalf("conflicting create must keep the first record, got %+v", rec)
		}
	})

	t.Run("GetScores", func(t *testing.T) {
		t1, t2, err := s.GetScores(ctx, "192.0.2.1", -5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if t1 != -0.1 || t2 != 0 {
			t.Fatalf("incorrect scores (%v, %v)", t1, t2)
		}
		rec := inspect(t, "192.0.2.1")
		if rec.Accesses != 2 {
			t.Fatalf("access count should be 2, is %d", rec.Accesses)
		}
		if rec.T2Blocked {
			t.Fatalf("t2_blocked should not be set for a score above the threshold")
		}
	})

	t.Run("T2BlockedLatches", func(t *testing.T) {
		if err := s.CreateClient(ctx, "192.0.2.2", -20, -6, 0.1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, _, err := s.GetScores(ctx, "192.0.2.2", -5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec := inspect(t, "192.0.2.2"); !rec.T2Blocked {
			t.Fatalf("t2_blocked should latch when the score is below the threshold")
		}
		// a later access with a lower threshold must not clear it
		if _, _, err := s.GetScores(ctx, "192.0.2.2", -100); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec := inspect(t, "192.0.2.2"); !rec.T2Blocked {
			t.Fatalf("t2_blocked must stay latched")
		}
	})

	t.Run("Misbehavior", func(t *testing.T) {
		t1, t2, err := s.AddMisbehavior(ctx, "192.0.2.2", 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if t1 != -20 || t2 != -6 {
			t.Fatalf("incorrect scores (%v, %v)", t1, t2)
		}
		if _, _, err := s.AddMisbehavior(ctx, "192.0.2.2", 4); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec := inspect(t, "192.0.2.2"); rec.Misbehaviors != 7 {
			t.Fatalf("misbehavior count should be 7, is %d", rec.Misbehaviors)
		}
	})

	t.Run("Connections", func(t *testing.T) {
		if _, _, err := s.IncrementConnections(ctx, "192.0.2.1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec := inspect(t, "192.0.2.1"); rec.Connections != 2 {
			t.Fatalf("connection count should be 2, is %d", rec.Connections)
		}
		for i := 0; i < 3; i++ {
			if err := s.DecrementConnections(ctx, "192.0.2.1"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if rec := inspect(t, "192.0.2.1"); rec.Connections != 0 {
			t.Fatalf("connection count should saturate at 0, is %d", rec.Connections)
		}
	})

	t.Run("ClearConnections", func(t *testing.T) {
		if _, _, err := s.IncrementConnections(ctx, "192.0.2.2"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := s.ClearConnections(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, addr := range []string{"192.0.2.1", "192.0.2.2"} {
			if rec := inspect(t, addr); rec.Connections != 0 {
				t.Fatalf("connection count for %s should be 0, is %d", addr, rec.Connections)
			}
		}
	})

	t.Run("Concurrent", func(t *testing.T) {
		const workers = 16
		const iters = 32

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				addr := "198.51.100." + strconv.Itoa(w%4)
				for i := 0; i < iters; i++ {
					if _, _, err := s.GetScores(ctx, addr, -5); errors.Is(err, guard.ErrClientNotFound) {
						if err := s.CreateClient(ctx, addr, -0.1, 0, 0.1); err != nil {
							t.Errorf("create %s: %v", addr, err)
							return
						}
					} else if err != nil {
						t.Errorf("access %s: %v", addr, err)
						return
					}
					if _, _, err := s.IncrementConnections(ctx, addr); err != nil && !errors.Is(err, guard.ErrClientNotFound) {
						t.Errorf("connect %s: %v", addr, err)
						return
					}
					if err := s.DecrementConnections(ctx, addr); err != nil && !errors.Is(err, guard.ErrClientNotFound) {
						t.Errorf("disconnect %s: %v", addr, err)
						return
					}
				}
			}(w)
		}
		wg.Wait()

		for i := 0; i < 4; i++ {
			addr := "198.51.100." + strconv.Itoa(i)
			rec := inspect(t, addr)
			if rec.T1Score != -0.1 || rec.AccessMultiplier != 0.1 {
				t.Fatalf("racing creates must keep exactly one record, got %+v", rec)
			}
			if rec.Connections < 0 || rec.Connections > 1+workers {
				t.Fatalf("connection count for %s out of range: %d", addr, rec.Connections)
			}
		}
	})
}
