package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeRunner blocks in Run until its context is cancelled and records how it
// was driven.
type fakeRunner struct {
	id      string
	started atomic.Bool
	stopped atomic.Bool
	runErr  error
	block   chan struct{} // when non-nil, Run also waits for this before exiting
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.started.Store(true)
	<-ctx.Done()
	if f.block != nil {
		<-f.block
	}
	f.stopped.Store(true)
	return f.runErr
}

func waitTrue(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition %q not met before deadline", desc)
}

func TestRegistry_CreateStartsRunner(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(time.Second))

	s := reg.Create(context.Background(), "abc", &fakeRunner{id: "abc"})
	if s.ID() != "abc" {
		t.Errorf("session ID = %q, want %q", s.ID(), "abc")
	}
	waitTrue(t, "runner started", s.Runner().started.Load)
	if reg.Len() != 1 {
		t.Errorf("registry size = %d, want 1", reg.Len())
	}
	reg.Destroy(context.Background(), "abc")
}

func TestRegistry_CreateReplacesExisting(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(time.Second))
	ctx := context.Background()

	first := reg.Create(ctx, "abc", &fakeRunner{id: "abc"})
	waitTrue(t, "first runner started", first.Runner().started.Load)

	second := reg.Create(ctx, "abc", &fakeRunner{id: "abc"})
	if first == second {
		t.Fatal("Create returned the previous session instance")
	}

	// The first runner must have been stopped before the second took over
	// the ID.
	if !first.Runner().stopped.Load() {
		t.Error("previous runner still alive after replacement")
	}
	if reg.Len() != 1 {
		t.Errorf("registry size = %d, want 1", reg.Len())
	}

	got, ok := reg.Get("abc")
	if !ok || got != second {
		t.Error("registry does not hold the replacement session")
	}
	reg.Destroy(ctx, "abc")
}

func TestRegistry_DestroyIsExactlyOnce(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(time.Second))
	ctx := context.Background()

	s := reg.Create(ctx, "abc", &fakeRunner{id: "abc"})
	waitTrue(t, "runner started", s.Runner().started.Load)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Destroy(ctx, "abc")
		}()
	}
	wg.Wait()

	if !s.Runner().stopped.Load() {
		t.Error("runner not stopped after destroy")
	}
	if reg.Len() != 0 {
		t.Errorf("registry size = %d, want 0", reg.Len())
	}

	// Destroying an unknown ID is a no-op.
	reg.Destroy(ctx, "missing")
}

func TestRegistry_DestroyWaitsForRunLoop(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(time.Second))
	ctx := context.Background()

	s := reg.Create(ctx, "abc", &fakeRunner{id: "abc"})
	waitTrue(t, "runner started", s.Runner().started.Load)

	reg.Destroy(ctx, "abc")
	select {
	case <-s.Done():
	default:
		t.Error("Destroy returned before the run loop exited")
	}
}

func TestRegistry_DestroyDrainTimeout(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(20 * time.Millisecond))
	ctx := context.Background()

	r := &fakeRunner{id: "stuck", block: make(chan struct{})}
	s := reg.Create(ctx, "stuck", r)
	waitTrue(t, "runner started", s.Runner().started.Load)

	start := time.Now()
	reg.Destroy(ctx, "stuck")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Destroy blocked %v despite drain timeout", elapsed)
	}
	close(r.block)
}

func TestRegistry_ContextCancellationStopsRunner(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	s := reg.Create(ctx, "abc", &fakeRunner{id: "abc"})
	waitTrue(t, "runner started", s.Runner().started.Load)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit after parent context cancellation")
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(time.Second))
	ctx := context.Background()

	runners := make([]*fakeRunner, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		r := &fakeRunner{id: id}
		runners = append(runners, r)
		reg.Create(ctx, id, r)
	}
	waitTrue(t, "all runners started", func() bool {
		for _, r := range runners {
			if !r.started.Load() {
				return false
			}
		}
		return true
	})

	reg.Shutdown(ctx)
	if reg.Len() != 0 {
		t.Errorf("registry size after shutdown = %d, want 0", reg.Len())
	}
	for _, r := range runners {
		if !r.stopped.Load() {
			t.Errorf("runner %q still alive after shutdown", r.id)
		}
	}
}

func TestRegistry_IndependentSessions(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(time.Second))
	ctx := context.Background()

	a := reg.Create(ctx, "a", &fakeRunner{id: "a"})
	b := reg.Create(ctx, "b", &fakeRunner{id: "b"})
	waitTrue(t, "both started", func() bool {
		return a.Runner().started.Load() && b.Runner().started.Load()
	})

	reg.Destroy(ctx, "a")
	if !a.Runner().stopped.Load() {
		t.Error("destroyed session still running")
	}
	if b.Runner().stopped.Load() {
		t.Error("unrelated session was stopped")
	}
	reg.Destroy(ctx, "b")
}

func TestRegistry_ConcurrentCreateSameID(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(time.Second))
	ctx := context.Background()

	const n = 8
	runners := make([]*fakeRunner, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		runners[i] = &fakeRunner{id: "abc"}
		wg.Add(1)
		go func(r *fakeRunner) {
			defer wg.Done()
			reg.Create(ctx, "abc", r)
		}(runners[i])
	}
	wg.Wait()

	if reg.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Len())
	}
	winner, ok := reg.Get("abc")
	if !ok {
		t.Fatal("no session registered after concurrent creates")
	}
	// Every runner that lost the ID must have been torn down; only the
	// registered one may still be running.
	waitTrue(t, "losers stopped", func() bool {
		for _, r := range runners {
			if r == winner.Runner() {
				continue
			}
			if !r.stopped.Load() {
				return false
			}
		}
		return true
	})
	if winner.Runner().stopped.Load() {
		t.Error("registered session was stopped")
	}
	reg.Destroy(ctx, "abc")
}

func TestRegistry_DestroySessionIgnoresReplaced(t *testing.T) {
	reg := NewRegistry[*fakeRunner](WithDrainTimeout(time.Second))
	ctx := context.Background()

	first := reg.Create(ctx, "abc", &fakeRunner{id: "abc"})
	waitTrue(t, "first started", first.Runner().started.Load)
	second := reg.Create(ctx, "abc", &fakeRunner{id: "abc"})
	waitTrue(t, "second started", second.Runner().started.Load)

	// Destroying the stale handle must not touch the session that
	// replaced it under the same ID.
	reg.DestroySession(ctx, first)
	if second.Runner().stopped.Load() {
		t.Error("replacement session was torn down by a stale handle")
	}
	got, ok := reg.Get("abc")
	if !ok || got != second {
		t.Error("replacement session no longer registered")
	}

	reg.DestroySession(ctx, second)
	if !second.Runner().stopped.Load() {
		t.Error("live session not stopped by DestroySession")
	}
	if reg.Len() != 0 {
		t.Errorf("registry size = %d, want 0", reg.Len())
	}
}
