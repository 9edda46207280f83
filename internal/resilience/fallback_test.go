package resilience

import (
	"errors"
	"testing"
	"time"
)

type countingBackend struct {
	name  string
	calls int
	err   error
}

func (b *countingBackend) call() error {
	b.calls++
	return b.err
}

func newTwoMemberGroup(primary, backup *countingBackend) *FallbackGroup[*countingBackend] {
	g := NewFallbackGroup(primary, primary.name, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	g.AddFallback(backup.name, backup)
	return g
}

func TestFallbackGroupPrimaryFirst(t *testing.T) {
	primary := &countingBackend{name: "primary"}
	backup := &countingBackend{name: "backup"}
	g := newTwoMemberGroup(primary, backup)

	if err := g.Execute(func(b *countingBackend) error { return b.call() }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primary.calls != 1 || backup.calls != 0 {
		t.Errorf("calls = (%d, %d), want (1, 0)", primary.calls, backup.calls)
	}
}

func TestFallbackGroupFailsOver(t *testing.T) {
	primary := &countingBackend{name: "primary", err: errProviderDown}
	backup := &countingBackend{name: "backup"}
	g := newTwoMemberGroup(primary, backup)

	if err := g.Execute(func(b *countingBackend) error { return b.call() }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls = (%d, %d), want (1, 1)", primary.calls, backup.calls)
	}
}

func TestFallbackGroupAllFailed(t *testing.T) {
	primary := &countingBackend{name: "primary", err: errProviderDown}
	backup := &countingBackend{name: "backup", err: errProviderDown}
	g := newTwoMemberGroup(primary, backup)

	err := g.Execute(func(b *countingBackend) error { return b.call() })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	primary := &countingBackend{name: "primary", err: errProviderDown}
	backup := &countingBackend{name: "backup"}
	g := newTwoMemberGroup(primary, backup)

	// Trip the primary's breaker (MaxFailures = 2).
	for i := 0; i < 2; i++ {
		_ = g.Execute(func(b *countingBackend) error { return b.call() })
	}
	primaryCallsBefore := primary.calls

	if err := g.Execute(func(b *countingBackend) error { return b.call() }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primary.calls != primaryCallsBefore {
		t.Errorf("primary called %d times through open breaker", primary.calls-primaryCallsBefore)
	}
	if backup.calls != 3 {
		t.Errorf("backup calls = %d, want 3", backup.calls)
	}
}

func TestExecuteWithResultReturnsFirstSuccess(t *testing.T) {
	primary := &countingBackend{name: "primary", err: errProviderDown}
	backup := &countingBackend{name: "backup"}
	g := newTwoMemberGroup(primary, backup)

	got, err := ExecuteWithResult(g, func(b *countingBackend) (string, error) {
		if err := b.call(); err != nil {
			return "", err
		}
		return b.name, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "backup" {
		t.Errorf("result = %q, want %q", got, "backup")
	}
}

func TestExecuteWithResultAllFailed(t *testing.T) {
	primary := &countingBackend{name: "primary", err: errProviderDown}
	g := NewFallbackGroup(primary, primary.name, FallbackConfig{})

	got, err := ExecuteWithResult(g, func(b *countingBackend) (int, error) {
		return 0, b.call()
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if got != 0 {
		t.Errorf("result = %d, want zero value", got)
	}
}
