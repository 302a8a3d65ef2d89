package target

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubTarget struct {
	slot     int
	shutdown atomic.Int32
}

func (s *stubTarget) Info() Info { return Info{Name: "stub"} }
func (s *stubTarget) Capabilities() Capabilities { return Capabilities{} }
func (s *stubTarget) Start(context.Context) error { return nil }
func (s *stubTarget) NavigateToGame(context.Context) error { return nil }
func (s *stubTarget) QueryState(context.Context) (Observation, error) { return Observation{}, nil }
func (s *stubTarget) ApplyMove(context.Context, string) error { return nil }
func (s *stubTarget) SetArbitraryState(context.Context, string) error { return ErrUnsupported }
func (s *stubTarget) RequestCancel() bool { return false }
func (s *stubTarget) Shutdown(context.Context) error { s.shutdown.Add(1); return nil }

func newStubPool(t *testing.T, capacity int) (*Pool, *atomic.Int32) {
	t.Helper()
	var created atomic.Int32
	p := NewPool(PoolConfig{DefaultCapacity: 4})
	err := p.Register("sim", capacity, func(_ context.Context, slot int) (Target, error) {
		created.Add(1)
		return &stubTarget{slot: slot}, nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return p, &created
}

func TestPoolReusesReleasedTarget(t *testing.T) {
	p, created := newStubPool(t, 1)
	ctx := context.Background()

	first, err := p.Acquire(ctx, "sim")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(first, nil)

	second, err := p.Acquire(ctx, "sim")
	if err != nil {
		t.Fatalf("Acquire#2: %v", err)
	}
	if second != first {
		t.Fatalf("expected the parked target to be reused")
	}
	if created.Load() != 1 {
		t.Fatalf("expected one creation, got %d", created.Load())
	}
}

func TestPoolDiscardFreesSlot(t *testing.T) {
	p, created := newStubPool(t, 1)
	ctx := context.Background()

	first, err := p.Acquire(ctx, "sim")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(first, errors.New("critical failure"))

	second, err := p.Acquire(ctx, "sim")
	if err != nil {
		t.Fatalf("Acquire#2: %v", err)
	}
	if second == first {
		t.Fatalf("a discarded target must not be handed out again")
	}
	if got := second.(*stubTarget).slot; got != 0 {
		t.Fatalf("expected slot 0 to be recycled, got %d", got)
	}
	if created.Load() != 2 {
		t.Fatalf("expected two creations, got %d", created.Load())
	}
}

func TestPoolWaitsAtCapacity(t *testing.T) {
	p, _ := newStubPool(t, 1)
	held, err := p.Acquire(context.Background(), "sim")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, "sim"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while at capacity, got %v", err)
	}

	got := make(chan Target, 1)
	go func() {
		tg, err := p.Acquire(context.Background(), "sim")
		if err == nil {
			got <- tg
		}
	}()
	p.Release(held, nil)
	select {
	case tg := <-got:
		if tg != held {
			t.Fatalf("waiter should receive the released target")
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter never acquired the released target")
	}
}

func TestPoolUnknownProfileAndClose(t *testing.T) {
	p, _ := newStubPool(t, 2)
	if _, err := p.Acquire(context.Background(), "missing"); !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
	tg, err := p.Acquire(context.Background(), "sim")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(tg, nil)
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tg.(*stubTarget).shutdown.Load() != 1 {
		t.Fatalf("parked targets should be shut down on Close")
	}
	if err := p.Register("sim", 1, nil); err == nil {
		t.Fatalf("expected nil factory to be rejected")
	}
}
