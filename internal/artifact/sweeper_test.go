package artifact

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := NewRegistry(newTestBackend(t), WithClock(clock.Now))

	if err := reg.For(KindInteraction).Upsert(ctx, "short", Payload{}, time.Minute); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := reg.For(KindSession).Upsert(ctx, "long", Payload{}, time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := reg.For(KindAccount).Upsert(ctx, "forever", Payload{}, 0); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	clock.Advance(2 * time.Minute)
	n, err := NewSweeper(reg, time.Minute).SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d rows, want 1", n)
	}

	backend := reg.Backend()
	if _, err := backend.Get(ctx, KindInteraction, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired row should be gone, err=%v", err)
	}
	if _, err := backend.Get(ctx, KindSession, "long"); err != nil {
		t.Fatalf("live row should remain: %v", err)
	}
	if _, err := backend.Get(ctx, KindAccount, "forever"); err != nil {
		t.Fatalf("row without ttl should remain: %v", err)
	}
}

func TestSweeper_StartStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewRegistry(newTestBackend(t))
	NewSweeper(reg, 10*time.Millisecond).Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
}
