package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS = 1 token every 100ms, burst 1.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	// First call consumes the initial token immediately.
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	// Second call should wait roughly one refill interval.
	start = time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_SharedAcrossCallers(t *testing.T) {
	// The bucket is global: a token consumed for one identifier delays the
	// next caller regardless of which URL it is fetching.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected shared bucket to delay second caller, waited only %v", dur)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(cancelCtx); err == nil {
		t.Fatal("expected error when context expires before a token is available")
	}
}

func TestLimiter_DisabledWhenRateNonPositive(t *testing.T) {
	l := New(Config{RPS: 0, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if dur := time.Since(start); dur > 50*time.Millisecond {
		t.Errorf("expected unlimited rate, 100 waits took %v", dur)
	}
}

func TestLimiter_UpdateLimits(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	l.UpdateLimits(0, 1)

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur > 50*time.Millisecond {
		t.Errorf("expected immediate wait after lifting limit, took %v", dur)
	}
}
