package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCounterIncrements(t *testing.T) {
	c := NewMemoryCounter()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Increment(context.Background(), "user-1", time.Minute)
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if got != want {
			t.Fatalf("count: got %d, want %d", got, want)
		}
	}
}

func TestMemoryCounterIsolatesKeys(t *testing.T) {
	c := NewMemoryCounter()

	if _, err := c.Increment(context.Background(), "a", time.Minute); err != nil {
		t.Fatalf("Increment a: %v", err)
	}
	got, err := c.Increment(context.Background(), "b", time.Minute)
	if err != nil {
		t.Fatalf("Increment b: %v", err)
	}
	if got != 1 {
		t.Fatalf("key b count: got %d, want 1", got)
	}
}

func TestMemoryCounterWindowReset(t *testing.T) {
	c := NewMemoryCounter()
	current := time.Now()
	c.now = func() time.Time { return current }

	if _, err := c.Increment(context.Background(), "user-1", time.Minute); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if _, err := c.Increment(context.Background(), "user-1", time.Minute); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	// Past the window the bucket starts over.
	current = current.Add(2 * time.Minute)
	got, err := c.Increment(context.Background(), "user-1", time.Minute)
	if err != nil {
		t.Fatalf("Increment after reset: %v", err)
	}
	if got != 1 {
		t.Fatalf("count after reset: got %d, want 1", got)
	}
}
