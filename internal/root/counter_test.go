package root

import (
	"context"
	"testing"
	"time"
)

func TestHeartbeatCounterWraps(t *testing.T) {
	var c HeartbeatCounter
	for i := 0; i < 255; i++ {
		c.Next()
	}
	if got := c.Value(); got != 255 {
		t.Fatalf("after 255 increments got %d, want 255", got)
	}
	if got := c.Next(); got != 0 {
		t.Fatalf("256th increment should wrap to 0, got %d", got)
	}
}

func TestHeartbeatCounterStartTicksIndependently(t *testing.T) {
	var c HeartbeatCounter
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Start(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for c.Value() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("counter never advanced")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHeartbeatCounterStartStopsOnCancel(t *testing.T) {
	var c HeartbeatCounter
	ctx, cancel := context.WithCancel(context.Background())
	go c.Start(ctx, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := c.Value()

	time.Sleep(30 * time.Millisecond)
	if c.Value() != stopped {
		t.Fatalf("counter kept advancing after cancel: %d -> %d", stopped, c.Value())
	}
}
