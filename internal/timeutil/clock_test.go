package timeutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRealClock_SleepCompletes(t *testing.T) {
	var c RealClock
	start := c.Now()
	if err := c.Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if got := c.Since(start); got < 5*time.Millisecond {
		t.Errorf("Since() = %v, want >= 5ms", got)
	}
}

func TestRealClock_SleepCancelled(t *testing.T) {
	var c RealClock
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := c.Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly after cancellation")
	}
}

func TestRealClock_NonPositiveSleep(t *testing.T) {
	var c RealClock
	if err := c.Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Sleep(ctx, -time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep(-1s) on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestMockClock(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if err := c.Sleep(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if err := c.Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	c.Advance(time.Second)

	if got, want := c.Since(base), time.Second+30*time.Millisecond; got != want {
		t.Errorf("Since() = %v, want %v", got, want)
	}
	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 10*time.Millisecond || sleeps[1] != 20*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockClock_SleepCancelled(t *testing.T) {
	c := NewMockClock(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() error = %v, want context.Canceled", err)
	}
	if len(c.Sleeps()) != 0 {
		t.Error("cancelled Sleep should not be recorded")
	}
}
