package control

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/gridlock/internal/timeutil"
)

func TestPause_Toggle(t *testing.T) {
	var p Pause
	if p.Paused() {
		t.Fatal("zero value should be running")
	}
	if !p.Toggle() || !p.Paused() {
		t.Fatal("Toggle should pause")
	}
	if p.Toggle() || p.Paused() {
		t.Fatal("second Toggle should resume")
	}
	p.Pause()
	p.Resume()
	if p.Paused() {
		t.Error("Resume did not clear pause")
	}

	var nilPause *Pause
	if nilPause.Paused() {
		t.Error("nil Pause should never be paused")
	}
}

func TestPause_WaitReturnsImmediatelyWhenRunning(t *testing.T) {
	var p Pause
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	waited, err := p.Wait(context.Background(), clock)
	if err != nil || waited {
		t.Fatalf("Wait() = %v, %v; want false, nil", waited, err)
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("unexpected sleeps: %v", clock.Sleeps())
	}
}

func TestPause_WaitPollsUntilResumed(t *testing.T) {
	var p Pause
	p.Pause()
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Resume()
	}()

	waited, err := p.Wait(context.Background(), timeutil.RealClock{})
	if err != nil || !waited {
		t.Fatalf("Wait() = %v, %v; want true, nil", waited, err)
	}
}

func TestPause_WaitCancelled(t *testing.T) {
	var p Pause
	p.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx, timeutil.NewMockClock(time.Unix(0, 0)))
	if err != context.Canceled {
		t.Errorf("Wait() err = %v, want context.Canceled", err)
	}
}
