package field

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/timeutil"
)

// ErrLockTimeout is returned by OccupyFirstFreeCell when Backoff.MaxAttempts
// is set and a lock could not be obtained in that many retries.
var ErrLockTimeout = errors.New("lock retries exhausted")

// DefaultBackoff is used when a Config leaves Backoff zero.
var DefaultBackoff = Backoff{Base: time.Millisecond, Max: 20 * time.Millisecond}

// Backoff controls how a strategy retries a lock it failed to take.
type Backoff struct {
	// Base is the first retry delay. It doubles every ten attempts.
	Base time.Duration
	// Max caps the delay.
	Max time.Duration
	// MaxAttempts bounds the retries. Zero retries until the context ends.
	MaxAttempts int
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBackoff.Base
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoff.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	return b
}

// Delay returns the sleep before retry number attempt (starting at 1).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	factor := min(max(attempt, 0)/10, 20)
	return min(b.Base*time.Duration(1<<uint(factor)), b.Max)
}

// waiter runs try-lock loops. While a caller retries it is reported to the
// sink as waiting.
type waiter struct {
	sink    *monitor.Sink
	clock   timeutil.Clock
	backoff Backoff
}

// acquire calls try until it reports success. It returns ctx.Err() if the
// context ends between retries, or ErrLockTimeout once MaxAttempts retries
// have failed. try must not block.
func (w *waiter) acquire(ctx context.Context, what string, try func() bool) error {
	if try() {
		return nil
	}

	actor := monitor.ActorFrom(ctx)
	w.sink.SetWaiting(actor, true)
	defer w.sink.SetWaiting(actor, false)

	for attempt := 1; ; attempt++ {
		if w.backoff.MaxAttempts > 0 && attempt > w.backoff.MaxAttempts {
			w.sink.Emit(ctx, monitor.KindWaiting, "gave up waiting for "+what)
			return ErrLockTimeout
		}
		if err := w.clock.Sleep(ctx, w.backoff.Delay(attempt)); err != nil {
			return err
		}
		if try() {
			return nil
		}
	}
}
