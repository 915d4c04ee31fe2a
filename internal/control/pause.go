// Package control holds simulation-wide run controls shared by car drivers
// and the wall randomizer.
package control

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/gridlock/internal/timeutil"
)

// PollInterval is how often Wait re-checks a paused flag.
const PollInterval = 50 * time.Millisecond

// Pause is a shared pause/resume flag. The zero value is running. Loops poll
// it before each step; pausing never interrupts a step in progress.
type Pause struct {
	paused atomic.Bool
}

// Pause stops loops at their next poll.
func (p *Pause) Pause() { p.paused.Store(true) }

// Resume lets paused loops continue.
func (p *Pause) Resume() { p.paused.Store(false) }

// Toggle flips the flag and returns the new paused state.
func (p *Pause) Toggle() bool {
	for {
		old := p.paused.Load()
		if p.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Paused reports whether loops should hold. A nil Pause is never paused.
func (p *Pause) Paused() bool {
	return p != nil && p.paused.Load()
}

// Wait blocks while p is paused, polling every PollInterval on clock. It
// returns ctx.Err() if ctx ends first, and reports whether it had to wait.
func (p *Pause) Wait(ctx context.Context, clock timeutil.Clock) (bool, error) {
	waited := false
	for p.Paused() {
		waited = true
		if err := clock.Sleep(ctx, PollInterval); err != nil {
			return waited, err
		}
	}
	return waited, ctx.Err()
}
