package traffic

import "github.com/banshee-data/gridlock/internal/grid"

// Listener observes car lifecycle and field changes. Callbacks run on the
// goroutine that caused them, after the field has been updated, and must not
// block for long.
type Listener interface {
	CarCreated(car CarSnapshot)
	CarDestroyed(car CarSnapshot)
	CarMoved(car CarSnapshot, from, to grid.Position, ok bool)
	FieldChanged()
}

// NopListener implements Listener with no-ops. Embed it to implement only
// some callbacks.
type NopListener struct{}

func (NopListener) CarCreated(CarSnapshot) {}
func (NopListener) CarDestroyed(CarSnapshot) {}
func (NopListener) CarMoved(CarSnapshot, grid.Position, grid.Position, bool) {}
func (NopListener) FieldChanged() {}

// Listeners fans every callback out to each listener in order.
type Listeners []Listener

func (ls Listeners) CarCreated(car CarSnapshot) {
	for _, l := range ls {
		l.CarCreated(car)
	}
}

func (ls Listeners) CarDestroyed(car CarSnapshot) {
	for _, l := range ls {
		l.CarDestroyed(car)
	}
}

func (ls Listeners) CarMoved(car CarSnapshot, from, to grid.Position, ok bool) {
	for _, l := range ls {
		l.CarMoved(car, from, to, ok)
	}
}

func (ls Listeners) FieldChanged() {
	for _, l := range ls {
		l.FieldChanged()
	}
}
