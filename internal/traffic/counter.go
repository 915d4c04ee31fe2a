package traffic

import (
	"sort"
	"sync"

	"github.com/banshee-data/gridlock/internal/grid"
)

// CarCount is one car's tally of move attempts.
type CarCount struct {
	ID       int    `json:"id"`
	Label    string `json:"label"`
	Attempts int    `json:"attempts"`
	Moves    int    `json:"moves"`
	Alive    bool   `json:"alive"`
}

// Rejected is the number of attempts the field turned down.
func (c CarCount) Rejected() int { return c.Attempts - c.Moves }

// Counter is a Listener that tallies attempts and accepted moves per car.
type Counter struct {
	mu   sync.Mutex
	cars map[int]*CarCount
}

var _ Listener = (*Counter)(nil)

func NewCounter() *Counter {
	return &Counter{cars: make(map[int]*CarCount)}
}

func (c *Counter) entry(car CarSnapshot) *CarCount {
	e, ok := c.cars[car.ID]
	if !ok {
		e = &CarCount{ID: car.ID}
		c.cars[car.ID] = e
	}
	e.Label = car.Label()
	e.Alive = car.Alive
	return e
}

func (c *Counter) CarCreated(car CarSnapshot) {
	c.mu.Lock()
	c.entry(car)
	c.mu.Unlock()
}

func (c *Counter) CarDestroyed(car CarSnapshot) {
	c.mu.Lock()
	c.entry(car).Alive = false
	c.mu.Unlock()
}

func (c *Counter) CarMoved(car CarSnapshot, _, _ grid.Position, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(car)
	e.Attempts++
	if ok {
		e.Moves++
	}
}

func (c *Counter) FieldChanged() {}

// Counts returns every car's tally ordered by id.
func (c *Counter) Counts() []CarCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CarCount, 0, len(c.cars))
	for _, e := range c.cars {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Totals sums attempts and moves over every car.
func (c *Counter) Totals() (attempts, moves int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.cars {
		attempts += e.Attempts
		moves += e.Moves
	}
	return attempts, moves
}
