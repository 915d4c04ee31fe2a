package traffic

import (
	"strconv"
	"sync"

	"github.com/banshee-data/gridlock/internal/grid"
)

// Car is one actor on the field. Its position is only updated by the Server
// after the field accepted a move.
type Car struct {
	id int

	// act serializes the server's actions on this car so a destroy never
	// races a move that is still being committed.
	act sync.Mutex

	mu    sync.RWMutex
	name  string
	pos   grid.Position
	alive bool
}

// CarSnapshot is an immutable copy of a car's state.
type CarSnapshot struct {
	ID       int           `json:"id"`
	Name     string        `json:"name,omitempty"`
	Position grid.Position `json:"position"`
	Alive    bool          `json:"alive"`
}

func (c *Car) ID() int { return c.id }

func (c *Car) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Car) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// Position returns where the car was after its last successful move.
func (c *Car) Position() grid.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pos
}

// Alive reports whether the car is still on the field.
func (c *Car) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

func (c *Car) Snapshot() CarSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CarSnapshot{ID: c.id, Name: c.name, Position: c.pos, Alive: c.alive}
}

// Label is the car's display label, e.g. "car-3" or "car-3 (Alex)".
func (s CarSnapshot) Label() string {
	label := "car-" + strconv.Itoa(s.ID)
	if s.Name != "" {
		label += " (" + s.Name + ")"
	}
	return label
}

func (c *Car) setPosition(p grid.Position) {
	c.mu.Lock()
	c.pos = p
	c.mu.Unlock()
}

// kill marks the car destroyed and reports whether it was alive.
func (c *Car) kill() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}
