// Package traffic runs cars on a field: it owns the car lifecycle, the
// per-car driver loop and the background wall randomizer.
package traffic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/gridlock/internal/field"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/monitoring"
)

var logf = monitoring.Prefixed("traffic")

// Server creates, moves and destroys cars on a Field. Every action starts a
// new frame on the sink so observers can group its events.
type Server struct {
	field field.Field
	sink  *monitor.Sink

	listenMu  sync.RWMutex
	listeners Listeners

	nextID atomic.Int64

	mu   sync.RWMutex
	cars map[int]*Car
}

// NewServer creates a Server. Any listeners are called in order after each
// action.
func NewServer(f field.Field, sink *monitor.Sink, listeners ...Listener) *Server {
	return &Server{
		field:     f,
		sink:      sink,
		listeners: Listeners(listeners),
		cars:      make(map[int]*Car),
	}
}

// AddListener registers l after any existing listeners.
func (s *Server) AddListener(l Listener) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Server) listener() Listener {
	s.listenMu.RLock()
	defer s.listenMu.RUnlock()
	return s.listeners
}

// Snapshot copies the field's cells.
func (s *Server) Snapshot() grid.Snapshot { return s.field.Snapshot() }

// Field returns the field cars drive on.
func (s *Server) Field() field.Field { return s.field }

// Sink returns the event sink, which may be nil.
func (s *Server) Sink() *monitor.Sink { return s.sink }

// CreateCar claims the first free cell for a new car. Ids start at 1 and
// strictly increase; an id is consumed even if no cell is free.
func (s *Server) CreateCar(ctx context.Context, name string) (*Car, error) {
	s.sink.BeginFrame()
	id := int(s.nextID.Add(1))
	actx := monitor.WithActor(ctx, id)

	pos, err := s.field.OccupyFirstFreeCell(actx)
	if err != nil {
		s.sink.Emit(actx, monitor.KindCritical, fmt.Sprintf("car-%d found no free cell: %v", id, err))
		return nil, fmt.Errorf("failed to place car %d: %w", id, err)
	}

	car := &Car{id: id, name: name, pos: pos, alive: true}
	s.mu.Lock()
	s.cars[id] = car
	s.mu.Unlock()

	snap := car.Snapshot()
	s.sink.EmitAt(actx, monitor.KindBehaviorEnd, snap.Label()+" created at "+pos.String(), pos)
	logf("created %s at %s", snap.Label(), pos)
	s.listener().CarCreated(snap)
	return car, nil
}

// DestroyCar removes car from the live set and frees its cell. It returns
// false if the car was already destroyed.
func (s *Server) DestroyCar(ctx context.Context, car *Car) bool {
	if car == nil {
		return false
	}
	car.act.Lock()
	defer car.act.Unlock()
	if !car.kill() {
		return false
	}
	s.mu.Lock()
	delete(s.cars, car.id)
	s.mu.Unlock()

	s.sink.BeginFrame()
	actx := monitor.WithActor(ctx, car.id)
	pos := car.Position()
	if !s.field.RemoveCar(actx, pos.Row, pos.Col) {
		logf("car-%d: cell %s was not freed", car.id, pos)
	}

	snap := car.Snapshot()
	s.sink.EmitAt(actx, monitor.KindBehaviorEnd, snap.Label()+" destroyed", pos)
	s.sink.SetThreadState(car.id, monitor.ThreadTerminated)
	logf("destroyed %s", snap.Label())
	s.listener().CarDestroyed(snap)
	return true
}

// MoveCar tries to move car one cell in dir. A false result means the move
// was rejected: the cell was taken, walled or off the field.
func (s *Server) MoveCar(ctx context.Context, car *Car, dir grid.Direction) bool {
	if car == nil {
		return false
	}
	car.act.Lock()
	defer car.act.Unlock()
	if !car.Alive() {
		return false
	}
	s.sink.BeginFrame()
	actx := monitor.WithActor(ctx, car.id)
	from := car.Position()
	to := from.Move(dir)

	if s.sink.Enabled(monitor.KindBehaviorStart) {
		s.sink.EmitAt(actx, monitor.KindBehaviorStart, fmt.Sprintf("car-%d try move %s", car.id, dir), to)
	}
	ok := s.field.MoveCar(actx, from.Row, from.Col, to.Row, to.Col)
	if ok {
		car.setPosition(to)
	} else if s.sink.Enabled(monitor.KindCritical) {
		s.sink.EmitAt(actx, monitor.KindCritical, fmt.Sprintf("car-%d blocked at %s", car.id, to), to)
	}
	s.listener().CarMoved(car.Snapshot(), from, to, ok)
	return ok
}

// AddWall and RemoveWall change the field outside of any car and notify
// listeners when they succeed.
func (s *Server) AddWall(ctx context.Context, pos grid.Position) bool {
	return s.toggleWall(ctx, pos, true)
}

func (s *Server) RemoveWall(ctx context.Context, pos grid.Position) bool {
	return s.toggleWall(ctx, pos, false)
}

func (s *Server) toggleWall(ctx context.Context, pos grid.Position, add bool) bool {
	var ok bool
	if add {
		ok = s.field.AddWall(ctx, pos.Row, pos.Col)
	} else {
		ok = s.field.RemoveWall(ctx, pos.Row, pos.Col)
	}
	if !ok {
		return false
	}
	verb := "removed"
	if add {
		verb = "added"
	}
	s.sink.EmitAt(ctx, monitor.KindBehaviorEnd, "wall "+verb+" at "+pos.String(), pos)
	s.listener().FieldChanged()
	return true
}

// Car returns the live car with the given id.
func (s *Server) Car(id int) (*Car, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cars[id]
	return c, ok
}

// Cars returns the live cars ordered by id.
func (s *Server) Cars() []*Car {
	s.mu.RLock()
	out := make([]*Car, 0, len(s.cars))
	for _, c := range s.cars {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// CarSnapshots returns snapshots of the live cars ordered by id.
func (s *Server) CarSnapshots() []CarSnapshot {
	cars := s.Cars()
	out := make([]CarSnapshot, len(cars))
	for i, c := range cars {
		out[i] = c.Snapshot()
	}
	return out
}
