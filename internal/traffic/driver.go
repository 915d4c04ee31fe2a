package traffic

import (
	"context"
	"math/rand"
	"time"

	"github.com/banshee-data/gridlock/internal/control"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/timeutil"
)

// DriverConfig tunes a car's driving loop.
type DriverConfig struct {
	// StepDelay is slept after every attempt. Zero drives flat out.
	StepDelay time.Duration
	// MaxSteps stops the loop after that many attempts. Zero runs until the
	// context ends.
	MaxSteps int
	// Pause is polled before every attempt. Nil never pauses.
	Pause *control.Pause
	// Clock is used for sleeps. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// Seed seeds the direction picker. Zero uses the car id.
	Seed int64
}

// Driver moves one car until stopped. It keeps heading in one direction,
// starting Down, and picks a new random direction whenever a move is
// rejected.
type Driver struct {
	server *Server
	car    *Car
	cfg    DriverConfig
	rng    *rand.Rand

	dir      grid.Direction
	attempts int
	moves    int
}

func NewDriver(server *Server, car *Car, cfg DriverConfig) *Driver {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = int64(car.ID())
	}
	return &Driver{
		server: server,
		car:    car,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		dir:    grid.Down,
	}
}

// Step makes one move attempt and picks the next direction.
func (d *Driver) Step(ctx context.Context) bool {
	d.attempts++
	ok := d.server.MoveCar(ctx, d.car, d.dir)
	if ok {
		d.moves++
	} else {
		d.dir = grid.Directions[d.rng.Intn(len(grid.Directions))]
	}
	return ok
}

// Run drives until ctx ends, MaxSteps is reached or the car is destroyed.
// It returns nil when stopped by MaxSteps or destruction and ctx.Err()
// otherwise.
func (d *Driver) Run(ctx context.Context) error {
	sink := d.server.Sink()
	id := d.car.ID()
	sink.SetThreadState(id, monitor.ThreadRunning)
	defer sink.SetThreadState(id, monitor.ThreadTerminated)

	for d.cfg.MaxSteps == 0 || d.attempts < d.cfg.MaxSteps {
		if !d.car.Alive() {
			return nil
		}
		if d.cfg.Pause.Paused() {
			sink.SetThreadState(id, monitor.ThreadPaused)
			_, err := d.cfg.Pause.Wait(ctx, d.cfg.Clock)
			if err != nil {
				return err
			}
			sink.SetThreadState(id, monitor.ThreadRunning)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		d.Step(ctx)

		if d.cfg.StepDelay > 0 {
			if err := d.cfg.Clock.Sleep(ctx, d.cfg.StepDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats returns the number of attempts and successful moves so far. It is
// only safe to call once Run has returned or from Run's goroutine.
func (d *Driver) Stats() (attempts, moves int) {
	return d.attempts, d.moves
}

// Direction is the direction the next attempt will take.
func (d *Driver) Direction() grid.Direction { return d.dir }
