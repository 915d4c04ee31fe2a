// Package bench drives every locking strategy under the same load and
// summarises how they compare: throughput, acceptance rate, per-attempt
// latency and how often cars had to wait for a lock.
package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/gridlock/internal/field"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/monitoring"
	"github.com/banshee-data/gridlock/internal/traffic"
)

var logf = monitoring.Prefixed("bench")

// Config describes one benchmark. Every mode runs the same layout, car
// count, step count and seeds.
type Config struct {
	// Layout is the starting grid. Nil uses an empty DefaultRows x
	// DefaultCols grid.
	Layout *grid.Grid
	// Modes to compare. Empty compares field.Modes.
	Modes []field.Mode
	// Cars placed at the start of each run.
	Cars int
	// Steps is the number of move attempts each car makes.
	Steps int
	// Runs repeats each mode to smooth out scheduling noise.
	Runs int
	// WallSteps is the number of wall randomizer actions interleaved with
	// the cars. Zero disables walls.
	WallSteps int
	Backoff   field.Backoff
	Seed      int64
}

// Defaults for Config fields left zero.
const (
	DefaultRows  = 12
	DefaultCols  = 12
	DefaultCars  = 8
	DefaultSteps = 500
	DefaultRuns  = 3
)

// DefaultConfig returns a config comparing every mode on an empty grid.
func DefaultConfig() Config {
	return Config{
		Modes:     field.Modes,
		Cars:      DefaultCars,
		Steps:     DefaultSteps,
		Runs:      DefaultRuns,
		WallSteps: 50,
		Seed:      1,
	}
}

func (c Config) withDefaults() Config {
	if c.Layout == nil {
		c.Layout = grid.New(DefaultRows, DefaultCols)
	}
	if len(c.Modes) == 0 {
		c.Modes = field.Modes
	}
	if c.Cars <= 0 {
		c.Cars = DefaultCars
	}
	if c.Steps <= 0 {
		c.Steps = DefaultSteps
	}
	if c.Runs <= 0 {
		c.Runs = DefaultRuns
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// Result is the outcome of one run of one mode.
type Result struct {
	Mode     field.Mode    `json:"mode"`
	Run      int           `json:"run"`
	Cars     int           `json:"cars"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Attempts int           `json:"attempts"`
	Moves    int           `json:"moves"`
	Waits    int           `json:"lock_waits"`
	Walls    int           `json:"wall_changes"`
	// Consistent reports whether the final grid held exactly one Car cell
	// per placed car.
	Consistent bool `json:"consistent"`
	// Latencies holds every attempt's duration in microseconds.
	Latencies []float64 `json:"-"`
}

// Throughput is accepted moves per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Moves) / r.Elapsed.Seconds()
}

// AcceptRate is the fraction of attempts the field accepted.
func (r Result) AcceptRate() float64 {
	if r.Attempts == 0 {
		return 0
	}
	return float64(r.Moves) / float64(r.Attempts)
}

// ErrNoCars is returned when the layout has no room for a single car.
var ErrNoCars = errors.New("no car could be placed")

// Run benchmarks every configured mode in turn. Modes run one after another
// so they never compete for CPU.
func Run(ctx context.Context, cfg Config) ([]Result, error) {
	cfg = cfg.withDefaults()
	results := make([]Result, 0, len(cfg.Modes)*cfg.Runs)
	for _, mode := range cfg.Modes {
		for run := 0; run < cfg.Runs; run++ {
			res, err := runOnce(ctx, cfg, mode, run)
			if err != nil {
				return results, fmt.Errorf("%s run %d: %w", mode, run, err)
			}
			logf("%s run %d: %d/%d moves in %v (%.0f moves/s, %d waits)",
				mode, run, res.Moves, res.Attempts, res.Elapsed, res.Throughput(), res.Waits)
			results = append(results, res)
		}
	}
	return results, nil
}

func runOnce(ctx context.Context, cfg Config, mode field.Mode, run int) (Result, error) {
	sink := monitor.NewSink(monitor.Options{LogLimit: -1})
	defer sink.Close()

	f, err := field.NewWithConfig(field.Config{Mode: mode, Grid: cfg.Layout, Sink: sink, Backoff: cfg.Backoff})
	if err != nil {
		return Result{}, err
	}
	counter := traffic.NewCounter()
	server := traffic.NewServer(f, sink, counter)

	waitID, waiting := sink.SubscribeWaiting(1024)
	waitsDone := make(chan int)
	go func() {
		n := 0
		for change := range waiting {
			if change.Waiting {
				n++
			}
		}
		waitsDone <- n
	}()

	var cars []*traffic.Car
	for i := 0; i < cfg.Cars; i++ {
		car, err := server.CreateCar(ctx, "")
		if errors.Is(err, grid.ErrNoCapacity) {
			break
		}
		if err != nil {
			sink.UnsubscribeWaiting(waitID)
			<-waitsDone
			return Result{}, err
		}
		cars = append(cars, car)
	}
	if len(cars) == 0 {
		sink.UnsubscribeWaiting(waitID)
		<-waitsDone
		return Result{}, ErrNoCars
	}

	seed := cfg.Seed + int64(run)*1000
	latencies := make([][]float64, len(cars))
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i, car := range cars {
		d := traffic.NewDriver(server, car, traffic.DriverConfig{Seed: seed + int64(i) + 1})
		g.Go(func() error {
			lat := make([]float64, 0, cfg.Steps)
			for n := 0; n < cfg.Steps; n++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				t0 := time.Now()
				d.Step(gctx)
				lat = append(lat, float64(time.Since(t0).Nanoseconds())/1e3)
			}
			latencies[i] = lat
			return nil
		})
	}
	wallChanges := 0
	if cfg.WallSteps > 0 {
		walls := traffic.NewWallRandomizer(server, traffic.WallConfig{Seed: seed})
		g.Go(func() error {
			for n := 0; n < cfg.WallSteps; n++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if _, _, ok := walls.Step(gctx); ok {
					wallChanges++
				}
			}
			return nil
		})
	}
	err = g.Wait()
	elapsed := time.Since(start)

	sink.UnsubscribeWaiting(waitID)
	waits := <-waitsDone
	if err != nil {
		return Result{}, err
	}

	snap := server.Snapshot()
	consistent := snap.Count(grid.Car) == len(cars)
	for _, car := range cars {
		if p := car.Position(); snap.At(p.Row, p.Col) != grid.Car {
			consistent = false
		}
	}

	attempts, moves := counter.Totals()
	res := Result{
		Mode:       mode,
		Run:        run,
		Cars:       len(cars),
		Elapsed:    elapsed,
		Attempts:   attempts,
		Moves:      moves,
		Waits:      waits,
		Walls:      wallChanges,
		Consistent: consistent,
	}
	for _, lat := range latencies {
		res.Latencies = append(res.Latencies, lat...)
	}
	return res, nil
}
