package field

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type move struct{ from, to grid.Position }

// runCars occupies a cell for each car and then has every car attempt
// steps random moves. It returns each car's start cell and its successful
// moves in the order that car made them.
func runCars(t *testing.T, f Field, cars, steps int, seed int64) ([]grid.Position, [][]move) {
	t.Helper()
	ctx := context.Background()

	starts := make([]grid.Position, cars)
	for i := range starts {
		pos, err := f.OccupyFirstFreeCell(monitor.WithActor(ctx, i+1))
		require.NoError(t, err)
		starts[i] = pos
	}

	moves := make([][]move, cars)
	var wg sync.WaitGroup
	for i := 0; i < cars; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(i)))
			actx := monitor.WithActor(ctx, i+1)
			pos := starts[i]
			for s := 0; s < steps; s++ {
				next := pos.Move(grid.Directions[rng.Intn(len(grid.Directions))])
				if f.MoveCar(actx, pos.Row, pos.Col, next.Row, next.Col) {
					moves[i] = append(moves[i], move{pos, next})
					pos = next
				}
			}
		}(i)
	}
	wg.Wait()
	return starts, moves
}

// Replaying every car's successful moves on a fresh copy of the layout must
// land each car exactly where the field says it is: no move lost, none
// duplicated, never two cars on one cell.
func TestConcurrentMoves_ReplayMatchesFinalGrid(t *testing.T) {
	layout := "6 6\n......\n.*..*.\n......\n..**..\n......\n*....*\n"
	forEachMode(t, func(t *testing.T, mode Mode) {
		initial := mustLayout(t, layout)
		f := newField(t, mode, initial, nil)

		const cars = 10
		starts, moves := runCars(t, f, cars, 300, 42)

		replay := initial.Clone()
		occupied := make(map[grid.Position]int)
		for i, start := range starts {
			pos := start
			for n, m := range moves[i] {
				require.Equal(t, pos, m.from, "car %d move %d does not start where the car was", i+1, n)
				require.Equal(t, 1, abs(m.to.Row-m.from.Row)+abs(m.to.Col-m.from.Col), "car %d jumped", i+1)
				require.Equal(t, grid.Empty, initial.At(m.to.Row, m.to.Col), "car %d drove into a wall", i+1)
				pos = m.to
			}
			if other, ok := occupied[pos]; ok {
				t.Fatalf("cars %d and %d both end at %s", other, i+1, pos)
			}
			occupied[pos] = i + 1
			replay.Set(pos.Row, pos.Col, grid.Car)
		}

		final := f.Snapshot()
		if diff := cmp.Diff(replay.Snapshot(), final); diff != "" {
			t.Errorf("replay mismatch (-replay +field):\n%s", diff)
		}
		assert.Equal(t, cars, final.Count(grid.Car))
		assert.Equal(t, initial.Count(grid.Wall), final.Count(grid.Wall))
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func TestConcurrentOccupy_UniqueCells(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode Mode) {
		f := newField(t, mode, grid.New(8, 8), nil)

		const cars = 32
		results := make(chan grid.Position, cars)
		var wg sync.WaitGroup
		for i := 0; i < cars; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				ctx := monitor.WithActor(context.Background(), id)
				// The per-cell scan may skip busy cells; retry as a caller would.
				for {
					pos, err := f.OccupyFirstFreeCell(ctx)
					if err == nil {
						results <- pos
						return
					}
					assert.ErrorIs(t, err, grid.ErrNoCapacity)
				}
			}(i + 1)
		}
		wg.Wait()
		close(results)

		seen := make(map[grid.Position]bool)
		for pos := range results {
			assert.False(t, seen[pos], "cell %s claimed twice", pos)
			seen[pos] = true
		}
		assert.Len(t, seen, cars)
		assert.Equal(t, cars, f.Snapshot().Count(grid.Car))
	})
}

// Two cars repeatedly try to drive into each other's cell while a third
// lane keeps them busy. Every strategy must finish, and the ordered-pair
// and three-class strategies are the ones that take more than one lock.
func TestSwapStress_Terminates(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode Mode) {
		g := grid.New(2, 2)
		g.Set(0, 0, grid.Car)
		g.Set(0, 1, grid.Car)
		g.Set(1, 0, grid.Car)
		f := newField(t, mode, g, nil)

		a, b := grid.Position{Row: 0, Col: 0}, grid.Position{Row: 0, Col: 1}
		done := make(chan struct{})
		go func() {
			defer close(done)
			var wg sync.WaitGroup
			for i, pair := range [][2]grid.Position{{a, b}, {b, a}} {
				wg.Add(1)
				go func(id int, from, to grid.Position) {
					defer wg.Done()
					ctx := monitor.WithActor(context.Background(), id)
					for n := 0; n < 2000; n++ {
						if f.MoveCar(ctx, from.Row, from.Col, to.Row, to.Col) {
							from, to = to, from
						}
					}
				}(i+1, pair[0], pair[1])
			}
			// A third car circles through the free cell so swaps sometimes
			// find an empty destination.
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx := monitor.WithActor(context.Background(), 3)
				ring := []grid.Position{{Row: 1, Col: 0}, {Row: 1, Col: 1}, {Row: 0, Col: 1}, {Row: 0, Col: 0}}
				at := 0
				for n := 0; n < 2000; n++ {
					next := (at + 1) % len(ring)
					if f.MoveCar(ctx, ring[at].Row, ring[at].Col, ring[next].Row, ring[next].Col) {
						at = next
					}
				}
			}()
			wg.Wait()
		}()

		select {
		case <-done:
		case <-time.After(20 * time.Second):
			t.Fatal("swap stress did not terminate")
		}
		assert.Equal(t, 3, f.Snapshot().Count(grid.Car))
	})
}

// Walls toggled concurrently with moving cars never land on or remove a car.
func TestConcurrentWallsAndCars(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode Mode) {
		f := newField(t, mode, grid.New(5, 5), nil)

		const cars = 5
		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(7))
			for ctx.Err() == nil {
				r, c := rng.Intn(5), rng.Intn(5)
				if rng.Intn(2) == 0 {
					f.AddWall(ctx, r, c)
				} else {
					f.RemoveWall(ctx, r, c)
				}
			}
		}()

		runCars(t, f, cars, 200, 11)
		cancel()
		wg.Wait()

		assert.Equal(t, cars, f.Snapshot().Count(grid.Car))
	})
}

// Snapshots taken while cars are placed and moved never lose a car: a half
// applied move would show one fewer.
func TestSnapshot_NeverSeesHalfMove(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode Mode) {
		f := newField(t, mode, grid.New(4, 4), nil)
		const cars = 6

		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		bad, last := 0, 0
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				n := f.Snapshot().Count(grid.Car)
				if n < last {
					bad++
				}
				last = n
			}
		}()

		runCars(t, f, cars, 300, 5)
		cancel()
		wg.Wait()
		assert.Zero(t, bad, "snapshots with a half-applied move")
	})
}

func TestWaiting_ReportedWhileBlocked(t *testing.T) {
	sink := monitor.NewSink(monitor.Options{})
	defer sink.Close()

	g := grid.New(1, 2)
	g.Set(0, 0, grid.Car)
	f, err := NewWithConfig(Config{Mode: ModeGlobal, Grid: g, Sink: sink, Backoff: fastBackoff})
	require.NoError(t, err)
	gf := f.(*globalField)

	_, changes := sink.SubscribeWaiting(8)
	gf.mu.Lock()

	result := make(chan bool, 1)
	go func() {
		result <- f.MoveCar(monitor.WithActor(context.Background(), 4), 0, 0, 0, 1)
	}()

	assert.Equal(t, monitor.WaitingChange{Actor: 4, Waiting: true}, <-changes)
	assert.Equal(t, map[int]bool{4: true}, sink.Waiting())

	gf.mu.Unlock()
	assert.True(t, <-result)
	assert.Equal(t, monitor.WaitingChange{Actor: 4, Waiting: false}, <-changes)
	assert.Empty(t, sink.Waiting())
}

func TestBoundedRetries_GiveUp(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sink := monitor.NewSink(monitor.Options{Clock: clock})
	defer sink.Close()

	g := grid.New(1, 2)
	g.Set(0, 0, grid.Car)
	f, err := NewWithConfig(Config{
		Mode:    ModeGlobal,
		Grid:    g,
		Sink:    sink,
		Clock:   clock,
		Backoff: Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 3},
	})
	require.NoError(t, err)
	gf := f.(*globalField)
	gf.mu.Lock()
	defer gf.mu.Unlock()

	ctx := monitor.WithActor(context.Background(), 1)
	_, err = f.OccupyFirstFreeCell(ctx)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, clock.Sleeps())

	assert.False(t, f.MoveCar(ctx, 0, 0, 0, 1))
	assert.Empty(t, sink.Waiting())

	var gaveUp int
	for _, ev := range sink.Log() {
		if ev.Kind == monitor.KindWaiting {
			gaveUp++
		}
	}
	assert.Equal(t, 2, gaveUp)
}

func TestCancelledWhileWaiting(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode Mode) {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		g := grid.New(1, 2)
		g.Set(0, 0, grid.Car)
		f, err := NewWithConfig(Config{Mode: mode, Grid: g, Clock: clock})
		require.NoError(t, err)

		unlock := holdLocks(t, f)
		defer unlock()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, f.MoveCar(ctx, 0, 0, 0, 1))
		_, err = f.OccupyFirstFreeCell(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// holdLocks takes every lock a move from (0,0) to (0,1) would need and
// returns a func releasing them.
func holdLocks(t *testing.T, f Field) func() {
	t.Helper()
	switch f := f.(type) {
	case *globalField:
		f.mu.Lock()
		return f.mu.Unlock
	case *targetCellField:
		for i := range f.locks {
			f.locks[i].Lock()
		}
		return func() {
			for i := range f.locks {
				f.locks[i].Unlock()
			}
		}
	case *threeClassField:
		f.classes[grid.Car].Lock()
		return f.classes[grid.Car].Unlock
	case *orderedPairField:
		for i := range f.locks {
			f.locks[i].Lock()
		}
		return func() {
			for i := range f.locks {
				f.locks[i].Unlock()
			}
		}
	}
	t.Fatalf("unexpected field type %T", f)
	return nil
}

func TestTargetCell_OccupySkipsBusyCells(t *testing.T) {
	f := newField(t, ModeTargetCell, grid.New(1, 3), nil)
	tf := f.(*targetCellField)

	tf.locks[0].Lock()
	pos, err := f.OccupyFirstFreeCell(context.Background())
	require.NoError(t, err)
	assert.Equal(t, grid.Position{Row: 0, Col: 1}, pos)

	tf.locks[2].Lock()
	_, err = f.OccupyFirstFreeCell(context.Background())
	assert.ErrorIs(t, err, grid.ErrNoCapacity, "busy cells are skipped, not awaited")

	assert.False(t, f.AddWall(context.Background(), 0, 2), "busy cell rejects a wall")
	tf.locks[2].Unlock()
	tf.locks[0].Unlock()
	assert.True(t, f.AddWall(context.Background(), 0, 2))
}

func TestThreeClass_PairIsAllOrNothing(t *testing.T) {
	sink := monitor.NewSink(monitor.Options{})
	defer sink.Close()

	g := grid.New(1, 2)
	g.Set(0, 0, grid.Car)
	f := newField(t, ModeThreeClass, g, sink)
	tf := f.(*threeClassField)

	_, changes := sink.SubscribeWaiting(8)
	tf.classes[grid.Car].Lock()

	result := make(chan bool, 1)
	go func() {
		result <- f.MoveCar(monitor.WithActor(context.Background(), 2), 0, 0, 0, 1)
	}()
	require.Equal(t, monitor.WaitingChange{Actor: 2, Waiting: true}, <-changes)

	// The mover must not sit on the empty-class lock while it waits.
	assert.Eventually(t, func() bool {
		if tf.classes[grid.Empty].TryLock() {
			tf.classes[grid.Empty].Unlock()
			return true
		}
		return false
	}, 2*time.Second, time.Millisecond)

	tf.classes[grid.Car].Unlock()
	assert.True(t, <-result)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Millisecond, Max: 20 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Millisecond},
		{9, time.Millisecond},
		{10, 2 * time.Millisecond},
		{25, 4 * time.Millisecond},
		{30, 8 * time.Millisecond},
		{45, 16 * time.Millisecond},
		{50, 20 * time.Millisecond},
		{10000, 20 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}

	assert.Equal(t, DefaultBackoff.Base, Backoff{}.Delay(1))
	assert.Equal(t, 3*time.Millisecond, Backoff{Base: 3 * time.Millisecond, Max: time.Millisecond}.Delay(50))
}
