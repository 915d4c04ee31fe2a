package traffic

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/gridlock/internal/control"
	"github.com/banshee-data/gridlock/internal/field"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type moveRecord struct {
	id       int
	from, to grid.Position
	ok       bool
}

// recordingListener collects callbacks for assertions.
type recordingListener struct {
	mu        sync.Mutex
	created   []int
	destroyed []int
	moves     []moveRecord
	changes   int
}

func (l *recordingListener) CarCreated(c CarSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, c.ID)
}

func (l *recordingListener) CarDestroyed(c CarSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyed = append(l.destroyed, c.ID)
}

func (l *recordingListener) CarMoved(c CarSnapshot, from, to grid.Position, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.moves = append(l.moves, moveRecord{c.ID, from, to, ok})
}

func (l *recordingListener) FieldChanged() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes++
}

func newTestServer(t *testing.T, mode field.Mode, layout string, listeners ...Listener) (*Server, *monitor.Sink) {
	t.Helper()
	sink := monitor.NewSink(monitor.Options{})
	t.Cleanup(sink.Close)
	f, err := field.Load(mode, strings.NewReader(layout), sink)
	require.NoError(t, err)
	return NewServer(f, sink, listeners...), sink
}

func TestServer_CreateCarAssignsIncreasingIDs(t *testing.T) {
	rec := &recordingListener{}
	s, sink := newTestServer(t, field.ModeTargetCell, "2 2\n..\n.*\n", rec)
	ctx := context.Background()

	a, err := s.CreateCar(ctx, "Alex")
	require.NoError(t, err)
	b, err := s.CreateCar(ctx, "")
	require.NoError(t, err)
	c, err := s.CreateCar(ctx, "Nata")
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, []int{a.ID(), b.ID(), c.ID()})
	assert.Equal(t, grid.Position{Row: 0, Col: 0}, a.Position())
	assert.Equal(t, grid.Position{Row: 0, Col: 1}, b.Position())
	assert.Equal(t, grid.Position{Row: 1, Col: 0}, c.Position())
	assert.Equal(t, "car-1 (Alex)", a.Snapshot().Label())
	assert.Equal(t, "car-2", b.Snapshot().Label())

	_, err = s.CreateCar(ctx, "Boris")
	assert.ErrorIs(t, err, grid.ErrNoCapacity)

	d, err := s.CreateCar(ctx, "late")
	require.Error(t, err)
	assert.Nil(t, d)

	assert.Equal(t, []int{1, 2, 3}, rec.created)
	assert.Len(t, s.Cars(), 3)
	assert.GreaterOrEqual(t, sink.Frame(), uint64(5))
}

func TestServer_MoveCar(t *testing.T) {
	for _, mode := range field.Modes {
		t.Run(mode.String(), func(t *testing.T) {
			rec := &recordingListener{}
			s, sink := newTestServer(t, mode, "3 3\n...\n...\n...\n", rec)
			ctx := context.Background()

			x, err := s.CreateCar(ctx, "x")
			require.NoError(t, err)

			assert.True(t, s.MoveCar(ctx, x, grid.Down))
			assert.True(t, s.MoveCar(ctx, x, grid.Down))
			assert.False(t, s.MoveCar(ctx, x, grid.Down))
			assert.Equal(t, grid.Position{Row: 2, Col: 0}, x.Position())

			require.Len(t, rec.moves, 3)
			assert.Equal(t, moveRecord{1, grid.Position{Row: 2, Col: 0}, grid.Position{Row: 3, Col: 0}, false}, rec.moves[2])

			var blocked []string
			for _, ev := range sink.Log() {
				if ev.Kind == monitor.KindCritical && strings.HasPrefix(ev.Message, "car-1 blocked") {
					blocked = append(blocked, ev.Message)
					assert.Equal(t, 1, ev.Actor)
				}
			}
			assert.Equal(t, []string{"car-1 blocked at 3,0"}, blocked)
		})
	}
}

func TestServer_DestroyCarFreesCell(t *testing.T) {
	rec := &recordingListener{}
	s, sink := newTestServer(t, field.ModeOrderedPair, "1 2\n..\n", rec)
	ctx := context.Background()

	a, err := s.CreateCar(ctx, "")
	require.NoError(t, err)
	_, err = s.CreateCar(ctx, "")
	require.NoError(t, err)

	assert.True(t, s.DestroyCar(ctx, a))
	assert.False(t, s.DestroyCar(ctx, a), "second destroy is a no-op")
	assert.False(t, a.Alive())
	assert.False(t, s.MoveCar(ctx, a, grid.Right))
	_, ok := s.Car(1)
	assert.False(t, ok)

	st, err := s.Field().CellState(0, 0)
	require.NoError(t, err)
	assert.Equal(t, grid.Empty, st)

	c, err := s.CreateCar(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, c.ID())
	assert.Equal(t, grid.Position{Row: 0, Col: 0}, c.Position())

	assert.Equal(t, []int{1}, rec.destroyed)
	snaps := s.CarSnapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, 2, snaps[0].ID)
	assert.Equal(t, 3, snaps[1].ID)
	assert.NotContains(t, sink.ThreadStates(), 1)
}

func TestServer_Walls(t *testing.T) {
	rec := &recordingListener{}
	s, _ := newTestServer(t, field.ModeThreeClass, "1 2\n*.\n", rec)
	ctx := context.Background()

	assert.False(t, s.AddWall(ctx, grid.Position{Row: 0, Col: 0}))
	assert.True(t, s.RemoveWall(ctx, grid.Position{Row: 0, Col: 0}))
	assert.True(t, s.AddWall(ctx, grid.Position{Row: 0, Col: 1}))
	assert.Equal(t, 2, rec.changes)
}

func TestDriver_TurnsWhenBlocked(t *testing.T) {
	s, _ := newTestServer(t, field.ModeTargetCell, "2 1\n.\n.\n")
	ctx := context.Background()
	car, err := s.CreateCar(ctx, "")
	require.NoError(t, err)

	d := NewDriver(s, car, DriverConfig{Seed: 1})
	assert.Equal(t, grid.Down, d.Direction())
	assert.True(t, d.Step(ctx))
	assert.False(t, d.Step(ctx), "bottom edge")

	attempts, moves := d.Stats()
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, moves)
}

func TestDriver_RunStopsAfterMaxSteps(t *testing.T) {
	s, sink := newTestServer(t, field.ModeGlobal, "3 3\n...\n.*.\n...\n")
	ctx := context.Background()
	car, err := s.CreateCar(ctx, "")
	require.NoError(t, err)

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	d := NewDriver(s, car, DriverConfig{MaxSteps: 50, StepDelay: 10 * time.Millisecond, Clock: clock})
	require.NoError(t, d.Run(ctx))

	attempts, moves := d.Stats()
	assert.Equal(t, 50, attempts)
	assert.Greater(t, moves, 0)
	assert.Len(t, clock.Sleeps(), 50)

	snap := s.Field().Snapshot()
	assert.Equal(t, 1, snap.Count(grid.Car))
	assert.Equal(t, grid.Car, snap.At(car.Position().Row, car.Position().Col))
	assert.Empty(t, sink.ThreadStates(), "terminated cars leave the state table")
}

func TestDriver_RunHonoursPauseAndCancel(t *testing.T) {
	s, sink := newTestServer(t, field.ModeTargetCell, "2 2\n..\n..\n")
	car, err := s.CreateCar(context.Background(), "")
	require.NoError(t, err)

	var pause control.Pause
	pause.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDriver(s, car, DriverConfig{Pause: &pause})

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sink.ThreadStates()[car.ID()] == monitor.ThreadPaused
	}, 2*time.Second, 5*time.Millisecond)
	attempts, _ := d.Stats()
	assert.Zero(t, attempts)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
}

func TestDriver_StopsWhenDestroyed(t *testing.T) {
	s, _ := newTestServer(t, field.ModeTargetCell, "2 2\n..\n..\n")
	ctx := context.Background()
	car, err := s.CreateCar(ctx, "")
	require.NoError(t, err)
	require.True(t, s.DestroyCar(ctx, car))

	d := NewDriver(s, car, DriverConfig{})
	assert.NoError(t, d.Run(ctx))
	attempts, _ := d.Stats()
	assert.Zero(t, attempts)
}

func TestWallRandomizer_Step(t *testing.T) {
	rec := &recordingListener{}
	s, _ := newTestServer(t, field.ModeTargetCell, "4 4\n....\n....\n....\n....\n", rec)
	w := NewWallRandomizer(s, WallConfig{Seed: 3})
	ctx := context.Background()

	changed := 0
	for i := 0; i < 40; i++ {
		pos, added, ok := w.Step(ctx)
		if !ok {
			continue
		}
		changed++
		st, err := s.Field().CellState(pos.Row, pos.Col)
		require.NoError(t, err)
		if added {
			assert.Equal(t, grid.Wall, st)
		} else {
			assert.Equal(t, grid.Empty, st)
		}
	}
	assert.Greater(t, changed, 0)
	assert.Equal(t, changed, rec.changes)
}

func TestWallRandomizer_NeverTouchesCars(t *testing.T) {
	s, _ := newTestServer(t, field.ModeOrderedPair, "1 1\n.\n")
	ctx := context.Background()
	_, err := s.CreateCar(ctx, "")
	require.NoError(t, err)

	w := NewWallRandomizer(s, WallConfig{Seed: 9, Attempts: 5})
	for i := 0; i < 20; i++ {
		_, _, ok := w.Step(ctx)
		assert.False(t, ok)
	}
	st, err := s.Field().CellState(0, 0)
	require.NoError(t, err)
	assert.Equal(t, grid.Car, st)
}

func TestWallRandomizer_RunSleepsBetweenSteps(t *testing.T) {
	s, _ := newTestServer(t, field.ModeGlobal, "2 2\n..\n..\n")
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	w := NewWallRandomizer(s, WallConfig{Clock: clock, Seed: 4})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(clock.Sleeps()) >= 5 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	for _, d := range clock.Sleeps() {
		assert.GreaterOrEqual(t, d, DefaultWallMinInterval)
		assert.Less(t, d, DefaultWallMaxInterval)
	}
}

func TestCounter_TalliesPerCar(t *testing.T) {
	counter := NewCounter()
	s, _ := newTestServer(t, field.ModeGlobal, "1 3\n...\n", counter)
	ctx := context.Background()

	a, err := s.CreateCar(ctx, "a")
	require.NoError(t, err)
	b, err := s.CreateCar(ctx, "")
	require.NoError(t, err)

	assert.False(t, s.MoveCar(ctx, a, grid.Right))
	assert.True(t, s.MoveCar(ctx, b, grid.Right))
	assert.True(t, s.MoveCar(ctx, a, grid.Right))
	require.True(t, s.DestroyCar(ctx, b))

	counts := counter.Counts()
	require.Len(t, counts, 2)
	assert.Equal(t, CarCount{ID: 1, Label: "car-1 (a)", Attempts: 2, Moves: 1, Alive: true}, counts[0])
	assert.Equal(t, CarCount{ID: 2, Label: "car-2", Attempts: 1, Moves: 1, Alive: false}, counts[1])
	assert.Equal(t, 1, counts[0].Rejected())

	attempts, moves := counter.Totals()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, moves)
}
