package field

import (
	"context"
	"sync"

	"github.com/banshee-data/gridlock/internal/grid"
)

// globalField guards every read and write with one mutex. Disjoint moves are
// serialized too, so throughput is the lowest of the strategies.
type globalField struct {
	*base
	mu sync.Mutex
}

func newGlobal(b *base) *globalField {
	return &globalField{base: b}
}

func (f *globalField) CellState(r, c int) (grid.CellState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.g.Get(r, c)
}

func (f *globalField) AddWall(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Empty, grid.Wall)
}

func (f *globalField) RemoveWall(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Wall, grid.Empty)
}

func (f *globalField) RemoveCar(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Car, grid.Empty)
}

func (f *globalField) toggle(ctx context.Context, r, c int, from, to grid.CellState) bool {
	if !f.g.InBounds(r, c) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swapCell(ctx, r, c, from, to)
}

func (f *globalField) MoveCar(ctx context.Context, fr, fc, tr, tc int) bool {
	m := f.beginMove(ctx, fr, fc, tr, tc)
	if ok, done := m.precheck(); done {
		return ok
	}

	m.step(MoveAcquiringLocks)
	if err := f.wait.acquire(ctx, "global lock", f.mu.TryLock); err != nil {
		return m.reject(err.Error(), false)
	}
	defer f.mu.Unlock()
	defer m.release()
	return m.apply()
}

func (f *globalField) OccupyFirstFreeCell(ctx context.Context) (grid.Position, error) {
	if err := f.wait.acquire(ctx, "global lock", f.mu.TryLock); err != nil {
		return grid.Position{}, err
	}
	defer f.mu.Unlock()

	for r := 0; r < f.g.Rows(); r++ {
		for c := 0; c < f.g.Cols(); c++ {
			if pos := (grid.Position{Row: r, Col: c}); f.claim(ctx, pos) {
				return pos, nil
			}
		}
	}
	return grid.Position{}, f.noCapacity()
}
