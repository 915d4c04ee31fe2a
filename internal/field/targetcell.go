package field

import (
	"context"
	"sync"

	"github.com/banshee-data/gridlock/internal/grid"
)

// targetCellField keeps one mutex per cell. Moves lock only the destination
// and hold a single lock at a time, so no ordering protocol is needed.
// Occupy and wall toggles try-lock the one cell they touch and skip it if
// another caller holds it.
type targetCellField struct {
	*base
	locks []sync.Mutex
}

func newTargetCell(b *base) *targetCellField {
	return &targetCellField{base: b, locks: make([]sync.Mutex, b.g.Len())}
}

func (f *targetCellField) lockFor(r, c int) *sync.Mutex {
	return &f.locks[f.g.Index(r, c)]
}

func (f *targetCellField) CellState(r, c int) (grid.CellState, error) {
	if !f.g.InBounds(r, c) {
		return f.g.Get(r, c)
	}
	mu := f.lockFor(r, c)
	mu.Lock()
	defer mu.Unlock()
	return f.g.At(r, c), nil
}

func (f *targetCellField) AddWall(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Empty, grid.Wall)
}

func (f *targetCellField) RemoveWall(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Wall, grid.Empty)
}

// toggle gives up rather than waiting if the cell is locked elsewhere.
func (f *targetCellField) toggle(ctx context.Context, r, c int, from, to grid.CellState) bool {
	if !f.g.InBounds(r, c) {
		return false
	}
	mu := f.lockFor(r, c)
	if !mu.TryLock() {
		f.atomic(ctx, grid.Position{Row: r, Col: c}, "cell %d,%d busy", r, c)
		return false
	}
	defer mu.Unlock()
	return f.swapCell(ctx, r, c, from, to)
}

func (f *targetCellField) RemoveCar(ctx context.Context, r, c int) bool {
	if !f.g.InBounds(r, c) {
		return false
	}
	mu := f.lockFor(r, c)
	if err := f.wait.acquire(ctx, "cell lock", mu.TryLock); err != nil {
		return false
	}
	defer mu.Unlock()
	return f.swapCell(ctx, r, c, grid.Car, grid.Empty)
}

// MoveCar holds only the destination lock. Every write that makes a cell
// non-empty holds that cell's lock, and the source is vacated with a
// compare-and-swap, so two moves can never claim the same destination or
// duplicate the same car.
func (f *targetCellField) MoveCar(ctx context.Context, fr, fc, tr, tc int) bool {
	m := f.beginMove(ctx, fr, fc, tr, tc)
	if ok, done := m.precheck(); done {
		return ok
	}

	m.step(MoveAcquiringLocks)
	mu := f.lockFor(tr, tc)
	if err := f.wait.acquire(ctx, "destination lock", mu.TryLock); err != nil {
		return m.reject(err.Error(), false)
	}
	defer mu.Unlock()
	defer m.release()
	return m.apply()
}

// OccupyFirstFreeCell never waits: a cell locked by someone else is skipped,
// so under contention a scan can report ErrNoCapacity while a cell is free.
func (f *targetCellField) OccupyFirstFreeCell(ctx context.Context) (grid.Position, error) {
	for r := 0; r < f.g.Rows(); r++ {
		for c := 0; c < f.g.Cols(); c++ {
			if err := ctx.Err(); err != nil {
				return grid.Position{}, err
			}
			mu := f.lockFor(r, c)
			if !mu.TryLock() {
				continue
			}
			ok := f.claim(ctx, grid.Position{Row: r, Col: c})
			mu.Unlock()
			if ok {
				return grid.Position{Row: r, Col: c}, nil
			}
		}
	}
	return grid.Position{}, f.noCapacity()
}
