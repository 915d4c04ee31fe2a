package field

import (
	"context"
	"sync"

	"github.com/banshee-data/gridlock/internal/grid"
)

// threeClassField partitions cells by their current value rather than by
// position: one mutex guards all empty cells, one all cars and one all
// walls. A cell only changes value while both its old and new class locks
// are held, so holding a class lock pins every cell currently in that class.
//
// Pairs are taken in class order and all-or-nothing: if the second lock is
// busy the first is released before backing off.
type threeClassField struct {
	*base
	classes [3]sync.Mutex // indexed by grid.CellState
}

func newThreeClass(b *base) *threeClassField {
	return &threeClassField{base: b}
}

// tryPair takes the class locks of a and b, or neither.
func (f *threeClassField) tryPair(a, b grid.CellState) func() bool {
	if a > b {
		a, b = b, a
	}
	first, second := &f.classes[a], &f.classes[b]
	return func() bool {
		if !first.TryLock() {
			return false
		}
		if a == b {
			return true
		}
		if !second.TryLock() {
			first.Unlock()
			return false
		}
		return true
	}
}

func (f *threeClassField) unlockPair(a, b grid.CellState) {
	f.classes[a].Unlock()
	if a != b {
		f.classes[b].Unlock()
	}
}

// CellState locks the class of the value it sees, then confirms the value
// did not change before the lock was taken.
func (f *threeClassField) CellState(r, c int) (grid.CellState, error) {
	if !f.g.InBounds(r, c) {
		return f.g.Get(r, c)
	}
	for {
		seen := f.g.At(r, c)
		mu := &f.classes[seen]
		mu.Lock()
		now := f.g.At(r, c)
		mu.Unlock()
		if now == seen {
			return now, nil
		}
	}
}

func (f *threeClassField) AddWall(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Empty, grid.Wall)
}

func (f *threeClassField) RemoveWall(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Wall, grid.Empty)
}

func (f *threeClassField) RemoveCar(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Car, grid.Empty)
}

func (f *threeClassField) toggle(ctx context.Context, r, c int, from, to grid.CellState) bool {
	if !f.g.InBounds(r, c) {
		return false
	}
	if err := f.wait.acquire(ctx, "class locks", f.tryPair(from, to)); err != nil {
		return false
	}
	defer f.unlockPair(from, to)
	return f.swapCell(ctx, r, c, from, to)
}

func (f *threeClassField) MoveCar(ctx context.Context, fr, fc, tr, tc int) bool {
	m := f.beginMove(ctx, fr, fc, tr, tc)
	if ok, done := m.precheck(); done {
		return ok
	}

	m.step(MoveAcquiringLocks)
	if err := f.wait.acquire(ctx, "class locks", f.tryPair(grid.Car, grid.Empty)); err != nil {
		return m.reject(err.Error(), false)
	}
	defer f.unlockPair(grid.Car, grid.Empty)
	defer m.release()
	return m.apply()
}

// OccupyFirstFreeCell holds the empty and car class locks for the whole
// scan, so the first empty cell it sees is still empty when claimed.
func (f *threeClassField) OccupyFirstFreeCell(ctx context.Context) (grid.Position, error) {
	if err := f.wait.acquire(ctx, "class locks", f.tryPair(grid.Empty, grid.Car)); err != nil {
		return grid.Position{}, err
	}
	defer f.unlockPair(grid.Empty, grid.Car)

	for r := 0; r < f.g.Rows(); r++ {
		for c := 0; c < f.g.Cols(); c++ {
			if pos := (grid.Position{Row: r, Col: c}); f.claim(ctx, pos) {
				return pos, nil
			}
		}
	}
	return grid.Position{}, f.noCapacity()
}
