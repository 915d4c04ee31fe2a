package field

import (
	"context"
	"sync"

	"github.com/banshee-data/gridlock/internal/grid"
)

// orderedPairField keeps one mutex per cell. Moves lock both source and
// destination, lower linear index first, which gives every pair of locks a
// single global order and rules out a cycle between two cars swapping
// cells.
type orderedPairField struct {
	*base
	locks []sync.Mutex
}

func newOrderedPair(b *base) *orderedPairField {
	return &orderedPairField{base: b, locks: make([]sync.Mutex, b.g.Len())}
}

// lockCell waits for the lock at index i.
func (f *orderedPairField) lockCell(ctx context.Context, i int) error {
	return f.wait.acquire(ctx, "cell lock", f.locks[i].TryLock)
}

func (f *orderedPairField) CellState(r, c int) (grid.CellState, error) {
	if !f.g.InBounds(r, c) {
		return f.g.Get(r, c)
	}
	mu := &f.locks[f.g.Index(r, c)]
	mu.Lock()
	defer mu.Unlock()
	return f.g.At(r, c), nil
}

func (f *orderedPairField) AddWall(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Empty, grid.Wall)
}

func (f *orderedPairField) RemoveWall(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Wall, grid.Empty)
}

func (f *orderedPairField) RemoveCar(ctx context.Context, r, c int) bool {
	return f.toggle(ctx, r, c, grid.Car, grid.Empty)
}

func (f *orderedPairField) toggle(ctx context.Context, r, c int, from, to grid.CellState) bool {
	if !f.g.InBounds(r, c) {
		return false
	}
	i := f.g.Index(r, c)
	if err := f.lockCell(ctx, i); err != nil {
		return false
	}
	defer f.locks[i].Unlock()
	return f.swapCell(ctx, r, c, from, to)
}

func (f *orderedPairField) MoveCar(ctx context.Context, fr, fc, tr, tc int) bool {
	m := f.beginMove(ctx, fr, fc, tr, tc)
	if ok, done := m.precheck(); done {
		return ok
	}

	first, second := f.g.Index(fr, fc), f.g.Index(tr, tc)
	if first > second {
		first, second = second, first
	}

	m.step(MoveAcquiringLocks)
	if err := f.lockCell(ctx, first); err != nil {
		return m.reject(err.Error(), false)
	}
	if err := f.lockCell(ctx, second); err != nil {
		f.locks[first].Unlock()
		return m.reject(err.Error(), false)
	}
	defer f.locks[first].Unlock()
	defer f.locks[second].Unlock()
	defer m.release()
	return m.apply()
}

// OccupyFirstFreeCell waits for each cell's lock in turn. Only one lock is
// held at a time, so the scan cannot deadlock with a move.
func (f *orderedPairField) OccupyFirstFreeCell(ctx context.Context) (grid.Position, error) {
	for r := 0; r < f.g.Rows(); r++ {
		for c := 0; c < f.g.Cols(); c++ {
			i := f.g.Index(r, c)
			if err := f.lockCell(ctx, i); err != nil {
				return grid.Position{}, err
			}
			pos := grid.Position{Row: r, Col: c}
			ok := f.claim(ctx, pos)
			f.locks[i].Unlock()
			if ok {
				return pos, nil
			}
		}
	}
	return grid.Position{}, f.noCapacity()
}
