package grid

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// CellState is the content of a single cell.
type CellState uint8

const (
	Empty CellState = iota
	Car
	Wall
)

func (s CellState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Car:
		return "car"
	case Wall:
		return "wall"
	default:
		return fmt.Sprintf("CellState(%d)", uint8(s))
	}
}

// Glyph returns the single character used for s in layout files and in
// Snapshot.String.
func (s CellState) Glyph() byte {
	switch s {
	case Car:
		return 'C'
	case Wall:
		return '*'
	default:
		return '.'
	}
}

// MarshalText encodes the state as its lowercase name.
func (s CellState) MarshalText() ([]byte, error) {
	if s > Wall {
		return nil, fmt.Errorf("unknown cell state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a lowercase state name.
func (s *CellState) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "empty":
		*s = Empty
	case "car":
		*s = Car
	case "wall":
		*s = Wall
	default:
		return fmt.Errorf("unknown cell state %q", text)
	}
	return nil
}

// Grid is a fixed-size rows×cols matrix of cell states.
type Grid struct {
	rows  int
	cols  int
	cells []atomic.Uint32
}

// New returns a grid with every cell Empty. Negative dimensions are treated
// as zero.
func New(rows, cols int) *Grid {
	rows = max(rows, 0)
	cols = max(cols, 0)
	return &Grid{
		rows:  rows,
		cols:  cols,
		cells: make([]atomic.Uint32, rows*cols),
	}
}

// Rows returns the number of rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of columns.
func (g *Grid) Cols() int { return g.cols }

// Len returns the number of cells.
func (g *Grid) Len() int { return len(g.cells) }

// InBounds reports whether (r, c) addresses a cell.
func (g *Grid) InBounds(r, c int) bool {
	return r >= 0 && r < g.rows && c >= 0 && c < g.cols
}

// Index linearises (r, c) in row-major order. The caller must check bounds.
func (g *Grid) Index(r, c int) int {
	return r*g.cols + c
}

// At returns the state of (r, c). The caller must check bounds.
func (g *Grid) At(r, c int) CellState {
	return CellState(g.cells[g.Index(r, c)].Load())
}

// Set stores s at (r, c). The caller must check bounds and hold whatever
// lock its strategy requires.
func (g *Grid) Set(r, c int, s CellState) {
	g.cells[g.Index(r, c)].Store(uint32(s))
}

// CompareAndSwap sets (r, c) to new only if it currently holds old. The
// caller must check bounds.
func (g *Grid) CompareAndSwap(r, c int, old, new CellState) bool {
	return g.cells[g.Index(r, c)].CompareAndSwap(uint32(old), uint32(new))
}

// Get is the bounds-checked form of At.
func (g *Grid) Get(r, c int) (CellState, error) {
	if !g.InBounds(r, c) {
		return Empty, fmt.Errorf("cell (%d,%d) in %dx%d grid: %w", r, c, g.rows, g.cols, ErrOutOfRange)
	}
	return g.At(r, c), nil
}

// Clone returns an independent copy of g.
func (g *Grid) Clone() *Grid {
	out := New(g.rows, g.cols)
	for i := range g.cells {
		out.cells[i].Store(g.cells[i].Load())
	}
	return out
}

// CopyFrom overwrites g with the contents of src. Both grids must have the
// same dimensions.
func (g *Grid) CopyFrom(src *Grid) error {
	if src.rows != g.rows || src.cols != g.cols {
		return fmt.Errorf("copy %dx%d into %dx%d grid: %w", src.rows, src.cols, g.rows, g.cols, ErrOutOfRange)
	}
	for i := range g.cells {
		g.cells[i].Store(src.cells[i].Load())
	}
	return nil
}

// Snapshot copies the current cell states of the raw grid. Cells are read
// one at a time without locks, so a copy taken during a two-cell write may
// show it half applied. field snapshots hold the commit lock and are
// move-consistent.
func (g *Grid) Snapshot() Snapshot {
	s := Snapshot{Rows: g.rows, Cols: g.cols, Cells: make([]CellState, len(g.cells))}
	for i := range g.cells {
		s.Cells[i] = CellState(g.cells[i].Load())
	}
	return s
}

// Count returns how many cells currently hold state s.
func (g *Grid) Count(s CellState) int {
	n := 0
	for i := range g.cells {
		if CellState(g.cells[i].Load()) == s {
			n++
		}
	}
	return n
}

// Snapshot is an immutable copy of a grid's cells in row-major order.
type Snapshot struct {
	Rows  int         `json:"rows"`
	Cols  int         `json:"cols"`
	Cells []CellState `json:"cells"`
}

// At returns the state of (r, c) in the snapshot.
func (s Snapshot) At(r, c int) CellState {
	return s.Cells[r*s.Cols+c]
}

// Count returns how many cells in the snapshot hold state st.
func (s Snapshot) Count(st CellState) int {
	n := 0
	for _, c := range s.Cells {
		if c == st {
			n++
		}
	}
	return n
}

// Positions returns every position holding state st, in row-major order.
func (s Snapshot) Positions(st CellState) []Position {
	var out []Position
	for i, c := range s.Cells {
		if c == st {
			out = append(out, Position{Row: i / s.Cols, Col: i % s.Cols})
		}
	}
	return out
}

// Grid rebuilds a mutable grid from the snapshot.
func (s Snapshot) Grid() *Grid {
	g := New(s.Rows, s.Cols)
	for i, c := range s.Cells {
		g.cells[i].Store(uint32(c))
	}
	return g
}

// String renders the snapshot one row per line using CellState.Glyph.
func (s Snapshot) String() string {
	var b strings.Builder
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			b.WriteByte(s.At(r, c).Glyph())
		}
		b.WriteByte('\n')
	}
	return b.String()
}
