package grid

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AllEmpty(t *testing.T) {
	g := New(3, 4)
	assert.Equal(t, 3, g.Rows())
	assert.Equal(t, 4, g.Cols())
	assert.Equal(t, 12, g.Len())
	assert.Equal(t, 12, g.Count(Empty))
}

func TestNew_NegativeDimensions(t *testing.T) {
	g := New(-2, 5)
	assert.Equal(t, 0, g.Rows())
	assert.Equal(t, 0, g.Len())
}

func TestGrid_GetOutOfRange(t *testing.T) {
	g := New(2, 2)
	for _, tc := range []struct{ r, c int }{{-1, 0}, {0, -1}, {2, 0}, {0, 2}} {
		_, err := g.Get(tc.r, tc.c)
		assert.True(t, errors.Is(err, ErrOutOfRange), "(%d,%d) err = %v", tc.r, tc.c, err)
	}
	s, err := g.Get(1, 1)
	require.NoError(t, err)
	assert.Equal(t, Empty, s)
}

func TestGrid_SetAndSnapshot(t *testing.T) {
	g := New(2, 3)
	g.Set(0, 1, Wall)
	g.Set(1, 2, Car)

	snap := g.Snapshot()
	assert.Equal(t, Wall, snap.At(0, 1))
	assert.Equal(t, Car, snap.At(1, 2))
	assert.Equal(t, ".*.\n..C\n", snap.String())
	assert.Equal(t, []Position{{Row: 1, Col: 2}}, snap.Positions(Car))

	// Snapshot is a copy.
	g.Set(0, 1, Empty)
	assert.Equal(t, Wall, snap.At(0, 1))
}

func TestGrid_CompareAndSwap(t *testing.T) {
	g := New(1, 2)
	g.Set(0, 0, Car)
	assert.False(t, g.CompareAndSwap(0, 1, Car, Empty))
	assert.True(t, g.CompareAndSwap(0, 0, Car, Empty))
	assert.False(t, g.CompareAndSwap(0, 0, Car, Empty))
	assert.Equal(t, 2, g.Count(Empty))
}

func TestGrid_CloneIsIndependent(t *testing.T) {
	g := New(2, 2)
	g.Set(0, 0, Wall)
	c := g.Clone()
	c.Set(1, 1, Car)

	if diff := cmp.Diff("*.\n..\n", g.Snapshot().String()); diff != "" {
		t.Errorf("original changed (-want +got):\n%s", diff)
	}
	assert.Equal(t, Empty, g.At(1, 1))
	assert.Equal(t, Wall, c.At(0, 0))
}

func TestGrid_CopyFromDimensionMismatch(t *testing.T) {
	g := New(2, 2)
	err := g.CopyFrom(New(3, 2))
	assert.ErrorIs(t, err, ErrOutOfRange)

	src := New(2, 2)
	src.Set(1, 0, Wall)
	require.NoError(t, g.CopyFrom(src))
	assert.Equal(t, Wall, g.At(1, 0))
}

func TestSnapshot_RoundTripGrid(t *testing.T) {
	g := New(3, 3)
	g.Set(1, 1, Wall)
	g.Set(2, 0, Car)
	snap := g.Snapshot()

	if diff := cmp.Diff(snap, snap.Grid().Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCellState_JSON(t *testing.T) {
	data, err := json.Marshal(Snapshot{Rows: 1, Cols: 3, Cells: []CellState{Empty, Car, Wall}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":1,"cols":3,"cells":["empty","car","wall"]}`, string(data))

	var s Snapshot
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, []CellState{Empty, Car, Wall}, s.Cells)

	var bad CellState
	assert.Error(t, bad.UnmarshalText([]byte("lava")))
}

func TestPosition_Move(t *testing.T) {
	p := Position{Row: 0, Col: 0}
	assert.Equal(t, Position{Row: -1, Col: 0}, p.Move(Up))
	assert.Equal(t, Position{Row: 1, Col: 0}, p.Move(Down))
	assert.Equal(t, Position{Row: 0, Col: -1}, p.Move(Left))
	assert.Equal(t, Position{Row: 0, Col: 1}, p.Move(Right))
	assert.Equal(t, 7, Position{Row: 1, Col: 3}.Index(4))
	assert.Equal(t, "1,3", Position{Row: 1, Col: 3}.String())
}

func TestParseDirection(t *testing.T) {
	for _, d := range Directions {
		got, err := ParseDirection(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	got, err := ParseDirection(" DOWN ")
	require.NoError(t, err)
	assert.Equal(t, Down, got)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
