package grid

import "errors"

var (
	// ErrOutOfRange is returned when a coordinate falls outside the grid.
	ErrOutOfRange = errors.New("coordinates out of range")

	// ErrNoCapacity is returned when a full scan finds no empty cell.
	ErrNoCapacity = errors.New("no empty cells")

	// ErrBadLayout is returned when a layout header cannot be used.
	ErrBadLayout = errors.New("invalid layout")
)
