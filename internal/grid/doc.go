// Package grid holds the raw cell matrix shared by every car.
//
// A Grid has no locking of its own. Each cell is stored as an atomic word so
// that snapshot readers never observe a torn value, but every
// check-then-write sequence (claiming a cell, moving a car, toggling a wall)
// belongs to one of the synchronization strategies in package field.
//
// The package also defines the small value types passed around the rest of
// the module: CellState, Position, Direction and Snapshot, plus the loader
// for the plain-text layout format used to seed walls:
//
//	3 4
//	*..*
//	....
//	.**
//
// The first two tokens are the row and column counts. Each following line
// describes one row; a '*' marks a wall and anything else (including a short
// or missing line) leaves the cell empty.
package grid
