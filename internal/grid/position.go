package grid

import (
	"fmt"
	"strings"
)

// Position addresses a cell. Positions compare by value.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Move returns the neighbouring position in direction d. No bounds are
// applied; the grid rejects positions that fall outside it.
func (p Position) Move(d Direction) Position {
	switch d {
	case Up:
		return Position{Row: p.Row - 1, Col: p.Col}
	case Down:
		return Position{Row: p.Row + 1, Col: p.Col}
	case Left:
		return Position{Row: p.Row, Col: p.Col - 1}
	case Right:
		return Position{Row: p.Row, Col: p.Col + 1}
	default:
		return p
	}
}

// Index linearises p for a grid with the given column count.
func (p Position) Index(cols int) int {
	return p.Row*cols + p.Col
}

func (p Position) String() string {
	return fmt.Sprintf("%d,%d", p.Row, p.Col)
}

// Direction is one of the four moves a car can attempt.
type Direction uint8

const (
	Up Direction = iota
	Down
	Left
	Right
)

// Directions lists every direction in declaration order.
var Directions = [...]Direction{Up, Down, Left, Right}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// ParseDirection accepts a direction name in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	}
	return Up, fmt.Errorf("unknown direction %q", s)
}
