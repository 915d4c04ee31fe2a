// Package field implements the shared car field under four interchangeable
// locking strategies.
//
// Every strategy satisfies the same Field contract and the same safety
// invariants: at most one car per cell, walls only appear over empty cells
// and only disappear from wall cells, and a successful move writes its
// source and destination as one unit. The strategies differ only in lock
// granularity and therefore in latency, fairness and contention:
//
//   - ModeGlobal: one mutex for the whole field.
//   - ModeTargetCell: one mutex per cell; moves lock only the destination.
//   - ModeThreeClass: one mutex per cell value class (empty, car, wall).
//   - ModeOrderedPair: one mutex per cell; moves lock source and destination
//     in index order.
//
// The acting car is carried in the context (see monitor.WithActor) so that
// waiting and progress events can be attributed without goroutine-local
// state.
package field

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/timeutil"
)

// Field is the uniform grid contract. Callers never depend on which strategy
// backs it.
type Field interface {
	Mode() Mode
	Rows() int
	Cols() int

	// CellState returns the state of (r, c) or grid.ErrOutOfRange.
	CellState(r, c int) (grid.CellState, error)

	// AddWall turns an Empty cell into a Wall. It returns false for any
	// other cell, including out-of-range coordinates.
	AddWall(ctx context.Context, r, c int) bool

	// RemoveWall turns a Wall cell into an Empty one.
	RemoveWall(ctx context.Context, r, c int) bool

	// MoveCar moves the car at (fr, fc) to (tr, tc). It succeeds only if
	// the source holds a car and the destination is empty. Moving a cell
	// onto itself is a successful no-op.
	MoveCar(ctx context.Context, fr, fc, tr, tc int) bool

	// RemoveCar turns a Car cell into an Empty one.
	RemoveCar(ctx context.Context, r, c int) bool

	// OccupyFirstFreeCell claims the first Empty cell in row-major order
	// for a new car. It returns grid.ErrNoCapacity after a full scan
	// without a claim.
	OccupyFirstFreeCell(ctx context.Context) (grid.Position, error)

	// Snapshot copies the field. No move is ever seen half applied.
	Snapshot() grid.Snapshot
}

// Mode selects a locking strategy.
type Mode int

const (
	ModeGlobal Mode = iota
	ModeTargetCell
	ModeThreeClass
	ModeOrderedPair
)

// DefaultMode is the strategy used for normal operation.
const DefaultMode = ModeTargetCell

// Modes lists every strategy in declaration order.
var Modes = []Mode{ModeGlobal, ModeTargetCell, ModeThreeClass, ModeOrderedPair}

var modeNames = map[Mode]string{
	ModeGlobal:      "global",
	ModeTargetCell:  "target",
	ModeThreeClass:  "three-class",
	ModeOrderedPair: "ordered-pair",
}

// Names used in event messages.
var modeTags = map[Mode]string{
	ModeGlobal:      "GLOBAL",
	ModeTargetCell:  "TARGET",
	ModeThreeClass:  "THREE",
	ModeOrderedPair: "ORDERED",
}

var modeAliases = map[string]Mode{
	"global_single": ModeGlobal,
	"target_single": ModeTargetCell,
	"target-cell":   ModeTargetCell,
	"three_state":   ModeThreeClass,
	"three-state":   ModeThreeClass,
	"ordered_pair":  ModeOrderedPair,
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("unknown mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts any spelling ParseMode does.
func (m *Mode) UnmarshalText(text []byte) error {
	got, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = got
	return nil
}

// ParseMode parses a strategy name: global, target, three-class or
// ordered-pair. The legacy enum spellings (GLOBAL_SINGLE, TARGET_SINGLE,
// THREE_STATE, ORDERED_PAIR) are accepted too.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}
	if m, ok := modeAliases[name]; ok {
		return m, nil
	}
	return DefaultMode, fmt.Errorf("unknown lock mode %q", s)
}

// ErrUnknownMode is returned by New for a Mode value outside Modes.
var ErrUnknownMode = errors.New("unknown lock mode")

// Config holds everything needed to build a Field.
type Config struct {
	Mode Mode

	// Grid is the initial layout. It is copied; the caller keeps
	// ownership. Nil means an empty 0x0 field.
	Grid *grid.Grid

	// Sink receives progress and waiting events. Nil discards them.
	Sink *monitor.Sink

	// Backoff controls lock retry delays. The zero value uses
	// DefaultBackoff.
	Backoff Backoff

	// Clock is used for retry sleeps. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// New builds a Field of the given mode over a copy of initial.
func New(mode Mode, initial *grid.Grid, sink *monitor.Sink) (Field, error) {
	return NewWithConfig(Config{Mode: mode, Grid: initial, Sink: sink})
}

// Load parses a layout from r and builds a Field of the given mode.
func Load(mode Mode, r io.Reader, sink *monitor.Sink) (Field, error) {
	g, err := grid.ParseLayout(r)
	if err != nil {
		return nil, err
	}
	return New(mode, g, sink)
}

// NewWithConfig builds a Field from cfg.
func NewWithConfig(cfg Config) (Field, error) {
	g := grid.New(0, 0)
	if cfg.Grid != nil {
		g = cfg.Grid.Clone()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	b := &base{
		mode: cfg.Mode,
		tag:  modeTags[cfg.Mode],
		g:    g,
		sink: cfg.Sink,
		wait: waiter{
			sink:    cfg.Sink,
			clock:   cfg.Clock,
			backoff: cfg.Backoff.withDefaults(),
		},
	}

	switch cfg.Mode {
	case ModeGlobal:
		return newGlobal(b), nil
	case ModeTargetCell:
		return newTargetCell(b), nil
	case ModeThreeClass:
		return newThreeClass(b), nil
	case ModeOrderedPair:
		return newOrderedPair(b), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(cfg.Mode))
	}
}

// base carries the state every strategy shares: the cells, the event sink
// and the lock waiter. It holds no strategy locks of its own.
type base struct {
	mode Mode
	tag  string
	g    *grid.Grid
	sink *monitor.Sink
	wait waiter

	// commit is held shared by every two-cell write and exclusively by
	// Snapshot, so a snapshot never observes half of a move.
	commit sync.RWMutex
}

func (b *base) Mode() Mode { return b.mode }
func (b *base) Rows() int  { return b.g.Rows() }
func (b *base) Cols() int  { return b.g.Cols() }

func (b *base) Snapshot() grid.Snapshot {
	b.commit.Lock()
	defer b.commit.Unlock()
	return b.g.Snapshot()
}

// writeMove performs the two writes of a committed move. The caller holds
// the strategy locks covering both cells and has validated them.
func (b *base) writeMove(from, to grid.Position) bool {
	b.commit.RLock()
	defer b.commit.RUnlock()
	if !b.g.CompareAndSwap(from.Row, from.Col, grid.Car, grid.Empty) {
		return false
	}
	b.g.Set(to.Row, to.Col, grid.Car)
	return true
}

// atomic emits a KindAtomic step. The message is only formatted when the
// sink keeps atomic events.
func (b *base) atomic(ctx context.Context, pos grid.Position, format string, args ...any) {
	if !b.sink.Enabled(monitor.KindAtomic) {
		return
	}
	b.sink.EmitAt(ctx, monitor.KindAtomic, "["+b.tag+"] "+fmt.Sprintf(format, args...), pos)
}

func (b *base) emit(ctx context.Context, kind monitor.Kind, pos grid.Position, format string, args ...any) {
	if !b.sink.Enabled(kind) {
		return
	}
	b.sink.EmitAt(ctx, kind, "["+b.tag+"] "+fmt.Sprintf(format, args...), pos)
}

// swapCell changes (r, c) from one state to another. The caller holds the
// locks covering the cell and has checked bounds.
func (b *base) swapCell(ctx context.Context, r, c int, from, to grid.CellState) bool {
	if !b.g.CompareAndSwap(r, c, from, to) {
		return false
	}
	b.atomic(ctx, grid.Position{Row: r, Col: c}, "%s -> %s at %d,%d", from, to, r, c)
	return true
}

// claim sets pos to Car if it is Empty. The caller holds the locks covering
// the cell.
func (b *base) claim(ctx context.Context, pos grid.Position) bool {
	b.atomic(ctx, pos, "try occupy %s", pos)
	if !b.g.CompareAndSwap(pos.Row, pos.Col, grid.Empty, grid.Car) {
		return false
	}
	b.emit(ctx, monitor.KindCritical, pos, "occupied %s", pos)
	return true
}

func (b *base) noCapacity() error {
	return fmt.Errorf("%s field %dx%d: %w", b.mode, b.g.Rows(), b.g.Cols(), grid.ErrNoCapacity)
}
