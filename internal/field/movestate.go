package field

import (
	"context"
	"fmt"

	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
)

// MoveState is a step of a single move attempt. Every strategy walks the
// same machine:
//
//	Idle -> AcquiringLocks -> Validating -> Committed | Rejected -> Released
//
// Rejected is a normal outcome, not an error: the destination was taken or
// the source no longer held a car.
type MoveState int

const (
	MoveIdle MoveState = iota
	MoveAcquiringLocks
	MoveValidating
	MoveCommitted
	MoveRejected
	MoveReleased
)

var moveStateNames = [...]string{
	MoveIdle:           "idle",
	MoveAcquiringLocks: "acquiring locks",
	MoveValidating:     "validating",
	MoveCommitted:      "committed",
	MoveRejected:       "rejected",
	MoveReleased:       "released",
}

func (s MoveState) String() string {
	if s >= 0 && int(s) < len(moveStateNames) {
		return moveStateNames[s]
	}
	return fmt.Sprintf("MoveState(%d)", int(s))
}

// moveTrace reports the progress of one move through the sink.
type moveTrace struct {
	b        *base
	ctx      context.Context
	from, to grid.Position
	state    MoveState
}

func (b *base) beginMove(ctx context.Context, fr, fc, tr, tc int) moveTrace {
	m := moveTrace{
		b:    b,
		ctx:  ctx,
		from: grid.Position{Row: fr, Col: fc},
		to:   grid.Position{Row: tr, Col: tc},
	}
	b.emit(ctx, monitor.KindBehaviorStart, m.to, "move %s -> %s", m.from, m.to)
	return m
}

func (m *moveTrace) step(s MoveState) {
	m.state = s
	m.b.atomic(m.ctx, m.to, "%s %s -> %s", s, m.from, m.to)
}

// reject ends the attempt without writing. A taken destination is reported
// as critical; anything else is an atomic step.
func (m *moveTrace) reject(reason string, critical bool) bool {
	m.state = MoveRejected
	kind := monitor.KindAtomic
	if critical {
		kind = monitor.KindCritical
	}
	m.b.emit(m.ctx, kind, m.to, "rejected %s -> %s: %s", m.from, m.to, reason)
	return false
}

func (m *moveTrace) commit() bool {
	m.state = MoveCommitted
	m.b.emit(m.ctx, monitor.KindBehaviorEnd, m.to, "moved %s -> %s", m.from, m.to)
	return true
}

func (m *moveTrace) release() {
	m.step(MoveReleased)
}

// validate checks the move's preconditions on the cells themselves. The
// caller holds whichever locks its strategy needs.
func (m *moveTrace) validate() bool {
	m.step(MoveValidating)
	g := m.b.g
	if g.At(m.from.Row, m.from.Col) != grid.Car {
		return m.reject("no car at source", false)
	}
	if dst := g.At(m.to.Row, m.to.Col); dst != grid.Empty {
		return m.reject("destination is "+dst.String(), true)
	}
	return true
}

// apply validates and writes the move.
func (m *moveTrace) apply() bool {
	if !m.validate() {
		return false
	}
	if !m.b.writeMove(m.from, m.to) {
		return m.reject("source changed", false)
	}
	return m.commit()
}

// precheck handles the cases every strategy answers before taking locks:
// invalid coordinates are rejected and a move onto itself succeeds. done
// reports whether ok is final.
func (m *moveTrace) precheck() (ok, done bool) {
	g := m.b.g
	if !g.InBounds(m.from.Row, m.from.Col) || !g.InBounds(m.to.Row, m.to.Col) {
		return m.reject("out of range", true), true
	}
	if m.from == m.to {
		return m.commit(), true
	}
	return false, false
}
