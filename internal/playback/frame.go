// Package playback records what the field looked like after every car
// action, in memory and optionally as an on-disk frame log that can be read
// back with OpenLog.
package playback

import (
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/traffic"
)

// Reason says which callback produced a frame.
type Reason string

const (
	ReasonInitial      Reason = "initial"
	ReasonCarCreated   Reason = "car_created"
	ReasonCarDestroyed Reason = "car_destroyed"
	ReasonCarMoved     Reason = "car_moved"
	ReasonMoveRejected Reason = "move_rejected"
	ReasonField        Reason = "field_changed"
)

// Overlay marks the action that produced a frame.
type Overlay struct {
	Actor       int           `json:"actor"`
	From        grid.Position `json:"from"`
	To          grid.Position `json:"to"`
	Description string        `json:"description"`
}

// Frame is one recorded step.
type Frame struct {
	Index       uint64                `json:"index"`
	EventFrame  uint64                `json:"event_frame"`
	TimestampNs int64                 `json:"timestamp_ns"`
	Reason      Reason                `json:"reason"`
	Grid        grid.Snapshot         `json:"grid"`
	Cars        []traffic.CarSnapshot `json:"cars"`
	Overlay     *Overlay              `json:"overlay,omitempty"`
}
