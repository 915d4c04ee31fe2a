package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/gridlock/internal/grid"
)

// Kind classifies an event.
type Kind uint8

const (
	// KindAtomic marks a single primitive step: a lock attempt, a cell check
	// or a cell write.
	KindAtomic Kind = iota
	// KindBehaviorStart marks the start of a composite call such as a move.
	KindBehaviorStart
	// KindBehaviorEnd marks a composite call that committed.
	KindBehaviorEnd
	// KindCritical marks a notable outcome, usually a rejected move.
	KindCritical
	// KindThread reports a change in a car's run state.
	KindThread
	// KindWaiting reports lock contention outside of the waiting channel,
	// for example a bounded retry giving up.
	KindWaiting
)

var kindNames = [...]string{
	KindAtomic:        "atomic",
	KindBehaviorStart: "behavior_start",
	KindBehaviorEnd:   "behavior_end",
	KindCritical:      "critical",
	KindThread:        "thread",
	KindWaiting:       "waiting",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// MarshalText encodes the kind as its snake_case name.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText parses a snake_case kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	got, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = got
	return nil
}

// ParseKind parses a kind name. Upper-case tick names
// (ATOMIC, BEHAVIOR_START, ...) are accepted too.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return KindAtomic, fmt.Errorf("unknown event kind %q", s)
}

// NoActor is the Actor value of events not attributed to a car.
const NoActor = 0

// Event is an immutable record emitted through a Sink.
type Event struct {
	Seq     uint64         `json:"seq"`
	Frame   uint64         `json:"frame"`
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Actor   int            `json:"actor,omitempty"`
	Cell    *grid.Position `json:"cell,omitempty"`
	Time    time.Time      `json:"time"`
}

// HasActor reports whether the event belongs to a car.
func (e Event) HasActor() bool { return e.Actor != NoActor }

func (e Event) String() string {
	return fmt.Sprintf("#%d %s (frame %d)", e.Actor, e.Message, e.Frame)
}

// ThreadState is the run state of a car's driver goroutine.
type ThreadState string

const (
	ThreadRunning    ThreadState = "running"
	ThreadWaiting    ThreadState = "waiting"
	ThreadPaused     ThreadState = "paused"
	ThreadTerminated ThreadState = "terminated"
)

// WaitingChange is delivered on the waiting channel whenever a car starts or
// stops waiting for a lock.
type WaitingChange struct {
	Actor   int  `json:"actor"`
	Waiting bool `json:"waiting"`
}

type actorKey struct{}

// WithActor returns a context attributing events and waiting state to car id.
func WithActor(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, actorKey{}, id)
}

// ActorFrom returns the car id carried by ctx, or NoActor.
func ActorFrom(ctx context.Context) int {
	if ctx == nil {
		return NoActor
	}
	if id, ok := ctx.Value(actorKey{}).(int); ok {
		return id
	}
	return NoActor
}
