// Package monitor is the event sink that every strategy and car reports
// progress into.
//
// Emission is safe from any goroutine. Each event receives a global sequence
// number and the frame index active at emission time, and subscribers see
// events in sequence order. Delivery never blocks the emitter: a subscriber
// whose buffer is full misses the event and the drop is counted.
//
// A nil *Sink is valid and discards everything, so strategies can run
// without observers.
package monitor

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/timeutil"
	"github.com/google/uuid"
)

// DefaultLogLimit is the number of events kept in the in-memory log when
// Options.LogLimit is zero.
const DefaultLogLimit = 10000

// Options configures a Sink.
type Options struct {
	// LogLimit bounds the in-memory event log; the oldest events are
	// discarded first. Negative disables the log.
	LogLimit int

	// Verbose keeps KindAtomic events. When false they are discarded before
	// a sequence number is assigned, which keeps per-step chatter off the
	// hot path.
	Verbose bool

	// Clock stamps events. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// Sink collects events and fans them out to subscribers.
type Sink struct {
	clock    timeutil.Clock
	verbose  bool
	logLimit int

	seq     atomic.Uint64
	frame   atomic.Uint64
	dropped atomic.Uint64

	mu          sync.Mutex
	log         []Event
	subscribers map[string]chan Event
	waitingSubs map[string]chan WaitingChange
	waiting     map[int]bool
	threads     map[int]ThreadState
	closed      bool
}

// NewSink creates a Sink.
func NewSink(opts Options) *Sink {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	limit := opts.LogLimit
	if limit == 0 {
		limit = DefaultLogLimit
	}
	return &Sink{
		clock:       opts.Clock,
		verbose:     opts.Verbose,
		logLimit:    limit,
		subscribers: make(map[string]chan Event),
		waitingSubs: make(map[string]chan WaitingChange),
		waiting:     make(map[int]bool),
		threads:     make(map[int]ThreadState),
	}
}

// Emit records an event attributed to the car carried by ctx, if any.
func (s *Sink) Emit(ctx context.Context, kind Kind, message string) {
	s.emit(ctx, kind, message, nil)
}

// EmitAt is Emit with the cell the event concerns.
func (s *Sink) EmitAt(ctx context.Context, kind Kind, message string, pos grid.Position) {
	s.emit(ctx, kind, message, &pos)
}

// Enabled reports whether events of kind would be recorded. Callers use it
// to skip building messages that would be discarded.
func (s *Sink) Enabled(kind Kind) bool {
	if s == nil {
		return false
	}
	return kind != KindAtomic || s.verbose
}

func (s *Sink) emit(ctx context.Context, kind Kind, message string, cell *grid.Position) {
	if !s.Enabled(kind) {
		return
	}
	ev := Event{
		Kind:    kind,
		Message: message,
		Actor:   ActorFrom(ctx),
		Cell:    cell,
		Time:    s.clock.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// Assigned under the lock so delivery order matches sequence order.
	ev.Seq = s.seq.Add(1)
	ev.Frame = s.frame.Load()

	if s.logLimit > 0 {
		// Trimmed in batches so the copy is amortised across emissions.
		if len(s.log) >= 2*s.logLimit {
			n := copy(s.log, s.log[len(s.log)-s.logLimit:])
			s.log = s.log[:n]
		}
		s.log = append(s.log, ev)
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// BeginFrame starts a new logical frame and returns its index. Events
// emitted afterwards carry the new index.
func (s *Sink) BeginFrame() uint64 {
	if s == nil {
		return 0
	}
	return s.frame.Add(1)
}

// Frame returns the current frame index.
func (s *Sink) Frame() uint64 {
	if s == nil {
		return 0
	}
	return s.frame.Load()
}

// Seq returns the sequence number of the most recent event.
func (s *Sink) Seq() uint64 {
	if s == nil {
		return 0
	}
	return s.seq.Load()
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (s *Sink) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Log returns a copy of the retained events, oldest first.
func (s *Sink) Log() []Event {
	if s == nil || s.logLimit < 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := max(len(s.log)-s.logLimit, 0)
	out := make([]Event, len(s.log)-start)
	copy(out, s.log[start:])
	return out
}

// Subscribe registers a subscriber with the given buffer size. The returned
// id is used to unsubscribe. After Close the channel is returned closed.
func (s *Sink) Subscribe(buffer int) (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, max(buffer, 0))
	if s == nil {
		close(ch)
		return id, ch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Sink) Unsubscribe(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SetWaiting records whether actor is blocked on a lock and notifies waiting
// subscribers. Calls for NoActor are ignored.
func (s *Sink) SetWaiting(actor int, waiting bool) {
	if s == nil || actor == NoActor {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if waiting {
		s.waiting[actor] = true
	} else {
		delete(s.waiting, actor)
	}
	change := WaitingChange{Actor: actor, Waiting: waiting}
	for _, ch := range s.waitingSubs {
		select {
		case ch <- change:
		default:
			s.dropped.Add(1)
		}
	}
}

// Waiting returns the set of cars currently waiting for a lock.
func (s *Sink) Waiting() map[int]bool {
	out := make(map[int]bool)
	if s == nil {
		return out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.waiting {
		out[id] = true
	}
	return out
}

// SubscribeWaiting registers a subscriber for waiting changes.
func (s *Sink) SubscribeWaiting(buffer int) (string, <-chan WaitingChange) {
	id := uuid.NewString()
	ch := make(chan WaitingChange, max(buffer, 0))
	if s == nil {
		close(ch)
		return id, ch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.waitingSubs[id] = ch
	return id, ch
}

// UnsubscribeWaiting removes a waiting subscriber and closes its channel.
func (s *Sink) UnsubscribeWaiting(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waitingSubs[id]; ok {
		close(ch)
		delete(s.waitingSubs, id)
	}
}

// SetThreadState records a car's run state and emits a KindThread event.
func (s *Sink) SetThreadState(actor int, state ThreadState) {
	if s == nil || actor == NoActor {
		return
	}
	s.mu.Lock()
	if state == ThreadTerminated {
		delete(s.threads, actor)
	} else {
		s.threads[actor] = state
	}
	s.mu.Unlock()
	s.Emit(WithActor(context.Background(), actor), KindThread, "car-"+strconv.Itoa(actor)+" -> "+string(state))
}

// ThreadStates returns a copy of the known car run states.
func (s *Sink) ThreadStates() map[int]ThreadState {
	out := make(map[int]ThreadState)
	if s == nil {
		return out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.threads {
		out[id] = st
	}
	return out
}

// Close closes every subscriber channel. Later emissions are discarded and
// later subscriptions receive closed channels.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	for id, ch := range s.waitingSubs {
		close(ch)
		delete(s.waitingSubs, id)
	}
}
