package playback

import (
	"fmt"
	"sync"

	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/monitoring"
	"github.com/banshee-data/gridlock/internal/timeutil"
	"github.com/banshee-data/gridlock/internal/traffic"
)

var logf = monitoring.Prefixed("playback")

// DefaultLimit is the number of frames kept in memory.
const DefaultLimit = 1000

// Source is what the recorder snapshots. *traffic.Server implements it.
type Source interface {
	Snapshot() grid.Snapshot
	CarSnapshots() []traffic.CarSnapshot
}

// Options configures a Recorder.
type Options struct {
	// Limit caps the in-memory frames; older frames are dropped. Zero uses
	// DefaultLimit and a negative value keeps none.
	Limit int

	// Log, when set, receives every frame. The recorder closes it.
	Log *LogWriter

	// Sink supplies the event frame each recorded frame belongs to.
	Sink *monitor.Sink

	Clock timeutil.Clock
}

// Recorder captures a Frame on every traffic callback. It implements
// traffic.Listener.
type Recorder struct {
	src   Source
	sink  *monitor.Sink
	clock timeutil.Clock
	limit int

	mu     sync.Mutex
	next   uint64
	frames []Frame
	log    *LogWriter
	logErr error
}

var _ traffic.Listener = (*Recorder)(nil)

// NewRecorder creates a recorder for src.
func NewRecorder(src Source, opts Options) *Recorder {
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{
		src:   src,
		sink:  opts.Sink,
		clock: clock,
		limit: limit,
		log:   opts.Log,
	}
}

// Record captures the source as it is now.
func (r *Recorder) Record(reason Reason, overlay *Overlay) Frame {
	f := Frame{
		EventFrame:  r.sink.Frame(),
		TimestampNs: r.clock.Now().UnixNano(),
		Reason:      reason,
		Grid:        r.src.Snapshot(),
		Cars:        r.src.CarSnapshots(),
		Overlay:     overlay,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f.Index = r.next
	r.next++
	if r.limit > 0 {
		r.frames = append(r.frames, f)
		if len(r.frames) > r.limit {
			r.frames = append(r.frames[:0:0], r.frames[len(r.frames)-r.limit:]...)
		}
	}
	if r.log != nil && r.logErr == nil {
		if err := r.log.Write(f); err != nil {
			// Stop writing after the first failure; in-memory frames continue.
			r.logErr = err
			logf("frame log disabled: %v", err)
		}
	}
	return f
}

func (r *Recorder) CarCreated(c traffic.CarSnapshot) {
	r.Record(ReasonCarCreated, &Overlay{
		Actor:       c.ID,
		From:        c.Position,
		To:          c.Position,
		Description: c.Label() + " created",
	})
}

func (r *Recorder) CarDestroyed(c traffic.CarSnapshot) {
	r.Record(ReasonCarDestroyed, &Overlay{
		Actor:       c.ID,
		From:        c.Position,
		To:          c.Position,
		Description: c.Label() + " destroyed",
	})
}

func (r *Recorder) CarMoved(c traffic.CarSnapshot, from, to grid.Position, ok bool) {
	reason, verb := ReasonCarMoved, "moved"
	if !ok {
		reason, verb = ReasonMoveRejected, "blocked"
	}
	r.Record(reason, &Overlay{
		Actor:       c.ID,
		From:        from,
		To:          to,
		Description: fmt.Sprintf("%s %s %s -> %s", c.Label(), verb, from, to),
	})
}

func (r *Recorder) FieldChanged() {
	r.Record(ReasonField, nil)
}

// Len returns the number of frames recorded so far, including any that no
// longer fit in memory.
func (r *Recorder) Len() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Frames returns a copy of the frames held in memory, oldest first.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Frame returns the frame with the given index if it is still in memory.
func (r *Recorder) Frame(i uint64) (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}, false
	}
	first := r.frames[0].Index
	if i < first || i-first >= uint64(len(r.frames)) {
		return Frame{}, false
	}
	return r.frames[i-first], true
}

// Err reports the error that stopped the frame log, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logErr
}

// Close closes the frame log.
func (r *Recorder) Close() error {
	r.mu.Lock()
	lw := r.log
	r.log = nil
	r.mu.Unlock()
	if lw == nil {
		return nil
	}
	return lw.Close()
}
