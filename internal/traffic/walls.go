package traffic

import (
	"context"
	"math/rand"
	"time"

	"github.com/banshee-data/gridlock/internal/control"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/timeutil"
)

// WallConfig tunes the wall randomizer.
type WallConfig struct {
	// MinInterval and MaxInterval bound the random pause between actions.
	MinInterval time.Duration
	MaxInterval time.Duration
	// Attempts is how many random cells one action tries.
	Attempts int
	Pause    *control.Pause
	Clock    timeutil.Clock
	Seed     int64
}

// Defaults for WallConfig fields left zero.
const (
	DefaultWallMinInterval = 300 * time.Millisecond
	DefaultWallMaxInterval = 1000 * time.Millisecond
	DefaultWallAttempts    = 20
)

// WallRandomizer adds and removes walls at random while cars drive.
type WallRandomizer struct {
	server *Server
	cfg    WallConfig
	rng    *rand.Rand
}

func NewWallRandomizer(server *Server, cfg WallConfig) *WallRandomizer {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultWallMinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = max(DefaultWallMaxInterval, cfg.MinInterval)
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultWallAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &WallRandomizer{server: server, cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Step flips a coin between adding and removing a wall and tries up to
// Attempts random cells. It returns the changed cell, whether a wall was
// added, and whether anything changed.
func (w *WallRandomizer) Step(ctx context.Context) (pos grid.Position, added, ok bool) {
	f := w.server.Field()
	if f.Rows() == 0 || f.Cols() == 0 {
		return grid.Position{}, false, false
	}
	w.server.Sink().BeginFrame()
	add := w.rng.Intn(2) == 0
	for i := 0; i < w.cfg.Attempts; i++ {
		pos = grid.Position{Row: w.rng.Intn(f.Rows()), Col: w.rng.Intn(f.Cols())}
		if add && w.server.AddWall(ctx, pos) {
			return pos, true, true
		}
		if !add && w.server.RemoveWall(ctx, pos) {
			return pos, false, true
		}
	}
	return grid.Position{}, add, false
}

func (w *WallRandomizer) interval() time.Duration {
	span := w.cfg.MaxInterval - w.cfg.MinInterval
	if span <= 0 {
		return w.cfg.MinInterval
	}
	return w.cfg.MinInterval + time.Duration(w.rng.Int63n(int64(span)))
}

// Run steps until ctx ends, holding while paused.
func (w *WallRandomizer) Run(ctx context.Context) error {
	for {
		if _, err := w.cfg.Pause.Wait(ctx, w.cfg.Clock); err != nil {
			return err
		}
		if err := w.cfg.Clock.Sleep(ctx, w.interval()); err != nil {
			return err
		}
		w.Step(ctx)
	}
}
