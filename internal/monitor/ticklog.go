package monitor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/banshee-data/gridlock/internal/monitoring"
	"github.com/banshee-data/gridlock/internal/timeutil"
)

var tickLogf = monitoring.Prefixed("ticklog")

// TickLog appends one line per event to a file named ticks-YYYY-MM-DD.log in
// its directory, rolling over to a new file when the date changes.
type TickLog struct {
	dir   string
	clock timeutil.Clock

	mu   sync.Mutex
	day  string
	file *os.File
	buf  *bufio.Writer
}

// NewTickLog creates a TickLog writing into dir. The directory is created if
// it does not exist.
func NewTickLog(dir string, clock timeutil.Clock) (*TickLog, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tick log dir: %w", err)
	}
	return &TickLog{dir: dir, clock: clock}, nil
}

// Path returns the file the next event would be written to.
func (t *TickLog) Path() string {
	return filepath.Join(t.dir, "ticks-"+t.clock.Now().Format("2006-01-02")+".log")
}

// Write appends ev to the current day's file.
func (t *TickLog) Write(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	day := t.clock.Now().Format("2006-01-02")
	if t.file == nil || day != t.day {
		if err := t.rotate(day); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(t.buf, "%s %s %s\n", ev.Time.Format("15:04:05.000"), ev.Kind, ev); err != nil {
		return fmt.Errorf("failed to write tick: %w", err)
	}
	return nil
}

func (t *TickLog) rotate(day string) error {
	if err := t.closeLocked(); err != nil {
		tickLogf("failed to close %s: %v", t.day, err)
	}
	path := filepath.Join(t.dir, "ticks-"+day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open tick log %s: %w", path, err)
	}
	t.day = day
	t.file = f
	t.buf = bufio.NewWriter(f)
	return nil
}

// Flush writes buffered lines to disk.
func (t *TickLog) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buf == nil {
		return nil
	}
	return t.buf.Flush()
}

// Close flushes and closes the current file.
func (t *TickLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *TickLog) closeLocked() error {
	if t.file == nil {
		return nil
	}
	ferr := t.buf.Flush()
	cerr := t.file.Close()
	t.file, t.buf = nil, nil
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Run subscribes to sink and writes every event until ctx is cancelled or
// the sink is closed. Write failures are logged and skipped.
func (t *TickLog) Run(ctx context.Context, sink *Sink, buffer int) {
	id, events := sink.Subscribe(buffer)
	defer sink.Unsubscribe(id)
	defer func() {
		if err := t.Close(); err != nil {
			tickLogf("close: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := t.Write(ev); err != nil {
				tickLogf("%v", err)
			}
		}
	}
}
