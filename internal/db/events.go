package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
)

// InsertEvents stores events for a run in one transaction.
func (db *DB) InsertEvents(runID string, events []monitor.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO events
		(run_id, seq, frame, kind, actor, cell_row, cell_col, message, unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var row, col sql.NullInt64
		if ev.Cell != nil {
			row = sql.NullInt64{Int64: int64(ev.Cell.Row), Valid: true}
			col = sql.NullInt64{Int64: int64(ev.Cell.Col), Valid: true}
		}
		if _, err := stmt.Exec(runID, ev.Seq, ev.Frame, ev.Kind.String(), ev.Actor, row, col, ev.Message, ev.Time.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// Events returns the stored events of a run in sequence order. A positive
// limit keeps only the last limit events.
func (db *DB) Events(runID string, limit int) ([]monitor.Event, error) {
	query := `SELECT seq, frame, kind, actor, cell_row, cell_col, message, unix_nanos
		FROM events WHERE run_id = ? ORDER BY seq`
	args := []any{runID}
	if limit > 0 {
		query = `SELECT * FROM (SELECT seq, frame, kind, actor, cell_row, cell_col, message, unix_nanos
			FROM events WHERE run_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq`
		args = append(args, limit)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []monitor.Event
	for rows.Next() {
		var (
			ev       monitor.Event
			kind     string
			row, col sql.NullInt64
			nanos    int64
		)
		if err := rows.Scan(&ev.Seq, &ev.Frame, &kind, &ev.Actor, &row, &col, &ev.Message, &nanos); err != nil {
			return nil, err
		}
		k, err := monitor.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		ev.Kind = k
		if row.Valid && col.Valid {
			ev.Cell = &grid.Position{Row: int(row.Int64), Col: int(col.Int64)}
		}
		ev.Time = time.Unix(0, nanos)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEventsByKind returns how many events of each kind a run produced.
func (db *DB) CountEventsByKind(runID string) (map[monitor.Kind]int, error) {
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM events WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[monitor.Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		k, err := monitor.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		counts[k] = n
	}
	return counts, rows.Err()
}

// Defaults for EventWriter fields left zero.
const (
	DefaultEventBatch     = 200
	DefaultFlushInterval  = 250 * time.Millisecond
	DefaultEventBufferLen = 1024
)

// EventWriter copies events from a sink into the events table in batches.
type EventWriter struct {
	DB            *DB
	RunID         string
	Sink          *monitor.Sink
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

// Run subscribes to the sink and writes until ctx is cancelled or the sink
// is closed. Pending events are flushed before returning. Insert failures
// are logged and the batch is dropped.
func (w *EventWriter) Run(ctx context.Context) {
	buffer, batchSize, interval := w.Buffer, w.BatchSize, w.FlushInterval
	if buffer <= 0 {
		buffer = DefaultEventBufferLen
	}
	if batchSize <= 0 {
		batchSize = DefaultEventBatch
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	id, events := w.Sink.Subscribe(buffer)
	defer w.Sink.Unsubscribe(id)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]monitor.Event, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.DB.InsertEvents(w.RunID, batch); err != nil {
			logf("dropping %d events: %v", len(batch), err)
		}
		batch = batch[:0]
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			// Drain what the sink already delivered.
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					batch = append(batch, ev)
				default:
					return
				}
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
