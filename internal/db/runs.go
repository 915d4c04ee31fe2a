package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one simulation run.
type Run struct {
	ID        string     `json:"run_id"`
	Mode      string     `json:"mode"`
	Rows      int        `json:"rows"`
	Cols      int        `json:"cols"`
	Cars      int        `json:"cars"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// StartRun inserts a new run with a fresh id.
func (db *DB) StartRun(mode string, rows, cols, cars int) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Mode:      mode,
		Rows:      rows,
		Cols:      cols,
		Cars:      cars,
		StartedAt: time.Now(),
	}
	_, err := db.Exec(
		`INSERT INTO runs (run_id, mode, grid_rows, grid_cols, cars, started_unix_nanos)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.Rows, run.Cols, run.Cars, run.StartedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// FinishRun stamps the end time of a run.
func (db *DB) FinishRun(runID string) error {
	res, err := db.Exec(`UPDATE runs SET ended_unix_nanos = ? WHERE run_id = ?`, time.Now().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `run_id, mode, grid_rows, grid_cols, cars, started_unix_nanos, ended_unix_nanos`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		run     Run
		started int64
		ended   sql.NullInt64
	)
	if err := s.Scan(&run.ID, &run.Mode, &run.Rows, &run.Cols, &run.Cars, &started, &ended); err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		run.EndedAt = &t
	}
	return &run, nil
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(runID string) (*Run, error) {
	run, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
