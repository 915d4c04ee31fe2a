package db

import (
	"fmt"
	"time"

	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/traffic"
)

// Move is one recorded move attempt.
type Move struct {
	CarID    int           `json:"car_id"`
	From     grid.Position `json:"from"`
	To       grid.Position `json:"to"`
	Accepted bool          `json:"accepted"`
	Time     time.Time     `json:"time"`
}

// InsertMove stores one move attempt.
func (db *DB) InsertMove(runID string, m Move) error {
	accepted := 0
	if m.Accepted {
		accepted = 1
	}
	_, err := db.Exec(`INSERT INTO moves
		(run_id, car_id, from_row, from_col, to_row, to_col, accepted, unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, m.CarID, m.From.Row, m.From.Col, m.To.Row, m.To.Col, accepted, m.Time.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert move: %w", err)
	}
	return nil
}

// Moves returns the recorded moves of one car in insertion order.
func (db *DB) Moves(runID string, carID int) ([]Move, error) {
	rows, err := db.Query(`SELECT car_id, from_row, from_col, to_row, to_col, accepted, unix_nanos
		FROM moves WHERE run_id = ? AND car_id = ? ORDER BY move_id`, runID, carID)
	if err != nil {
		return nil, fmt.Errorf("failed to query moves: %w", err)
	}
	defer rows.Close()

	var moves []Move
	for rows.Next() {
		var (
			m        Move
			accepted int
			nanos    int64
		)
		if err := rows.Scan(&m.CarID, &m.From.Row, &m.From.Col, &m.To.Row, &m.To.Col, &accepted, &nanos); err != nil {
			return nil, err
		}
		m.Accepted = accepted != 0
		m.Time = time.Unix(0, nanos)
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// CarMoveStats summarises one car's attempts.
type CarMoveStats struct {
	CarID    int `json:"car_id"`
	Attempts int `json:"attempts"`
	Accepted int `json:"accepted"`
}

// Rejected returns the number of refused attempts.
func (s CarMoveStats) Rejected() int { return s.Attempts - s.Accepted }

// MoveStats returns per-car move counts for a run ordered by car id.
func (db *DB) MoveStats(runID string) ([]CarMoveStats, error) {
	rows, err := db.Query(`SELECT car_id, COUNT(*), COALESCE(SUM(accepted), 0)
		FROM moves WHERE run_id = ? GROUP BY car_id ORDER BY car_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query move stats: %w", err)
	}
	defer rows.Close()

	var stats []CarMoveStats
	for rows.Next() {
		var s CarMoveStats
		if err := rows.Scan(&s.CarID, &s.Attempts, &s.Accepted); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// MoveRecorder is a traffic.Listener that stores every move attempt.
type MoveRecorder struct {
	traffic.NopListener

	db    *DB
	runID string
	now   func() time.Time
}

var _ traffic.Listener = (*MoveRecorder)(nil)

// NewMoveRecorder records moves for runID.
func NewMoveRecorder(db *DB, runID string) *MoveRecorder {
	return &MoveRecorder{db: db, runID: runID, now: time.Now}
}

func (r *MoveRecorder) CarMoved(c traffic.CarSnapshot, from, to grid.Position, ok bool) {
	m := Move{CarID: c.ID, From: from, To: to, Accepted: ok, Time: r.now()}
	if err := r.db.InsertMove(r.runID, m); err != nil {
		logf("car-%d: %v", c.ID, err)
	}
}
