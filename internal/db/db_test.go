package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/gridlock/internal/field"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/traffic"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != LatestVersion || dirty {
		t.Errorf("version = %d dirty = %v, want %d clean", version, dirty, LatestVersion)
	}

	// Running again is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err = db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != LatestVersion-1 {
		t.Errorf("after down version = %d, want %d", version, LatestVersion-1)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='moves'`).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if n != 0 {
		t.Error("moves table should be dropped after rolling back the last migration")
	}

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
}

func TestOpenDB_FreshDatabaseHasNoVersion(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("version = %d dirty = %v, want 0 clean", version, dirty)
	}
}

func TestRuns(t *testing.T) {
	db := newTestDB(t)

	run, err := db.StartRun("target", 3, 4, 2)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if len(run.ID) != 36 {
		t.Errorf("run id %q is not a uuid", run.ID)
	}

	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Mode != "target" || got.Rows != 3 || got.Cols != 4 || got.Cars != 2 {
		t.Errorf("GetRun = %+v", got)
	}
	if got.EndedAt != nil {
		t.Error("new run should not have an end time")
	}

	if err := db.FinishRun(run.ID); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	got, err = db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.EndedAt == nil || got.EndedAt.Before(got.StartedAt) {
		t.Errorf("EndedAt = %v, StartedAt = %v", got.EndedAt, got.StartedAt)
	}

	if _, err := db.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) err = %v, want ErrRunNotFound", err)
	}
	if err := db.FinishRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun(missing) err = %v, want ErrRunNotFound", err)
	}

	second, err := db.StartRun("global", 1, 1, 0)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID {
		t.Errorf("ListRuns = %+v, want newest first", runs)
	}
}

func TestEvents(t *testing.T) {
	db := newTestDB(t)
	run, err := db.StartRun("global", 2, 2, 1)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	now := time.Unix(1700000000, 42)
	events := []monitor.Event{
		{Seq: 1, Frame: 1, Kind: monitor.KindBehaviorStart, Message: "car-1 try move down", Actor: 1, Cell: &grid.Position{Row: 1, Col: 0}, Time: now},
		{Seq: 2, Frame: 1, Kind: monitor.KindBehaviorEnd, Message: "moved", Actor: 1, Time: now},
		{Seq: 3, Frame: 2, Kind: monitor.KindCritical, Message: "wall", Time: now},
	}
	if err := db.InsertEvents(run.ID, events); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}
	if err := db.InsertEvents(run.ID, nil); err != nil {
		t.Errorf("InsertEvents(nil) = %v", err)
	}

	got, err := db.Events(run.ID, 0)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Cell == nil || *got[0].Cell != (grid.Position{Row: 1, Col: 0}) {
		t.Errorf("cell = %v", got[0].Cell)
	}
	if got[1].Cell != nil {
		t.Errorf("cell should be nil, got %v", got[1].Cell)
	}
	if !got[2].Time.Equal(now) || got[2].Kind != monitor.KindCritical || got[2].Actor != monitor.NoActor {
		t.Errorf("event 3 = %+v", got[2])
	}

	tail, err := db.Events(run.ID, 2)
	if err != nil {
		t.Fatalf("Events(limit) failed: %v", err)
	}
	if len(tail) != 2 || tail[0].Seq != 2 || tail[1].Seq != 3 {
		t.Errorf("tail = %+v", tail)
	}

	counts, err := db.CountEventsByKind(run.ID)
	if err != nil {
		t.Fatalf("CountEventsByKind failed: %v", err)
	}
	if counts[monitor.KindBehaviorStart] != 1 || counts[monitor.KindCritical] != 1 || counts[monitor.KindAtomic] != 0 {
		t.Errorf("counts = %v", counts)
	}

	// Sequence numbers are unique per run.
	if err := db.InsertEvents(run.ID, events[:1]); err == nil {
		t.Error("expected duplicate seq to fail")
	}
}

func TestEventWriter(t *testing.T) {
	db := newTestDB(t)
	run, err := db.StartRun("target", 1, 3, 1)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	sink := monitor.NewSink(monitor.Options{})
	defer sink.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w := &EventWriter{DB: db, RunID: run.ID, Sink: sink, BatchSize: 3, FlushInterval: time.Hour}
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Wait for the writer's subscription before emitting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.Emit(context.Background(), monitor.KindCritical, "probe")
		got, err := db.Events(run.ID, 0)
		if err != nil {
			t.Fatalf("Events failed: %v", err)
		}
		if len(got) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("writer never flushed a batch")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sink.Emit(context.Background(), monitor.KindBehaviorEnd, "last")
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop")
	}

	got, err := db.Events(run.ID, 0)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if got[len(got)-1].Message != "last" {
		t.Errorf("last stored event = %q, want pending batch flushed on stop", got[len(got)-1].Message)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Fatalf("events out of order at %d", i)
		}
	}
}

func TestMoveRecorder(t *testing.T) {
	db := newTestDB(t)
	run, err := db.StartRun("ordered-pair", 2, 1, 1)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	f, err := field.Load(field.ModeOrderedPair, strings.NewReader("2 1\n.\n.\n"), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s := traffic.NewServer(f, nil, NewMoveRecorder(db, run.ID))
	ctx := context.Background()
	car, err := s.CreateCar(ctx, "")
	if err != nil {
		t.Fatalf("CreateCar failed: %v", err)
	}
	s.MoveCar(ctx, car, grid.Down)
	s.MoveCar(ctx, car, grid.Down)
	s.MoveCar(ctx, car, grid.Up)

	moves, err := db.Moves(run.ID, car.ID())
	if err != nil {
		t.Fatalf("Moves failed: %v", err)
	}
	if len(moves) != 3 {
		t.Fatalf("got %d moves, want 3", len(moves))
	}
	if !moves[0].Accepted || moves[1].Accepted || !moves[2].Accepted {
		t.Errorf("accepted flags = %v %v %v", moves[0].Accepted, moves[1].Accepted, moves[2].Accepted)
	}
	if moves[1].To != (grid.Position{Row: 2, Col: 0}) {
		t.Errorf("rejected move target = %v", moves[1].To)
	}

	stats, err := db.MoveStats(run.ID)
	if err != nil {
		t.Fatalf("MoveStats failed: %v", err)
	}
	if len(stats) != 1 || stats[0].Attempts != 3 || stats[0].Accepted != 2 || stats[0].Rejected() != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux, "test.db"); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	for _, path := range []string{"/debug/backup", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		// Might return 403 from tsweb's access check, but never 404.
		if w.Code == http.StatusNotFound {
			t.Errorf("Route %s should be registered, got 404", path)
		}
		if path == "/debug/backup" && w.Code == http.StatusOK {
			if w.Header().Get("Content-Disposition") == "" {
				t.Error("Expected Content-Disposition header for backup download")
			}
		}
	}
}
