// Package api serves the running simulation over HTTP: JSON endpoints for
// the grid, cars, waiting table, pause flag and statistics, a throughput
// chart, and a live event tail under the /debug/ index.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/gridlock/internal/control"
	"github.com/banshee-data/gridlock/internal/db"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/httputil"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/monitoring"
	"github.com/banshee-data/gridlock/internal/playback"
	"github.com/banshee-data/gridlock/internal/timeutil"
	"github.com/banshee-data/gridlock/internal/traffic"
)

var logf = monitoring.Prefixed("api")

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultEventLimit = 100
	defaultSSEBuffer  = 256
)

// Config wires a Server to the running simulation. Only Traffic is
// required; endpoints whose dependency is nil answer 404.
type Config struct {
	Traffic  *traffic.Server
	Pause    *control.Pause
	Counter  *traffic.Counter
	Recorder *playback.Recorder
	DB       *db.DB
	RunID    string

	// OnCarCreated is called for every car created through the API,
	// typically to start its driver.
	OnCarCreated func(*traffic.Car)

	Clock     timeutil.Clock
	SSEBuffer int
}

type Server struct {
	cfg     Config
	started time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.SSEBuffer <= 0 {
		cfg.SSEBuffer = defaultSSEBuffer
	}
	return &Server{cfg: cfg, started: cfg.Clock.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every JSON endpoint registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/grid", s.showGrid)
	mux.HandleFunc("/api/cars", s.handleCars)
	mux.HandleFunc("/api/walls", s.handleWalls)
	mux.HandleFunc("/api/waiting", s.showWaiting)
	mux.HandleFunc("/api/threads", s.showThreads)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/frames", s.listFrames)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/moves", s.showMoveStats)
	mux.HandleFunc("/api/charts/throughput", s.showThroughputChart)
	return mux
}

func (s *Server) sink() *monitor.Sink { return s.cfg.Traffic.Sink() }

// GridResponse is the body of GET /api/grid.
type GridResponse struct {
	Mode   string        `json:"mode"`
	Layout string        `json:"layout"`
	Cars   int           `json:"cars"`
	Walls  int           `json:"walls"`
	Grid   grid.Snapshot `json:"grid"`
}

func (s *Server) showGrid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.cfg.Traffic.Snapshot()
	httputil.WriteJSONOK(w, GridResponse{
		Mode:   s.cfg.Traffic.Field().Mode().String(),
		Layout: snap.String(),
		Cars:   snap.Count(grid.Car),
		Walls:  snap.Count(grid.Wall),
		Grid:   snap,
	})
}

func (s *Server) handleCars(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.cfg.Traffic.CarSnapshots())
	case http.MethodPost:
		s.createCar(w, r)
	case http.MethodDelete:
		s.destroyCar(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) createCar(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("name"))
	car, err := s.cfg.Traffic.CreateCar(r.Context(), name)
	if errors.Is(err, grid.ErrNoCapacity) {
		httputil.Conflict(w, "no free cell for a new car")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if s.cfg.OnCarCreated != nil {
		s.cfg.OnCarCreated(car)
	}
	httputil.Created(w, car.Snapshot())
}

func (s *Server) destroyCar(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("id"))
	if err != nil {
		httputil.BadRequest(w, "Invalid 'id' parameter")
		return
	}
	car, ok := s.cfg.Traffic.Car(id)
	if !ok || !s.cfg.Traffic.DestroyCar(r.Context(), car) {
		httputil.NotFound(w, "car not found")
		return
	}
	httputil.WriteJSONOK(w, car.Snapshot())
}

func (s *Server) handleWalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	row, rerr := strconv.Atoi(r.FormValue("row"))
	col, cerr := strconv.Atoi(r.FormValue("col"))
	f := s.cfg.Traffic.Field()
	if rerr != nil || cerr != nil || row < 0 || col < 0 || row >= f.Rows() || col >= f.Cols() {
		httputil.BadRequest(w, "Invalid 'row' or 'col' parameter")
		return
	}
	pos := grid.Position{Row: row, Col: col}

	var changed bool
	switch action := r.FormValue("action"); action {
	case "add":
		changed = s.cfg.Traffic.AddWall(r.Context(), pos)
	case "remove":
		changed = s.cfg.Traffic.RemoveWall(r.Context(), pos)
	default:
		httputil.BadRequest(w, "Invalid 'action' parameter: want add or remove")
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"position": pos, "changed": changed})
}

func (s *Server) showWaiting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.sink().Waiting())
}

func (s *Server) showThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.sink().ThreadStates())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Pause == nil {
		httputil.NotFound(w, "pause not supported")
		return
	}
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		s.cfg.Pause.Pause()
		logf("simulation paused")
	default:
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"paused": s.cfg.Pause.Paused()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Pause == nil {
		httputil.NotFound(w, "pause not supported")
		return
	}
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.cfg.Pause.Resume()
	logf("simulation resumed")
	httputil.WriteJSONOK(w, map[string]bool{"paused": s.cfg.Pause.Paused()})
}

// Stats is the body of GET /api/stats.
type Stats struct {
	Mode          string                      `json:"mode"`
	RunID         string                      `json:"run_id,omitempty"`
	Rows          int                         `json:"rows"`
	Cols          int                         `json:"cols"`
	Cars          int                         `json:"cars"`
	Walls         int                         `json:"walls"`
	Seq           uint64                      `json:"seq"`
	Frame         uint64                      `json:"frame"`
	Dropped       uint64                      `json:"dropped"`
	Paused        bool                        `json:"paused"`
	Waiting       int                         `json:"waiting"`
	Attempts      int                         `json:"attempts"`
	Moves         int                         `json:"moves"`
	Frames        uint64                      `json:"frames_recorded"`
	Threads       map[int]monitor.ThreadState `json:"threads"`
	UptimeSeconds float64                     `json:"uptime_seconds"`
}

func (s *Server) stats() Stats {
	sink := s.sink()
	snap := s.cfg.Traffic.Snapshot()
	st := Stats{
		Mode:          s.cfg.Traffic.Field().Mode().String(),
		RunID:         s.cfg.RunID,
		Rows:          snap.Rows,
		Cols:          snap.Cols,
		Cars:          len(s.cfg.Traffic.Cars()),
		Walls:         snap.Count(grid.Wall),
		Seq:           sink.Seq(),
		Frame:         sink.Frame(),
		Dropped:       sink.Dropped(),
		Paused:        s.cfg.Pause.Paused(),
		Threads:       sink.ThreadStates(),
		UptimeSeconds: s.cfg.Clock.Since(s.started).Seconds(),
	}
	for _, waiting := range sink.Waiting() {
		if waiting {
			st.Waiting++
		}
	}
	if s.cfg.Counter != nil {
		st.Attempts, st.Moves = s.cfg.Counter.Totals()
	}
	if s.cfg.Recorder != nil {
		st.Frames = s.cfg.Recorder.Len()
	}
	return st
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.stats())
}

// eventFilter parses the kind and actor query parameters shared by the
// event endpoints.
func eventFilter(r *http.Request) (func(monitor.Event) bool, error) {
	q := r.URL.Query()
	var kinds []monitor.Kind
	if v := q.Get("kind"); v != "" {
		for _, name := range strings.Split(v, ",") {
			k, err := monitor.ParseKind(strings.TrimSpace(name))
			if err != nil {
				return nil, err
			}
			kinds = append(kinds, k)
		}
	}
	actor, err := httputil.PositiveIntParam(r, "actor", monitor.NoActor)
	if err != nil {
		return nil, err
	}
	return func(ev monitor.Event) bool {
		if actor != monitor.NoActor && ev.Actor != actor {
			return false
		}
		if len(kinds) == 0 {
			return true
		}
		for _, k := range kinds {
			if ev.Kind == k {
				return true
			}
		}
		return false
	}, nil
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := httputil.PositiveIntParam(r, "limit", defaultEventLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	match, err := eventFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var events []monitor.Event
	for _, ev := range s.sink().Log() {
		if match(ev) {
			events = append(events, ev)
		}
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []monitor.Event{}
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) listFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Recorder == nil {
		httputil.NotFound(w, "playback recorder not enabled")
		return
	}
	since, err := httputil.Uint64Param(r, "since")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	frames := []playback.Frame{}
	for _, f := range s.cfg.Recorder.Frames() {
		if f.Index >= since {
			frames = append(frames, f)
		}
	}
	httputil.WriteJSONOK(w, frames)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.DB == nil {
		httputil.NotFound(w, "database not enabled")
		return
	}
	runs, err := s.cfg.DB.ListRuns(20)
	if err != nil {
		httputil.InternalServerError(w, "Failed to list runs: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showMoveStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.DB == nil {
		httputil.NotFound(w, "database not enabled")
		return
	}
	runID := r.URL.Query().Get("run")
	if runID == "" {
		runID = s.cfg.RunID
	}
	if _, err := s.cfg.DB.GetRun(runID); errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, "run not found")
		return
	} else if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	stats, err := s.cfg.DB.MoveStats(runID)
	if err != nil {
		httputil.InternalServerError(w, "Failed to load move stats: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, stats)
}
