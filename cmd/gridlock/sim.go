package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/gridlock/internal/api"
	"github.com/banshee-data/gridlock/internal/config"
	"github.com/banshee-data/gridlock/internal/control"
	"github.com/banshee-data/gridlock/internal/db"
	"github.com/banshee-data/gridlock/internal/eventstream"
	"github.com/banshee-data/gridlock/internal/field"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/playback"
	"github.com/banshee-data/gridlock/internal/timeutil"
	"github.com/banshee-data/gridlock/internal/traffic"
)

// Size of the empty grid used when no layout file is given.
const (
	defaultRows = 10
	defaultCols = 10
)

// sim owns one simulation run and everything observing it.
type sim struct {
	cfg   *config.SimConfig
	clock timeutil.Clock

	sink     *monitor.Sink
	pause    *control.Pause
	traffic  *traffic.Server
	counter  *traffic.Counter
	recorder *playback.Recorder
	db       *db.DB
	runID    string

	mu       sync.Mutex
	group    *errgroup.Group
	groupCtx context.Context
	httpAddr net.Addr
	grpcAddr net.Addr
	ready    chan struct{}
}

func newSim(cfg *config.SimConfig) (*sim, error) {
	s := &sim{
		cfg:   cfg,
		clock: timeutil.RealClock{},
		pause: &control.Pause{},
		ready: make(chan struct{}),
	}
	s.sink = monitor.NewSink(monitor.Options{Verbose: cfg.GetVerbose(), Clock: s.clock})

	layout := grid.New(defaultRows, defaultCols)
	if path := cfg.GetLayoutPath(); path != "" {
		g, err := grid.LoadLayoutFile(path)
		if err != nil {
			return nil, err
		}
		layout = g
	}

	f, err := field.NewWithConfig(field.Config{
		Mode:    cfg.GetMode(),
		Grid:    layout,
		Sink:    s.sink,
		Backoff: cfg.GetBackoff(),
		Clock:   s.clock,
	})
	if err != nil {
		return nil, err
	}

	var frameLog *playback.LogWriter
	if dir := cfg.GetRecordDir(); dir != "" {
		frameLog, err = playback.CreateLog(dir, f.Mode().String())
		if err != nil {
			return nil, err
		}
		log.Printf("recording frames to %s", frameLog.Dir())
	}
	s.counter = traffic.NewCounter()
	s.traffic = traffic.NewServer(f, s.sink, s.counter)
	s.recorder = playback.NewRecorder(s.traffic, playback.Options{Log: frameLog, Sink: s.sink, Clock: s.clock})
	s.traffic.AddListener(s.recorder)
	s.recorder.Record(playback.ReasonInitial, nil)

	if path := cfg.GetDBPath(); path != "" {
		database, err := db.NewDB(path)
		if err != nil {
			s.recorder.Close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		run, err := database.StartRun(f.Mode().String(), f.Rows(), f.Cols(), cfg.GetCars())
		if err != nil {
			database.Close()
			s.recorder.Close()
			return nil, err
		}
		s.db, s.runID = database, run.ID
		s.traffic.AddListener(db.NewMoveRecorder(database, run.ID))
		log.Printf("recording run %s to %s", run.ID, path)
	}
	return s, nil
}

// startDriver runs car's driver in the run's group. Cars created through the
// API after the run ended are ignored.
func (s *sim) startDriver(car *traffic.Car) {
	s.mu.Lock()
	g, ctx := s.group, s.groupCtx
	s.mu.Unlock()
	if g == nil || ctx.Err() != nil {
		return
	}
	d := traffic.NewDriver(s.traffic, car, traffic.DriverConfig{
		StepDelay: s.cfg.GetStepDelay(),
		Pause:     s.pause,
		Clock:     s.clock,
	})
	g.Go(func() error { return ignoreCancel(d.Run(ctx)) })
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Run places the configured cars, starts every background task and blocks
// until ctx ends or one of them fails.
func (s *sim) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	fail := func(err error) error {
		cancel()
		g.Wait()
		return err
	}
	s.mu.Lock()
	s.group, s.groupCtx = g, gctx
	s.mu.Unlock()

	buffer := s.cfg.GetEventBuffer()
	if dir := s.cfg.GetTickLogDir(); dir != "" {
		tl, err := monitor.NewTickLog(dir, s.clock)
		if err != nil {
			return fail(err)
		}
		g.Go(func() error {
			tl.Run(gctx, s.sink, buffer)
			return nil
		})
	}
	if s.db != nil {
		w := &db.EventWriter{DB: s.db, RunID: s.runID, Sink: s.sink}
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	if err := s.startHTTP(g, gctx); err != nil {
		return fail(err)
	}
	if err := s.startGRPC(g, gctx); err != nil {
		return fail(err)
	}

	for i := 0; i < s.cfg.GetCars(); i++ {
		car, err := s.traffic.CreateCar(gctx, s.cfg.CarName(i))
		if errors.Is(err, grid.ErrNoCapacity) {
			log.Printf("placed %d of %d cars: no free cell left", i, s.cfg.GetCars())
			break
		}
		if err != nil {
			return fail(err)
		}
		s.startDriver(car)
	}

	walls := traffic.NewWallRandomizer(s.traffic, traffic.WallConfig{
		MinInterval: s.cfg.GetWallIntervalMin(),
		MaxInterval: s.cfg.GetWallIntervalMax(),
		Attempts:    s.cfg.GetWallAttempts(),
		Pause:       s.pause,
		Clock:       s.clock,
	})
	g.Go(func() error { return ignoreCancel(walls.Run(gctx)) })

	log.Printf("running %d cars in %s mode on a %dx%d grid",
		len(s.traffic.Cars()), s.traffic.Field().Mode(), s.traffic.Field().Rows(), s.traffic.Field().Cols())
	close(s.ready)
	return g.Wait()
}

func (s *sim) startHTTP(g *errgroup.Group, ctx context.Context) error {
	addr := s.cfg.GetListen()
	if addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpAddr = lis.Addr()

	apiServer := api.NewServer(api.Config{
		Traffic:      s.traffic,
		Pause:        s.pause,
		Counter:      s.counter,
		Recorder:     s.recorder,
		DB:           s.db,
		RunID:        s.runID,
		OnCarCreated: s.startDriver,
		Clock:        s.clock,
		SSEBuffer:    s.cfg.GetEventBuffer(),
	})
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.ServeMux())
	apiServer.AttachAdminRoutes(mux)
	if s.db != nil {
		if err := s.db.AttachAdminRoutes(mux, s.cfg.GetDBPath()); err != nil {
			lis.Close()
			return err
		}
	}

	server := &http.Server{Handler: api.LoggingMiddleware(mux)}
	g.Go(func() error {
		log.Printf("HTTP server listening on %s", lis.Addr())
		if err := server.Serve(lis); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		return nil
	})
	return nil
}

func (s *sim) startGRPC(g *errgroup.Group, ctx context.Context) error {
	addr := s.cfg.GetGRPCListen()
	if addr == "" {
		return nil
	}
	cfg := eventstream.DefaultConfig()
	cfg.ListenAddr = addr
	cfg.Buffer = s.cfg.GetEventBuffer()
	server := eventstream.NewServer(cfg, eventstream.NewService(cfg, s.sink, s.traffic, s.pause))
	if err := server.Start(); err != nil {
		return err
	}
	s.grpcAddr = server.Addr()
	g.Go(func() error {
		<-ctx.Done()
		server.Stop()
		return nil
	})
	return nil
}

// Close flushes the frame log, closes the run in the database and shuts the
// sink.
func (s *sim) Close() error {
	var errs []error
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("frame log: %w", err))
	}
	if s.db != nil {
		if err := s.db.FinishRun(s.runID); err != nil {
			errs = append(errs, err)
		}
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.sink.Close()
	return errors.Join(errs...)
}
