// Package eventstream serves the simulation's event sink over gRPC: a
// server-streaming event feed plus small unary calls for the waiting table,
// the current grid and the pause flag.
package eventstream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/gridlock/internal/control"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/monitoring"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var logf = monitoring.Prefixed("eventstream")

// Snapshotter supplies the grid for GetSnapshot.
type Snapshotter interface {
	Snapshot() grid.Snapshot
}

// Config holds configuration for the event stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g. "localhost:50051").
	ListenAddr string

	// MaxClients caps concurrent StreamEvents calls. Zero means no limit.
	MaxClients int

	// Buffer is the per-client event channel size.
	Buffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		MaxClients: 16,
		Buffer:     256,
	}
}

// Service implements EventService on top of a sink.
type Service struct {
	cfg   Config
	sink  *monitor.Sink
	field Snapshotter
	pause *control.Pause

	clients atomic.Int32
}

var _ EventService = (*Service)(nil)

// NewService creates a Service. field and pause may be nil, in which case
// the calls that need them return Unimplemented.
func NewService(cfg Config, sink *monitor.Sink, field Snapshotter, pause *control.Pause) *Service {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	return &Service{cfg: cfg, sink: sink, field: field, pause: pause}
}

// Clients returns the number of connected streams.
func (s *Service) Clients() int { return int(s.clients.Load()) }

// StreamEvents sends matching events until the client goes away or the sink
// is closed. With a backlog request, retained events are sent first and live
// events already covered by the backlog are skipped.
func (s *Service) StreamEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	filter, err := filterFromStruct(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if s.sink == nil {
		return status.Error(codes.Unavailable, "no event sink")
	}

	n := s.clients.Add(1)
	defer s.clients.Add(-1)
	if s.cfg.MaxClients > 0 && int(n) > s.cfg.MaxClients {
		return status.Errorf(codes.ResourceExhausted, "too many clients (max %d)", s.cfg.MaxClients)
	}

	id, events := s.sink.Subscribe(s.cfg.Buffer)
	defer s.sink.Unsubscribe(id)
	logf("client %s connected (%d active)", id, n)
	defer logf("client %s disconnected", id)

	var last uint64
	if filter.Backlog {
		for _, ev := range s.sink.Log() {
			if err := s.send(stream, filter, ev); err != nil {
				return err
			}
			last = ev.Seq
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Seq <= last {
				continue
			}
			if err := s.send(stream, filter, ev); err != nil {
				return err
			}
		}
	}
}

func (s *Service) send(stream grpc.ServerStreamingServer[structpb.Struct], filter Filter, ev monitor.Event) error {
	if !filter.match(ev) {
		return nil
	}
	msg, err := eventToStruct(ev)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.Send(msg)
}

// GetWaiting returns the cars currently waiting for a lock.
func (s *Service) GetWaiting(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := waitingToStruct(s.sink.Waiting())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// GetSnapshot returns the current grid.
func (s *Service) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.field == nil {
		return nil, status.Error(codes.Unimplemented, "no field attached")
	}
	out, err := snapshotToStruct(s.field.Snapshot())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Pause stops every actor loop before its next attempt.
func (s *Service) Pause(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.pause == nil {
		return nil, status.Error(codes.Unimplemented, "pause not supported")
	}
	s.pause.Pause()
	return pausedStruct(true)
}

// Resume lets actor loops continue.
func (s *Service) Resume(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.pause == nil {
		return nil, status.Error(codes.Unimplemented, "pause not supported")
	}
	s.pause.Resume()
	return pausedStruct(false)
}

func pausedStruct(paused bool) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"paused": paused})
}

// Server owns the gRPC listener for a Service.
type Server struct {
	cfg      Config
	server   *grpc.Server
	listener net.Listener

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewServer creates a gRPC server with svc registered.
func NewServer(cfg Config, svc EventService, opts ...grpc.ServerOption) *Server {
	s := &Server{cfg: cfg, server: grpc.NewServer(opts...)}
	RegisterService(s.server, svc)
	return s
}

// Start binds ListenAddr and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("event stream server already running")
	}
	s.listener = lis

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop ends every stream and waits for the server to exit. Streams block on
// their sink subscription, so Stop does not wait for them to finish on their
// own.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.server.Stop()
	s.wg.Wait()
	logf("gRPC server stopped")
}
