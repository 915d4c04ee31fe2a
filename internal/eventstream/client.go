package eventstream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/banshee-data/gridlock/internal/monitor"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls an EventStream server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. Without options the connection is
// plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// EventStream receives events from StreamEvents.
type EventStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv blocks for the next event. It returns io.EOF when the server ends
// the stream.
func (s *EventStream) Recv() (monitor.Event, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return monitor.Event{}, err
	}
	return EventFromStruct(msg)
}

// StreamEvents opens an event stream. Cancel ctx to close it.
func (c *Client) StreamEvents(ctx context.Context, filter Filter) (*EventStream, error) {
	req, err := filter.toStruct()
	if err != nil {
		return nil, err
	}
	cs, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], methodStreamEvents)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := x.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: x}, nil
}

func (c *Client) invoke(ctx context.Context, method string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Waiting returns the cars currently waiting for a lock.
func (c *Client) Waiting(ctx context.Context) (map[int]bool, error) {
	out, err := c.invoke(ctx, methodGetWaiting)
	if err != nil {
		return nil, err
	}
	waiting := make(map[int]bool)
	for k, v := range out.GetFields()["waiting"].GetStructValue().GetFields() {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bad actor id %q: %w", k, err)
		}
		waiting[id] = v.GetBoolValue()
	}
	return waiting, nil
}

// Layout returns the current grid in layout notation.
func (c *Client) Layout(ctx context.Context) (string, error) {
	out, err := c.invoke(ctx, methodGetSnapshot)
	if err != nil {
		return "", err
	}
	return out.GetFields()["layout"].GetStringValue(), nil
}

// Pause pauses the simulation and returns the resulting state.
func (c *Client) Pause(ctx context.Context) (bool, error) {
	return c.setPaused(ctx, methodPause)
}

// Resume resumes the simulation and returns the resulting state.
func (c *Client) Resume(ctx context.Context) (bool, error) {
	return c.setPaused(ctx, methodResume)
}

func (c *Client) setPaused(ctx context.Context, method string) (bool, error) {
	out, err := c.invoke(ctx, method)
	if err != nil {
		return false, err
	}
	return out.GetFields()["paused"].GetBoolValue(), nil
}
