package eventstream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "gridlock.v1.EventStream"

const (
	methodStreamEvents = "/" + ServiceName + "/StreamEvents"
	methodGetWaiting   = "/" + ServiceName + "/GetWaiting"
	methodGetSnapshot  = "/" + ServiceName + "/GetSnapshot"
	methodPause        = "/" + ServiceName + "/Pause"
	methodResume       = "/" + ServiceName + "/Resume"
)

// EventService is the server API. Messages are protobuf well-known types so
// no generated code is needed.
type EventService interface {
	StreamEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	GetWaiting(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Pause(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Resume(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterService registers svc with the gRPC server.
func RegisterService(s grpc.ServiceRegistrar, svc EventService) {
	s.RegisterService(&serviceDesc, svc)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EventService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetWaiting", Handler: unaryHandler(methodGetWaiting, EventService.GetWaiting)},
		{MethodName: "GetSnapshot", Handler: unaryHandler(methodGetSnapshot, EventService.GetSnapshot)},
		{MethodName: "Pause", Handler: unaryHandler(methodPause, EventService.Pause)},
		{MethodName: "Resume", Handler: unaryHandler(methodResume, EventService.Resume)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "gridlock/v1/eventstream.proto",
}

type unaryMethod func(EventService, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EventService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(EventService), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EventService).StreamEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
