package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name. Messages are protobuf
// well-known types, so callers need no generated stubs.
const ServiceName = "presence.v1.PresenceApi"

// PresenceApiServer is the server API for presence.v1.PresenceApi.
type PresenceApiServer interface {
	// GetPresence returns {userId, state, lastSeen, online}; lastSeen is epoch ms or null.
	GetPresence(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// GetBulkPresence takes a list of user id strings and returns {id: {state, lastSeen}}.
	GetBulkPresence(context.Context, *structpb.ListValue) (*structpb.Struct, error)
	IsOnline(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	GetOnlineUsers(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetOnlineCount(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
}

func unaryMethod[Req any, Resp any](name string, call func(PresenceApiServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PresenceApiServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(PresenceApiServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var PresenceApiServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PresenceApiServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GetPresence", PresenceApiServer.GetPresence),
		unaryMethod("GetBulkPresence", PresenceApiServer.GetBulkPresence),
		unaryMethod("IsOnline", PresenceApiServer.IsOnline),
		unaryMethod("GetOnlineUsers", PresenceApiServer.GetOnlineUsers),
		unaryMethod("GetOnlineCount", PresenceApiServer.GetOnlineCount),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "presence/v1/presence.proto",
}

func RegisterPresenceApiServer(s grpc.ServiceRegistrar, srv PresenceApiServer) {
	s.RegisterService(&PresenceApiServiceDesc, srv)
}

// PresenceApiClient calls presence.v1.PresenceApi.
type PresenceApiClient struct {
	cc grpc.ClientConnInterface
}

func NewPresenceApiClient(cc grpc.ClientConnInterface) *PresenceApiClient {
	return &PresenceApiClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PresenceApiClient) GetPresence(ctx context.Context, userID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "GetPresence", wrapperspb.String(userID), opts...)
}

func (c *PresenceApiClient) GetBulkPresence(ctx context.Context, userIDs []string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(userIDs))}
	for _, id := range userIDs {
		list.Values = append(list.Values, structpb.NewStringValue(id))
	}
	return invoke[structpb.Struct](ctx, c.cc, "GetBulkPresence", list, opts...)
}

func (c *PresenceApiClient) IsOnline(ctx context.Context, userID string, opts ...grpc.CallOption) (bool, error) {
	out, err := invoke[wrapperspb.BoolValue](ctx, c.cc, "IsOnline", wrapperspb.String(userID), opts...)
	if err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *PresenceApiClient) GetOnlineUsers(ctx context.Context, opts ...grpc.CallOption) ([]string, error) {
	out, err := invoke[structpb.ListValue](ctx, c.cc, "GetOnlineUsers", &emptypb.Empty{}, opts...)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		users = append(users, v.GetStringValue())
	}
	return users, nil
}

func (c *PresenceApiClient) GetOnlineCount(ctx context.Context, opts ...grpc.CallOption) (int64, error) {
	out, err := invoke[wrapperspb.Int64Value](ctx, c.cc, "GetOnlineCount", &emptypb.Empty{}, opts...)
	if err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}
