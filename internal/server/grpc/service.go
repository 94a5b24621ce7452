package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// SyncAdminServiceName is the fully qualified admin service name.
const SyncAdminServiceName = "phidiasync.admin.v1.SyncAdmin"

// Full method names of the admin service.
const (
	TriggerSyncMethod = "/" + SyncAdminServiceName + "/TriggerSync"
	GetStatusMethod   = "/" + SyncAdminServiceName + "/GetStatus"
	AbortSyncMethod   = "/" + SyncAdminServiceName + "/AbortSync"
)

// SyncAdminServer is the admin service. Requests and responses are
// google.protobuf.Struct so clients need no generated code.
type SyncAdminServer interface {
	TriggerSync(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	AbortSync(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func RegisterSyncAdminServer(r grpc.ServiceRegistrar, srv SyncAdminServer) {
	r.RegisterService(&syncAdminServiceDesc, srv)
}

var syncAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: SyncAdminServiceName,
	HandlerType: (*SyncAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TriggerSync", Handler: structHandler(TriggerSyncMethod, SyncAdminServer.TriggerSync)},
		{MethodName: "GetStatus", Handler: structHandler(GetStatusMethod, SyncAdminServer.GetStatus)},
		{MethodName: "AbortSync", Handler: structHandler(AbortSyncMethod, SyncAdminServer.AbortSync)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "phidiasync/admin/v1/admin.proto",
}

type structCall func(SyncAdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func structHandler(fullMethod string, call structCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SyncAdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SyncAdminServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
