package impl

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/visionex-project/pagetrans/grpc/impl/assemble"
	"github.com/visionex-project/pagetrans/grpc/impl/jobs"
	"github.com/visionex-project/pagetrans/grpc/impl/source"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

// TranslatorServer is the pagetrans.v1.Translator service. Messages are protobuf
// well-known types, so clients need no generated code.
type TranslatorServer interface {
	Submit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListJobs(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Fetch(ctx context.Context, request *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Cancel(ctx context.Context, request *wrapperspb.StringValue) (*emptypb.Empty, error)
	ClearTemp(ctx context.Context, request *emptypb.Empty) (*emptypb.Empty, error)
	Languages(ctx context.Context, request *emptypb.Empty) (*structpb.ListValue, error)
}

const ServiceName = "pagetrans.v1.Translator"

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TranslatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", TranslatorServer.Submit),
		unary("ListJobs", TranslatorServer.ListJobs),
		unary("Fetch", TranslatorServer.Fetch),
		unary("Cancel", TranslatorServer.Cancel),
		unary("ClearTemp", TranslatorServer.ClearTemp),
		unary("Languages", TranslatorServer.Languages),
	},
	Streams: []grpc.StreamDesc{},
}

func Register(registrar grpc.ServiceRegistrar, srv TranslatorServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// unary builds the method descriptor protoc-gen-go-grpc would generate for call.
func unary[Req proto.Message, Resp proto.Message](name string, call func(TranslatorServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			var zero Req
			in := zero.ProtoReflect().New().Interface().(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TranslatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, request any) (any, error) {
				return call(srv.(TranslatorServer), ctx, request.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type server struct {
	store  *jobs.Store
	source source.Source

	// Render mode of submissions that name none.
	defaultMode assemble.Mode
}

func New(store *jobs.Store, source source.Source, defaultMode assemble.Mode) *server {
	return &server{store: store, source: source, defaultMode: defaultMode}
}

// toStatus maps an application error onto a gRPC status and logs the unexpected ones.
func toStatus(method string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && apperr.KindOf(err) == 0 {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var code codes.Code
	switch apperr.KindOf(err) {
	case apperr.KindInput:
		code = codes.InvalidArgument
	case apperr.KindNotFound:
		code = codes.NotFound
	case apperr.KindPersistence:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	if code == codes.Internal || code == codes.Unavailable {
		log.WithError(err).WithField("method", method).Error("request failed")
	}
	return status.Error(code, err.Error())
}
