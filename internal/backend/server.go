package backend

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/prepwise/voice-interview/internal/auth"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/protocol"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "interview.v1.Backend"

const (
	methodGetContext       = "GetContext"
	methodUpdateStatus     = "UpdateStatus"
	methodSubmitTranscript = "SubmitTranscript"
	methodSubmitFeedback   = "SubmitFeedback"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// BackendServer is implemented by the service behind interview.v1.Backend.
type BackendServer interface {
	GetContext(context.Context, *protocol.GetContextRequest) (*protocol.GetContextResponse, error)
	UpdateStatus(context.Context, *protocol.UpdateStatusRequest) (*protocol.SuccessResponse, error)
	SubmitTranscript(context.Context, *protocol.SubmitTranscriptRequest) (*protocol.SuccessResponse, error)
	SubmitFeedback(context.Context, *protocol.SubmitFeedbackRequest) (*protocol.SuccessResponse, error)
}

func unaryHandler[Req protocol.Message, Resp protocol.Message](
	method string,
	newReq func() Req,
	call func(BackendServer, context.Context, Req) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", method, err)
		}
		if interceptor == nil {
			return call(srv.(BackendServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BackendServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BackendServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodGetContext,
			Handler: unaryHandler(methodGetContext,
				func() *protocol.GetContextRequest { return new(protocol.GetContextRequest) },
				BackendServer.GetContext),
		},
		{
			MethodName: methodUpdateStatus,
			Handler: unaryHandler(methodUpdateStatus,
				func() *protocol.UpdateStatusRequest { return new(protocol.UpdateStatusRequest) },
				BackendServer.UpdateStatus),
		},
		{
			MethodName: methodSubmitTranscript,
			Handler: unaryHandler(methodSubmitTranscript,
				func() *protocol.SubmitTranscriptRequest { return new(protocol.SubmitTranscriptRequest) },
				BackendServer.SubmitTranscript),
		},
		{
			MethodName: methodSubmitFeedback,
			Handler: unaryHandler(methodSubmitFeedback,
				func() *protocol.SubmitFeedbackRequest { return new(protocol.SubmitFeedbackRequest) },
				BackendServer.SubmitFeedback),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "interview/v1/backend.proto",
}

// RegisterBackendServer registers srv on s.
func RegisterBackendServer(s grpc.ServiceRegistrar, srv BackendServer) {
	s.RegisterService(&serviceDesc, srv)
}

// NewGRPCServer builds a server with the logging and auth interceptors.
func NewGRPCServer(srv BackendServer, issuer *auth.Issuer) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			LoggingInterceptor(),
			AuthInterceptor(issuer),
		),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	RegisterBackendServer(s, srv)
	return s
}

// interviewOf returns the interview a request targets.
func interviewOf(req any) string {
	switch r := req.(type) {
	case *protocol.GetContextRequest:
		return r.InterviewID
	case *protocol.UpdateStatusRequest:
		return r.InterviewID
	case *protocol.SubmitTranscriptRequest:
		return r.InterviewID
	case *protocol.SubmitFeedbackRequest:
		return r.InterviewID
	default:
		return ""
	}
}

// AuthInterceptor requires a worker token bound to the request's interview.
func AuthInterceptor(issuer *auth.Issuer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if v := md.Get("authorization"); len(v) > 0 {
			header = v[0]
		}
		token, ok := auth.BearerToken(header)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		interviewID := interviewOf(req)
		if interviewID == "" {
			return nil, status.Error(codes.InvalidArgument, "interview id is required")
		}
		if _, err := issuer.VerifyFor(token, interviewID, auth.ScopeWorker); err != nil {
			return nil, toStatus(err)
		}
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs and traces each call.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, span := observability.StartSpan(ctx, info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		interviewID := interviewOf(req)
		span.SetAttributes(attribute.String("interview_id", interviewID))

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		logger := observability.GetLogger()
		var event *zerolog.Event
		switch {
		case err == nil:
			event = logger.Debug()
		case code == codes.Internal || code == codes.Unknown:
			event = logger.Error().Err(err)
		default:
			event = logger.Warn().Err(err)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		event.
			Str("method", info.FullMethod).
			Str("interview_id", interviewID).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("backend call")
		return resp, err
	}
}
