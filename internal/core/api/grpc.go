package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/dualcheck/internal/protocol"
)

// GRPCService adapts SubmissionService to protocol.SubmissionServer.
type GRPCService struct {
	svc *SubmissionService
}

// NewGRPCService wraps svc for registration on a grpc.Server.
func NewGRPCService(svc *SubmissionService) *GRPCService {
	return &GRPCService{svc: svc}
}

// Submit evaluates the record carried in req.
func (g *GRPCService) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := submissionID(submissionIDFromMetadata(ctx))

	out := g.svc.evaluate(ctx, id, req.AsMap())
	if err := protocol.StatusError(out); err != nil {
		return nil, err
	}
	resp, err := structpb.NewStruct(protocol.EnvelopeFor(out).Map())
	if err != nil {
		g.svc.logger.Error("failed to encode response", zap.String("submission_id", string(id)), zap.Error(err))
		return nil, faultError()
	}
	return resp, nil
}

func submissionIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	ids := md.Get(protocol.SubmissionIDMetadataKey)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func faultError() error {
	return protocol.StatusError(protocol.GenericFailure(protocol.FailureServerFault, protocol.MsgServerFault))
}

// UnaryInterceptor returns a gRPC interceptor that recovers handler panics
// into a fault status and logs each call.
func UnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in grpc handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.Stack("stack"))
				resp, err = nil, faultError()
			}
			logger.Debug("grpc request",
				zap.String("method", info.FullMethod),
				zap.Stringer("code", status.Code(err)),
				zap.Duration("latency", time.Since(start)))
		}()
		return handler(ctx, req)
	}
}
