package protocol

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/dualcheck/internal/rules"
	"github.com/solatis/dualcheck/internal/types"
)

// GRPCSubmitter calls the Submission service over a client connection.
type GRPCSubmitter struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

// DialGRPC opens a client connection to target without transport security.
func DialGRPC(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	return conn, nil
}

// NewGRPCSubmitter wraps conn. timeout bounds each call; zero means none.
func NewGRPCSubmitter(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) *GRPCSubmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCSubmitter{conn: conn, timeout: timeout, logger: logger}
}

// Submit invokes Submission/Submit and decodes the status.
func (s *GRPCSubmitter) Submit(ctx context.Context, record types.FormRecord) Outcome {
	id := types.NewSubmissionID()
	log := s.logger.With(zap.String("submission_id", string(id)))

	req, err := structpb.NewStruct(rules.RecordMap(record))
	if err != nil {
		log.Warn("failed to encode record", zap.Error(err))
		return transportFailure()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, SubmissionIDMetadataKey, string(id))

	resp := new(structpb.Struct)
	if err := s.conn.Invoke(ctx, SubmitMethod, req, resp); err != nil {
		st, _ := status.FromError(err)
		out := OutcomeFromStatus(st)
		if out.Failure == FailureTransport {
			log.Warn("submission transport failure", zap.Error(err))
		}
		return out
	}

	env, err := EnvelopeFromMap(resp.AsMap())
	if err != nil {
		log.Warn("malformed response", zap.Error(err))
		return transportFailure()
	}
	out, err := env.Outcome(http.StatusOK)
	if err != nil {
		log.Warn("malformed response", zap.Error(err))
		return transportFailure()
	}
	return out
}
