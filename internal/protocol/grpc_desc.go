// internal/protocol/grpc_desc.go
package protocol

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

/*
 * gRPC binding of the submission contract.
 *
 * The service carries google.protobuf.Struct in both directions, so no
 * generated code is needed: the record is the same JSON object the HTTP
 * endpoint accepts, and the response is the envelope.
 *
 * Status codes mirror the HTTP status classes:
 *   - accepted          -> OK, response {ok: true}
 *   - field rejection   -> FailedPrecondition
 *   - transient         -> Unavailable
 *   - malformed request -> InvalidArgument
 *   - fault             -> Internal
 *
 * Every non-OK status generated by the server carries the envelope as a
 * Struct detail. A status without it did not come from the validator
 * (connection refused, deadline, proxy) and decodes as a transport failure.
 */

// SubmissionServiceName is the fully-qualified gRPC service name.
const SubmissionServiceName = "dualcheck.v1.Submission"

// SubmitMethod is the full method name of Submit.
const SubmitMethod = "/" + SubmissionServiceName + "/Submit"

// SubmissionIDMetadataKey carries the submission id in gRPC metadata.
const SubmissionIDMetadataKey = "x-submission-id"

// SubmissionServer is the server API for the Submission service.
type SubmissionServer interface {
	Submit(ctx context.Context, record *structpb.Struct) (*structpb.Struct, error)
}

// RegisterSubmissionServer registers srv on s.
func RegisterSubmissionServer(s grpc.ServiceRegistrar, srv SubmissionServer) {
	s.RegisterService(&SubmissionServiceDesc, srv)
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SubmissionServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SubmitMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SubmissionServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// SubmissionServiceDesc describes the Submission service for grpc.Server.
var SubmissionServiceDesc = grpc.ServiceDesc{
	ServiceName: SubmissionServiceName,
	HandlerType: (*SubmissionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler:    submitHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dualcheck/v1/submission.proto",
}

// CodeFor maps an outcome to its gRPC status code.
func CodeFor(o Outcome) codes.Code {
	switch StatusFor(o) {
	case http.StatusOK:
		return codes.OK
	case http.StatusUnprocessableEntity:
		return codes.FailedPrecondition
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusBadRequest:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// httpStatusForCode is the inverse of CodeFor. ok is false for codes the
// validator never produces.
func httpStatusForCode(c codes.Code) (int, bool) {
	switch c {
	case codes.OK:
		return http.StatusOK, true
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity, true
	case codes.Unavailable:
		return http.StatusServiceUnavailable, true
	case codes.InvalidArgument:
		return http.StatusBadRequest, true
	case codes.Internal:
		return http.StatusInternalServerError, true
	default:
		return 0, false
	}
}

// StatusError converts a non-accepted outcome into a gRPC status error with
// the envelope attached. Accepted returns nil.
func StatusError(o Outcome) error {
	code := CodeFor(o)
	if code == codes.OK {
		return nil
	}
	env := EnvelopeFor(o)
	msg := env.Message
	if msg == "" {
		msg = "field validation failed"
	}
	st := status.New(code, msg)
	detail, err := structpb.NewStruct(env.Map())
	if err != nil {
		return st.Err()
	}
	withDetail, err := st.WithDetails(detail)
	if err != nil {
		return st.Err()
	}
	return withDetail.Err()
}

// OutcomeFromStatus decodes a gRPC status produced by StatusError.
func OutcomeFromStatus(st *status.Status) Outcome {
	code, known := httpStatusForCode(st.Code())
	if !known || code == http.StatusOK {
		return transportFailure()
	}
	for _, d := range st.Details() {
		detail, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		env, err := EnvelopeFromMap(detail.AsMap())
		if err != nil {
			return transportFailure()
		}
		out, err := env.Outcome(code)
		if err != nil {
			return transportFailure()
		}
		return out
	}
	return transportFailure()
}

func transportFailure() Outcome {
	return GenericFailure(FailureTransport, MsgTransport)
}
