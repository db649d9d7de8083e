package backend

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/prepwise/voice-interview/internal/auth"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/resilience"
	"github.com/prepwise/voice-interview/internal/store"
)

// toStatus maps domain errors to gRPC status errors on the server side.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, auth.ErrWrongScope), errors.Is(err, auth.ErrWrongInterview):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ErrorCode maps a backend call error to the ErrorResponse code sent to clients.
func ErrorCode(err error) int32 {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return protocol.CodeUpstream
	}
	switch status.Code(err) {
	case codes.NotFound:
		return protocol.CodeNotFound
	case codes.Unauthenticated, codes.PermissionDenied:
		return protocol.CodeUnauthorized
	case codes.InvalidArgument:
		return protocol.CodeBadRequest
	case codes.FailedPrecondition, codes.AlreadyExists:
		return protocol.CodeConflict
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return protocol.CodeUpstream
	default:
		return protocol.CodeInternal
	}
}

// IsFailedPrecondition reports a rejected status transition.
func IsFailedPrecondition(err error) bool {
	return status.Code(err) == codes.FailedPrecondition
}
