package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/rulefilter/internal/types"
)

// Request errors.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidEntity  = errors.New("entity cannot be evaluated")
)

// compileErrors are rule set defects: the request was well-formed but the
// stored rule set cannot be compiled for the requested target.
var compileErrors = []error{
	types.ErrUnknownRuleType,
	types.ErrUnsupportedOperator,
	types.ErrInvalidComparand,
	types.ErrInvalidOperand,
	types.ErrUntranslatableExpression,
	types.ErrNotImplemented,
	types.ErrScopeMismatch,
	types.ErrSubGroupRoot,
	types.ErrGroupCycle,
	types.ErrGroupTooDeep,
	types.ErrTooManyInValues,
	types.ErrMissingRuleSet,
	types.ErrMalformedRule,
	types.ErrOperatorTooLong,
	types.ErrValueTooLong,
	types.ErrPathTooDeep,
	types.ErrTooManyCollections,
	types.ErrInvalidMemberPath,
}

// Code classifies err for the transports.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidEntity):
		return codes.InvalidArgument
	case errors.Is(err, types.ErrRuleSetNotFound):
		return codes.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	for _, target := range compileErrors {
		if errors.Is(err, target) {
			return codes.FailedPrecondition
		}
	}
	return codes.Internal
}

// GRPCError converts err into a gRPC status error. Internal errors hide
// their detail from the client.
func GRPCError(err error) error {
	if err == nil {
		return nil
	}
	code := Code(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
