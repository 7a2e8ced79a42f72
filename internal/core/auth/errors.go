package auth

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Missing, malformed and unknown keys all look alike to the caller so the
// response never confirms that a key exists. Only a revoked key, which the
// caller already holds, is reported distinctly.
var (
	ErrMissingKey       = errors.New("API key required (x-api-key)")
	ErrInvalidKeyFormat = errors.New("malformed API key")
	ErrUnknownKey       = errors.New("API key signed by unknown secret")
	ErrInvalidKey       = errors.New("API key not recognised")
	ErrKeyRevoked       = errors.New("API key revoked")
	ErrUnavailable      = errors.New("API key store unavailable")
)

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return codes.PermissionDenied
	case errors.Is(err, ErrUnavailable):
		return codes.Unavailable
	}
	return codes.Unauthenticated
}

func httpStatus(err error) int {
	switch grpcCode(err) {
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}
