package client

import (
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("already exists")
	ErrNotFound     = errors.New("not found")
	ErrNoSession    = errors.New("not logged in")
)

// APIError carries the server's message and field problems. It unwraps to
// one of the sentinel errors above.
type APIError struct {
	Kind    error
	Message string
	Details []string
}

func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

func (e *APIError) Unwrap() error { return e.Kind }

func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	var kind error
	switch st.Code() {
	case codes.InvalidArgument:
		kind = ErrInvalidInput
	case codes.AlreadyExists:
		kind = ErrConflict
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = ErrUnauthorized
	case codes.NotFound:
		kind = ErrNotFound
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	default:
		return err
	}

	apiErr := &APIError{Kind: kind, Message: st.Message()}
	for _, d := range st.Details() {
		br, ok := d.(*errdetails.BadRequest)
		if !ok {
			continue
		}
		for _, v := range br.GetFieldViolations() {
			apiErr.Details = append(apiErr.Details, v.GetField()+": "+v.GetDescription())
		}
	}
	return apiErr
}
