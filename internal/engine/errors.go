package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

// contextQueryFailedMessage is the only detail surfaced to callers of a failed context query.
const contextQueryFailedMessage = "Error during context query. Please check server logs."

// StatusCoder is implemented by source errors that carry a transport status code.
type StatusCoder interface {
	StatusCode() int
}

// InputError is returned for invalid request parameters before any fetch is attempted.
type InputError struct {
	Field   string
	Message string
	Err     error
}

func (e *InputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Message)
	}
	return "invalid input: " + e.Message
}

func (e *InputError) Unwrap() error { return e.Err }

// StatusCode implements StatusCoder.
func (e *InputError) StatusCode() int { return http.StatusBadRequest }

// FetchError reports a failed LogSource fetch for one target.
type FetchError struct {
	TargetID string
	Status   int
	Err      error
}

func newFetchError(targetID string, err error) *FetchError {
	return &FetchError{TargetID: targetID, Status: statusOf(err), Err: err}
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for target %q: %v", e.TargetID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusCode implements StatusCoder.
func (e *FetchError) StatusCode() int { return e.Status }

// ContextQueryError is returned when the query behind a context request fails.
// Only Message and Status are meant for display; Err is kept for logging.
type ContextQueryError struct {
	Message string
	Status  int
	Err     error
}

func (e *ContextQueryError) Error() string { return e.Message }

func (e *ContextQueryError) Unwrap() error { return e.Err }

// StatusCode implements StatusCoder.
func (e *ContextQueryError) StatusCode() int { return e.Status }

// StatusCode maps an error returned by the engine to an HTTP status code.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return statusOf(err)
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return sc.StatusCode()
	}
	switch {
	case errors.Is(err, model.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	default:
		return http.StatusBadGateway
	}
}

// toQueryError converts err into the serializable form attached to responses.
func toQueryError(err error) *model.QueryError {
	return &model.QueryError{Message: err.Error(), Status: statusOf(err)}
}
