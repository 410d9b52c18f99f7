package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// ParseError is returned when a response body does not have the expected shape.
type ParseError struct {
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: invalid response: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// User-facing messages. Provider error text never reaches the user.
const (
	MsgUnavailable = "The service is unavailable right now. Please try again later."
	MsgRateLimited = "Too many requests. Please wait a moment and try again."
	MsgBadResponse = "The service returned an unexpected response."
	MsgCancelled   = "The request was cancelled."
	MsgUnknown     = "Something went wrong. Please try again."
)

// UserMessage maps any failure value, including recovered panics, to a
// static message safe to show the user.
func UserMessage(v any) string {
	err, ok := v.(error)
	if !ok || err == nil {
		return MsgUnknown
	}

	var statusErr *StatusError
	var parseErr *ParseError
	switch {
	case errors.Is(err, context.Canceled):
		return MsgCancelled
	case errors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return MsgRateLimited
		}
		return MsgUnavailable
	case errors.As(err, &parseErr):
		return MsgBadResponse
	case errors.Is(err, context.DeadlineExceeded):
		return MsgUnavailable
	default:
		return MsgUnknown
	}
}
