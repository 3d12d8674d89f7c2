package exchanges

import (
	"fmt"
	"net/http"

	"tradelog/pkg/errors"
)

// APIError is a non-success answer from an exchange, carrying both the HTTP
// status and the venue's own error code.
type APIError struct {
	Exchange string
	Status   int
	Code     string
	Message  string

	// Kind is one of the pkg/errors sentinels; errors.Is matches through it
	Kind error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error %s (http %d): %s", e.Exchange, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s http %d: %s", e.Exchange, e.Status, e.Message)
}

// StatusCode exposes the HTTP status to the retry middleware
func (e *APIError) StatusCode() int {
	return e.Status
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// NewAPIError builds an APIError. rateLimitCodes and authCodes are venue codes
// that classify the error beyond the HTTP status.
func NewAPIError(exchange string, status int, code, msg string, rateLimitCodes, authCodes []string) *APIError {
	e := &APIError{Exchange: exchange, Status: status, Code: code, Message: msg}
	e.Kind = classify(status, code, rateLimitCodes, authCodes)
	return e
}

func classify(status int, code string, rateLimitCodes, authCodes []string) error {
	for _, c := range rateLimitCodes {
		if code == c {
			return errors.ErrRateLimited
		}
	}
	for _, c := range authCodes {
		if code == c {
			return errors.ErrUnauthorized
		}
	}
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return errors.ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.ErrUnauthorized
	case status >= 500:
		return errors.ErrUnavailable
	default:
		return errors.ErrRemoteRejected
	}
}

// IsRateLimited reports whether err is a throttling answer
func IsRateLimited(err error) bool {
	return errors.Is(err, errors.ErrRateLimited)
}

// IsAuthFailure reports whether err is a credential or signature failure
func IsAuthFailure(err error) bool {
	return errors.Is(err, errors.ErrUnauthorized)
}
