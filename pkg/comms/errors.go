package comms

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error taxonomy shared by the hub, its transport and the agent runtime.
// Callers test for these with errors.Is.
var (
	// ErrNotFound means the target or calling agent is unknown to the hub.
	ErrNotFound = errors.New("agent not found")

	// ErrSelfAddress means a direct message was addressed to its own sender.
	ErrSelfAddress = errors.New("agents cannot send messages to themselves")

	// ErrRateLimitExceeded means the caller is over its call cap and must wait.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrBackendUnavailable means the reasoning backend is unreachable or erroring.
	ErrBackendUnavailable = errors.New("reasoning backend unavailable")

	// ErrTransport means the hub could not be reached.
	ErrTransport = errors.New("hub unreachable")

	// ErrMalformedRequest means a required field was missing or invalid.
	ErrMalformedRequest = errors.New("malformed request")
)

// Wire codes carried in transport error bodies.
const (
	CodeNotFound           = "not_found"
	CodeSelfAddress        = "self_address"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeBackendUnavailable = "backend_unavailable"
	CodeTransport          = "transport_error"
	CodeMalformedRequest   = "malformed_request"
	CodeInternal           = "internal"
)

var codes = []struct {
	err    error
	code   string
	status int
}{
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrSelfAddress, CodeSelfAddress, http.StatusBadRequest},
	{ErrRateLimitExceeded, CodeRateLimitExceeded, http.StatusTooManyRequests},
	{ErrBackendUnavailable, CodeBackendUnavailable, http.StatusBadGateway},
	{ErrTransport, CodeTransport, http.StatusServiceUnavailable},
	{ErrMalformedRequest, CodeMalformedRequest, http.StatusBadRequest},
}

// Code returns the wire code for err, or CodeInternal if err is not part of the taxonomy.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// HTTPStatus returns the HTTP status used to report err.
func HTTPStatus(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// FromCode rebuilds a taxonomy error from a wire code and message.
// Unknown codes produce a plain error carrying the message.
func FromCode(code, msg string) error {
	for _, c := range codes {
		if c.code == code {
			msg = strings.TrimPrefix(msg, c.err.Error())
			msg = strings.TrimPrefix(msg, ": ")
			if msg == "" {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, msg)
		}
	}
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("%s: %s", code, msg)
}

// IsNotFound reports whether err means an unknown agent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
