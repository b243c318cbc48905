package mcpproxy

import (
	"errors"
	"fmt"
)

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// ParseError marks a backend reply the gateway could not decode. Callers
// surface it as a response-parsing failure, distinct from transport errors.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	// ErrNotConnected is returned when sending on an unconnected SSE client
	ErrNotConnected = errors.New("sse client not connected")
	// ErrConnectionClosed resolves pending requests when the channel dies
	ErrConnectionClosed = errors.New("sse connection closed")
	// ErrRequestTimeout resolves a pending request whose response never came
	ErrRequestTimeout = errors.New("request timed out")
	// ErrEndpointNotReceived is returned when the backend never announced
	// its message endpoint within the connect timeout
	ErrEndpointNotReceived = errors.New("endpoint event not received before timeout")
)
