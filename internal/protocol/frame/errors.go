package frame

import (
	"errors"
	"fmt"
)

// Error codes carried by failure responses.
const (
	CodeTimeout        = -32000
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeFailed         = -32603
	CodeParseError     = -32700
)

// Error is the error object of a failure response.
type Error struct {
	Code            int    `json:"code"`
	Message         string `json:"message"`
	RequesterNodeID string `json:"requester_nodeid,omitempty"`
	ResponderNodeID string `json:"responder_nodeid,omitempty"`
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Is matches another *Error with the same code, so callers can test
// errors.Is(err, frame.NewError(frame.CodeTimeout, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// CodeOf extracts the protocol error code from err, or 0 if err is not a protocol error.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func IsTimeout(err error) bool {
	return CodeOf(err) == CodeTimeout
}
