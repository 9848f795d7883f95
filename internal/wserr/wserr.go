// Package wserr defines the tagged error type shared by every layer of the
// wsclient protocol engine: the frame codec, the handshake, the transport
// adapter, and the connection worker all eventually surface failures through
// an *Error so that a caller's on_disconnected callback can branch on a
// stable code instead of matching error strings.
package wserr

import "fmt"

// Code enumerates the failure categories a Client can report. The zero value
// is never produced by this package; a real failure always carries a
// specific code.
type Code int

const (
	CodeUnknown Code = iota
	CodeMissingParameter
	CodeConnectFailed
	CodeSendFailed
	CodeRecvFailed
	CodeParseHandshake
	CodeNot101
	CodeMissingSecAccept
	CodeBadSecAccept
	CodeFrameParse
	CodeProtocol
	CodePeerClosed
	CodeMemory
)

var codeNames = map[Code]string{
	CodeUnknown:          "unknown",
	CodeMissingParameter: "missing_parameter",
	CodeConnectFailed:    "connect_failed",
	CodeSendFailed:       "send_failed",
	CodeRecvFailed:       "recv_failed",
	CodeParseHandshake:   "parse_handshake",
	CodeNot101:           "not_101",
	CodeMissingSecAccept: "missing_sec_accept",
	CodeBadSecAccept:     "bad_sec_accept",
	CodeFrameParse:       "frame_parse",
	CodeProtocol:         "protocol",
	CodePeerClosed:       "peer_closed",
	CodeMemory:           "memory",
}

// String returns the snake_case name used in log fields and in String().
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// Error is the tagged failure value returned by Client.LastError and carried
// through on_disconnected. HTTPStatus is non-nil only for CodeNot101, where
// it holds the status line code the server actually returned.
type Error struct {
	Code        Code
	HTTPStatus  *int
	Description string
	Err         error // wrapped cause, may be nil
}

// New creates an *Error with no wrapped cause and no HTTP status.
func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Wrap creates an *Error that wraps a lower-level error, preserving it for
// errors.Is/errors.As while presenting a stable Code to the caller.
func Wrap(code Code, description string, err error) *Error {
	return &Error{Code: code, Description: description, Err: err}
}

// WithHTTPStatus attaches an HTTP status line code, used only for
// CodeNot101 per spec.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = &status
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.HTTPStatus != nil {
		if e.Err != nil {
			return fmt.Sprintf("wsclient: %s (http %d): %s: %v", e.Code, *e.HTTPStatus, e.Description, e.Err)
		}
		return fmt.Sprintf("wsclient: %s (http %d): %s", e.Code, *e.HTTPStatus, e.Description)
	}
	if e.Err != nil {
		return fmt.Sprintf("wsclient: %s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("wsclient: %s: %s", e.Code, e.Description)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
