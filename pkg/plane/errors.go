package plane

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass is the classification callers branch on. Raw transport
// details stay inside RemoteError.
type ErrorClass string

const (
	ClassUnauthorized      ErrorClass = "unauthorized"
	ClassNotFound          ErrorClass = "not_found"
	ClassConflict          ErrorClass = "conflict"
	ClassBadRequest        ErrorClass = "bad_request"
	ClassServerError       ErrorClass = "server_error"
	ClassUnreachable       ErrorClass = "unreachable"
	ClassMalformedResponse ErrorClass = "malformed_response"
)

// RemoteError is returned by every Client operation that fails.
type RemoteError struct {
	Class      ErrorClass
	StatusCode int // 0 when no response was received
	Method     string
	Path       string
	Body       string // truncated response body
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("plane %s %s: %s", e.Method, e.Path, e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is matches another *RemoteError by class, so
// errors.Is(err, &RemoteError{Class: ClassNotFound}) works.
func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*RemoteError)
	if !ok {
		return false
	}
	return t.Class == e.Class
}

// ErrorClass returns the classification as a plain string for metric labels.
func (e *RemoteError) ErrorClass() string {
	return string(e.Class)
}

// ClassOf returns the classification of err, or "" if err is not a RemoteError.
func ClassOf(err error) ErrorClass {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Class
	}
	return ""
}

// IsNotFound reports whether err is a RemoteError classified NotFound.
func IsNotFound(err error) bool {
	return ClassOf(err) == ClassNotFound
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ClassUnauthorized
	case code == http.StatusNotFound:
		return ClassNotFound
	case code == http.StatusConflict:
		return ClassConflict
	case code >= 500:
		return ClassServerError
	default:
		return ClassBadRequest
	}
}
