package matrix

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrDecode is matched (via errors.Is) by every error produced while turning
// a response body into model types: malformed JSON, a missing or mistyped
// required field, an unknown enumeration value, or a login without a token.
var ErrDecode = errors.New("matrix: decode failed")

// ErrMissingAccessToken is returned by Login when the homeserver answered
// with a success status but no access token. It matches ErrDecode.
var ErrMissingAccessToken = &DecodeError{Type: "LoginResponse", Field: "access_token", Err: errMissingField}

// ErrAmbiguousField is returned when an event's catch-all bag holds a key
// that is also emitted as a named field. It matches ErrDecode.
var ErrAmbiguousField = errors.New("field present both as named attribute and in extra data")

var (
	errMissingField = errors.New("required field is missing")
	errNotObject    = errors.New("expected a JSON object")
)

// DecodeError reports a body that does not match the expected shape.
type DecodeError struct {
	// Type is the model type being decoded, e.g. "RoomEvent".
	Type string
	// Field is the wire name of the offending field, empty when the whole
	// document is malformed.
	Field string
	// Err is the underlying cause.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("matrix: decode %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("matrix: decode %s.%s: %v", e.Type, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// InvalidEnumError reports enumeration text outside the known set.
type InvalidEnumError struct {
	Enum  string
	Value string
}

func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("matrix: invalid %s value %q", e.Enum, e.Value)
}

// Is reports whether target is ErrDecode.
func (e *InvalidEnumError) Is(target error) bool { return target == ErrDecode }

// HTTPStatusError is returned when the homeserver answers with a non-2xx
// status. The response body is not interpreted; callers branch on
// StatusCode (429 rate limiting, 401 expired token, ...).
type HTTPStatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("matrix: %s %s: HTTP %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// StatusCodeOf extracts the HTTP status from an error chain containing an
// *HTTPStatusError.
func StatusCodeOf(err error) (int, bool) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}
