// pkg/transport/axapi/errors.go
package axapi

import (
	"fmt"
	"strings"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
)

// ErrorCode represents transport-level error classifications
type ErrorCode string

const (
	ErrorCodeNone             ErrorCode = "NONE"
	ErrorCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrorCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrorCodeAlreadyExists    ErrorCode = "ALREADY_EXISTS"
	ErrorCodeThrottling       ErrorCode = "THROTTLING"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrorCodeUnknown          ErrorCode = "UNKNOWN"
)

// Error represents a transport layer error with classification
type Error struct {
	Code       ErrorCode
	Message    string
	HTTPCode   int
	Underlying error
}

func (e *Error) Error() string {
	if e.HTTPCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.HTTPCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is maps the transport classification onto the driver's error kinds so that
// callers can use errors.Is(err, fault.ErrConflict) and friends.
func (e *Error) Is(target error) bool {
	return target == ToFault(e.Code)
}

// ClassifyHTTPStatus maps HTTP status codes to error codes
func ClassifyHTTPStatus(statusCode int) ErrorCode {
	switch statusCode {
	case 200, 201, 204:
		return ErrorCodeNone
	case 400:
		return ErrorCodeInvalidInput
	case 401, 403:
		return ErrorCodeUnauthorized
	case 404:
		return ErrorCodeResourceNotFound
	case 409:
		return ErrorCodeAlreadyExists
	case 429:
		return ErrorCodeThrottling
	case 500, 502, 503:
		return ErrorCodeInternalError
	default:
		if statusCode >= 200 && statusCode < 300 {
			return ErrorCodeNone
		}
		return ErrorCodeUnknown
	}
}

// ClassifyResponse refines the HTTP classification with the device's error
// message. The appliance reports duplicates and misses as client errors with
// a message; server errors keep their status classification.
func ClassifyResponse(statusCode int, message string) ErrorCode {
	code := ClassifyHTTPStatus(statusCode)
	switch statusCode {
	case 400, 404, 409:
	default:
		return code
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "does not exist"), strings.Contains(msg, "not found"):
		return ErrorCodeResourceNotFound
	case strings.Contains(msg, "already exists"):
		return ErrorCodeAlreadyExists
	}
	return code
}

// ToFault converts a transport error code to the driver's error kind
func ToFault(code ErrorCode) error {
	switch code {
	case ErrorCodeNone:
		return nil
	case ErrorCodeInvalidInput:
		return fault.ErrValidation
	case ErrorCodeResourceNotFound:
		return fault.ErrNotFound
	case ErrorCodeAlreadyExists:
		return fault.ErrConflict
	default:
		return fault.ErrDeviceCommunication
	}
}

// NewError creates a new transport error
func NewError(code ErrorCode, message string, underlying error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}
