package ignition

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific attempt failure type.
type ErrorCode string

const (
	ErrCodeCamera         ErrorCode = "CAMERA_ERROR"
	ErrCodeQuality        ErrorCode = "QUALITY_FAILED"
	ErrCodeNoEmbedding    ErrorCode = "NO_EMBEDDING"
	ErrCodeMatcher        ErrorCode = "MATCH_ERROR"
	ErrCodeSensorTimeout  ErrorCode = "SENSOR_TIMEOUT"
	ErrCodeCancelled      ErrorCode = "CANCELLED"
	ErrCodeBusy           ErrorCode = "BUSY"
	ErrCodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	ErrCodeActuator       ErrorCode = "ACTUATOR_ERROR"
)

// AttemptError is a structured start attempt error.
type AttemptError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AttemptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// User-facing messages
var errorMessages = map[ErrorCode]string{
	ErrCodeCamera:         "Camera error. Please check the camera connection",
	ErrCodeQuality:        "Could not capture a usable image of your face",
	ErrCodeNoEmbedding:    "Face detected but could not be analysed. Please try again",
	ErrCodeMatcher:        "Face recognition failed",
	ErrCodeSensorTimeout:  "No finger detected on the sensor",
	ErrCodeCancelled:      "Start attempt cancelled",
	ErrCodeBusy:           "Waiting for the owner to authorize the previous attempt",
	ErrCodeAlreadyRunning: "Vehicle is already running",
	ErrCodeActuator:       "Motor could not be started",
}

// GetErrorMessage returns a user-friendly message for an error code.
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "Start attempt failed"
}

// NewAttemptError creates an AttemptError wrapping cause.
func NewAttemptError(code ErrorCode, cause error) *AttemptError {
	return &AttemptError{
		Code:    code,
		Message: GetErrorMessage(code),
		Err:     cause,
	}
}

// CodeOf returns the ErrorCode carried by err, or "" if it has none.
func CodeOf(err error) ErrorCode {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// ErrNotPending is returned by Resolve when no decision is outstanding.
var ErrNotPending = errors.New("no authorization pending")

// ErrClosed is returned after the controller was closed.
var ErrClosed = errors.New("controller closed")
