// Package apperr defines the failure taxonomy shared by the extraction
// pipeline: transient upstream failures pause the queue, item-level failures
// mark a single entry, storage failures read as "absent".
package apperr

import (
	"errors"
	"fmt"
)

// Error codes
const (
	// Inference (upstream) errors - transient, queue-level
	CodeInferenceTimeout   = "INFERENCE_TIMEOUT"
	CodeInferenceTransport = "INFERENCE_TRANSPORT"
	CodeInferenceUpstream  = "INFERENCE_UPSTREAM"
	CodeCircuitOpen        = "CIRCUIT_OPEN"

	// Item-level errors
	CodeMalformedOutput = "MALFORMED_OUTPUT"
	CodeNoJSON          = "NO_JSON"
	CodeUnclosedJSON    = "UNCLOSED_JSON"
	CodeMessageGone     = "MESSAGE_GONE"

	// Infrastructure errors
	CodeStorageError = "STORAGE_ERROR"
	CodeConfigError  = "CONFIG_ERROR"
)

// AppError is a structured application error.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Constructor functions
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Inference errors
func InferenceTimeout(err error) *AppError {
	return &AppError{
		Code:    CodeInferenceTimeout,
		Message: "inference request timed out",
		Err:     err,
	}
}

func InferenceTransport(err error) *AppError {
	return &AppError{
		Code:    CodeInferenceTransport,
		Message: "failed to reach inference server",
		Err:     err,
	}
}

func InferenceUpstream(status int, body string) *AppError {
	return &AppError{
		Code:    CodeInferenceUpstream,
		Message: fmt.Sprintf("inference server rejected request (status %d)", status),
		Details: map[string]any{"status": status, "body": body},
	}
}

func CircuitOpen(err error) *AppError {
	return &AppError{
		Code:    CodeCircuitOpen,
		Message: "inference circuit breaker is open",
		Err:     err,
	}
}

// Item-level errors
func MalformedOutput(err error) *AppError {
	return &AppError{
		Code:    CodeMalformedOutput,
		Message: "model output could not be parsed",
		Err:     err,
	}
}

func MessageGone(messageID string) *AppError {
	return &AppError{
		Code:    CodeMessageGone,
		Message: "source message no longer exists",
		Details: map[string]any{"message_id": messageID},
	}
}

// Infrastructure errors
func StorageError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeStorageError,
		Message: fmt.Sprintf("storage error: %s", operation),
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{Code: CodeConfigError, Message: message}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsTransient reports whether the error indicates the shared inference
// resource is unavailable. Transient failures pause the whole queue; anything
// else affects only the current item.
func IsTransient(err error) bool {
	switch Code(err) {
	case CodeInferenceTimeout, CodeInferenceTransport, CodeInferenceUpstream, CodeCircuitOpen:
		return true
	}
	return false
}

// IsMessageGone reports whether the source message disappeared mid-queue.
// These items are dropped silently - not an error.
func IsMessageGone(err error) bool {
	return Code(err) == CodeMessageGone
}
