package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrBulkheadFull         = &AppError{Code: ErrCodeBulkheadFull}
	ErrBulkheadClosed       = &AppError{Code: ErrCodeBulkheadClosed}
	ErrNotFound             = &AppError{Code: ErrCodeNotFound}
	ErrInvalidConfiguration = &AppError{Code: ErrCodeInvalidConfiguration}
	ErrDisabled             = &AppError{Code: ErrCodeDisabled}
	ErrSubscriberFailure    = &AppError{Code: ErrCodeSubscriberFailure}
	ErrMaxRetriesExceeded   = &AppError{Code: ErrCodeMaxRetriesExceeded}
	ErrInternal             = &AppError{Code: ErrCodeInternal}
)

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an *AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join returns an error wrapping errs, or nil if every err is nil.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// --- Constructors ---

// InvalidConfiguration creates an error for a configuration value that violates its bounds.
func InvalidConfiguration(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidConfiguration, Message: fmt.Sprintf("invalid configuration: %s", reason),
		Retryable: false, Details: details,
	}
}

// BulkheadFull creates an error for a call rejected by a saturated bulkhead.
func BulkheadFull(name string) *AppError {
	return &AppError{
		Code: ErrCodeBulkheadFull, Message: fmt.Sprintf("bulkhead '%s' is full and does not permit further calls", name),
		Retryable: true,
		Details:   map[string]any{"bulkhead": name},
	}
}

// BulkheadClosed creates an error for a call submitted to a bulkhead that has been shut down.
func BulkheadClosed(name string) *AppError {
	return &AppError{
		Code: ErrCodeBulkheadClosed, Message: fmt.Sprintf("bulkhead '%s' is shut down", name),
		Retryable: false,
		Details:   map[string]any{"bulkhead": name},
	}
}

// NotFound creates an error for an instance or configuration that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("the requested %s was not found", resource),
		Retryable: false, Details: details,
	}
}

// Disabled creates an error for a component that was requested while disabled.
func Disabled(component string) *AppError {
	return &AppError{
		Code: ErrCodeDisabled, Message: fmt.Sprintf("%s is disabled", component),
		Retryable: false,
		Details:   map[string]any{"component": component},
	}
}

// SubscriberFailure creates an error for an event subscriber that failed.
func SubscriberFailure(subscriber string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeSubscriberFailure, Message: fmt.Sprintf("event subscriber '%s' failed", subscriber),
		Retryable: false, Cause: cause,
		Details: map[string]any{"subscriber": subscriber},
	}
}

// MaxRetriesExceeded creates an error for a retry policy that ran out of attempts.
func MaxRetriesExceeded(name string, attempts int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeMaxRetriesExceeded, Message: fmt.Sprintf("retry '%s' gave up after %d attempts", name, attempts),
		Retryable: false, Cause: cause,
		Details: map[string]any{"retry": name, "attempts": attempts},
	}
}

// Internal creates an error for an unexpected failure.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "an unexpected error occurred",
		Retryable: false, Cause: cause,
	}
}
