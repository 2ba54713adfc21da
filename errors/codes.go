package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Call-time errors (routine, the caller decides on retry or fallback)
const (
	// ErrCodeBulkheadFull indicates a call was rejected because the bulkhead is saturated.
	ErrCodeBulkheadFull ErrorCode = "BULKHEAD_FULL"
	// ErrCodeBulkheadClosed indicates a call was rejected because the bulkhead has been shut down.
	ErrCodeBulkheadClosed ErrorCode = "BULKHEAD_CLOSED"
	// ErrCodeMaxRetriesExceeded indicates every retry attempt failed.
	ErrCodeMaxRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"
)

// Lookup errors
const (
	// ErrCodeNotFound indicates the requested instance or configuration was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Startup errors
const (
	// ErrCodeInvalidConfiguration indicates configuration bounds are invalid.
	ErrCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	// ErrCodeDisabled indicates a component was requested while disabled.
	ErrCodeDisabled ErrorCode = "DISABLED"
)

// Internal errors
const (
	// ErrCodeSubscriberFailure indicates an event subscriber failed while handling an event.
	ErrCodeSubscriberFailure ErrorCode = "SUBSCRIBER_FAILURE"
	// ErrCodeInternal indicates an unexpected failure, such as a panicking task.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeBulkheadFull: true,
	ErrCodeInternal:     false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
