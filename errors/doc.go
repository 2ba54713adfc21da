// Package errors provides the error taxonomy shared by the bulkhead, retry,
// registry and event packages.
//
// Configuration errors (INVALID_CONFIGURATION, DISABLED) abort startup.
// Call-time rejections (BULKHEAD_FULL, BULKHEAD_CLOSED) are routine and cheap.
// Subscriber failures are logged by the publisher and never propagated.
//
//	if errors.Is(err, bwerrors.ErrBulkheadFull) {
//	    return fallback()
//	}
package errors
