package bulkhead

import (
	"fmt"
	"time"
)

// EventType identifies a bulkhead call event.
type EventType string

const (
	EventCallPermitted EventType = "CALL_PERMITTED"
	EventCallRejected  EventType = "CALL_REJECTED"
	EventCallFinished  EventType = "CALL_FINISHED"
)

// Event records one call transition. Finished events carry the call's
// duration and, when it failed, its error.
type Event struct {
	Type         EventType     `json:"type"`
	BulkheadName string        `json:"bulkhead_name"`
	CreatedAt    time.Time     `json:"created_at"`
	Duration     time.Duration `json:"duration,omitempty"`
	Err          error         `json:"-"`
	ErrorMessage string        `json:"error,omitempty"`
}

func newEvent(t EventType, name string) Event {
	return Event{Type: t, BulkheadName: name, CreatedAt: time.Now()}
}

// Failed reports whether a CALL_FINISHED event ended in error.
func (e Event) Failed() bool { return e.Err != nil }

func (e Event) String() string {
	switch {
	case e.Type == EventCallFinished && e.Err != nil:
		return fmt.Sprintf("%s: Bulkhead '%s' has finished a call after %s with error: %v",
			e.CreatedAt.Format(time.RFC3339Nano), e.BulkheadName, e.Duration, e.Err)
	case e.Type == EventCallFinished:
		return fmt.Sprintf("%s: Bulkhead '%s' has finished a call after %s.",
			e.CreatedAt.Format(time.RFC3339Nano), e.BulkheadName, e.Duration)
	case e.Type == EventCallRejected:
		return fmt.Sprintf("%s: Bulkhead '%s' rejected a call.", e.CreatedAt.Format(time.RFC3339Nano), e.BulkheadName)
	default:
		return fmt.Sprintf("%s: Bulkhead '%s' permitted a call.", e.CreatedAt.Format(time.RFC3339Nano), e.BulkheadName)
	}
}
