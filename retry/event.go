package retry

import (
	"fmt"
	"time"
)

// EventType identifies a retry event.
type EventType string

const (
	EventRetry        EventType = "RETRY"
	EventSuccess      EventType = "SUCCESS"
	EventError        EventType = "ERROR"
	EventIgnoredError EventType = "IGNORED_ERROR"
)

// Event records one retry transition. Attempt is the number of attempts
// made so far; WaitDuration is set on RETRY events.
type Event struct {
	Type         EventType     `json:"type"`
	RetryName    string        `json:"retry_name"`
	CreatedAt    time.Time     `json:"created_at"`
	Attempt      int           `json:"attempt"`
	WaitDuration time.Duration `json:"wait_duration,omitempty"`
	Err          error         `json:"-"`
	ErrorMessage string        `json:"error,omitempty"`
}

func (e Event) String() string {
	ts := e.CreatedAt.Format(time.RFC3339Nano)
	switch e.Type {
	case EventRetry:
		return fmt.Sprintf("%s: Retry '%s', waiting %s until attempt '%d'. Last attempt failed with exception '%s'.",
			ts, e.RetryName, e.WaitDuration, e.Attempt+1, e.ErrorMessage)
	case EventSuccess:
		return fmt.Sprintf("%s: Retry '%s' recorded a successful retry attempt. Number of retry attempts: '%d'.",
			ts, e.RetryName, e.Attempt)
	case EventIgnoredError:
		return fmt.Sprintf("%s: Retry '%s' recorded an error which has been ignored: '%s'.",
			ts, e.RetryName, e.ErrorMessage)
	default:
		return fmt.Sprintf("%s: Retry '%s' recorded a failed retry attempt. Number of retry attempts: '%d'. Giving up. Last exception was: '%s'.",
			ts, e.RetryName, e.Attempt, e.ErrorMessage)
	}
}
