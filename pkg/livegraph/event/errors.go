package event

import (
	"errors"
	"fmt"
)

// ErrBusClosed is returned when publishing on a closed bus.
var ErrBusClosed = errors.New("bus is closed")

// EventError reports a failure while publishing or handling an event.
type EventError struct {
	Event   Event
	Message string
	Err     error
}

// Error implements error.
func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %s (%s): %s: %v", e.Event.ID(), e.Event.Type(), e.Message, e.Err)
	}
	return fmt.Sprintf("event %s (%s): %s", e.Event.ID(), e.Event.Type(), e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}
