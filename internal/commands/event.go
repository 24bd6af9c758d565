package commands

import (
	"encoding/json"
	"fmt"

	beacon_errors "beacon-chat/pkg/errors"

	"github.com/google/uuid"
)

// Event is one inbound websocket frame bound to the identity of the
// connection that sent it.
type Event struct {
	Type         string
	UserID       uuid.UUID
	Username     string
	ConnectionID string
	Data         json.RawMessage
}

func (e Event) CommandType() string {
	return e.Type
}

func (e Event) Validate() error {
	if e.Type == "" || e.UserID == uuid.Nil {
		return beacon_errors.ErrInvalidInput
	}
	return nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing data: %w", e.Type, beacon_errors.ErrInvalidInput)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %v: %w", e.Type, err, beacon_errors.ErrInvalidInput)
	}
	return nil
}

// AsEvent extracts the Event behind a command.
func AsEvent(cmd Command) (Event, error) {
	ev, ok := cmd.(Event)
	if !ok {
		return Event{}, beacon_errors.ErrInvalidInput
	}
	return ev, nil
}
