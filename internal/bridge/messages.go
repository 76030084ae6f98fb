package bridge

import (
	"time"

	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/dispatch"
)

// CommandMessage is the payload expected on tuyalink/command/{device_id}.
// The device id comes from the topic, not the payload.
type CommandMessage struct {
	// ID correlates the command with its outcome event. Optional; one is
	// assigned if absent.
	ID string `json:"id,omitempty"`

	// Command is the command name, e.g. "turn_on", "set_brightness".
	Command string `json:"command"`

	// Value carries the command argument where one is needed.
	Value any `json:"value,omitempty"`

	// Source indicates where the command originated, for tracing.
	Source string `json:"source,omitempty"`
}

// OutcomeMessage is published to tuyalink/event/dispatch for every command
// that reaches a terminal result, success or failure.
type OutcomeMessage struct {
	CommandID string    `json:"command_id"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	dispatch.Outcome
}

// StateMessage is the retained payload on tuyalink/state/{device_id}.
// New subscribers receive the last state immediately.
type StateMessage struct {
	DeviceID     string        `json:"device_id"`
	Status       device.Status `json:"status,omitempty"`
	Reachability string        `json:"reachability"`
	LastError    string        `json:"last_error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}
