// Package events carries watchdog activity to in-process consumers such as
// the journal, the HTTP event stream and the monitor.
package events

import "time"

// Type names an event.
type Type string

const (
	TypeStarted      Type = "watchdog.started"
	TypeStopped      Type = "watchdog.stopped"
	TypeReset        Type = "watchdog.reset"
	TypeHalted       Type = "watchdog.halted"
	TypeAction       Type = "watchdog.action"
	TypeActionFailed Type = "watchdog.action_failed"
	TypePhase        Type = "watchdog.phase"
	TypeProbeFailed  Type = "watchdog.probe_failed"
	TypeConfig       Type = "watchdog.config_reloaded"
)

// Event is one watchdog occurrence.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Target    string    `json:"target,omitempty"`

	Tier   string `json:"tier,omitempty"`
	Phase  string `json:"phase,omitempty"`
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`

	RetryCount       int `json:"retry_count"`
	SimulateAttempts int `json:"simulate_attempts"`
}

// Succeeded reports whether an action event went through.
func (e Event) Succeeded() bool {
	return e.Type == TypeAction && e.Error == ""
}
