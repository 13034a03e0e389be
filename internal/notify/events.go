package notify

import (
	"fmt"
	"strconv"
)

// NewOperatorAlertEvent reports that automatic remediation gave up after
// attempts escalated continuations.
func NewOperatorAlertEvent(target string, attempts int, reason string) Event {
	return Event{
		Type:    EventOperatorAlert,
		Target:  target,
		Tier:    "operator_alert",
		Message: fmt.Sprintf("Automatic recovery failed after %d attempts, please check the session", attempts),
		Details: map[string]string{
			"attempts": strconv.Itoa(attempts),
			"reason":   reason,
		},
	}
}

// NewBudgetExhaustedEvent reports that the watchdog disabled itself.
func NewBudgetExhaustedEvent(target, budget string) Event {
	return Event{
		Type:    EventBudgetExhausted,
		Target:  target,
		Message: fmt.Sprintf("Session budget of %s exhausted, watchdog stopped", budget),
		Details: map[string]string{"budget": budget},
	}
}

// NewSessionEndedEvent reports the end-of-session marker.
func NewSessionEndedEvent(target, marker string) Event {
	return Event{
		Type:    EventSessionEnded,
		Target:  target,
		Message: fmt.Sprintf("Session ended with marker %q", marker),
		Details: map[string]string{"marker": marker},
	}
}

// NewSessionStoppedEvent reports a stop gesture observed in the UI.
func NewSessionStoppedEvent(target, source string) Event {
	return Event{
		Type:    EventSessionStopped,
		Target:  target,
		Message: "Watchdog stopped from the UI",
		Details: map[string]string{"source": source},
	}
}

// NewActionFailedEvent reports a click or injection that did not go through.
func NewActionFailedEvent(target, tier string, err error) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Event{
		Type:    EventActionFailed,
		Target:  target,
		Tier:    tier,
		Message: fmt.Sprintf("%s failed: %s", tier, msg),
		Details: map[string]string{"error": msg},
	}
}
