package watchdog

import "errors"

var (
	// ErrProbeFailure means the provider could not resolve a signal this tick.
	ErrProbeFailure = errors.New("probe failure")
	// ErrActionFailure means a click or text injection did not go through.
	ErrActionFailure = errors.New("action failure")
	// ErrBudgetExhausted means the session time budget ran out.
	ErrBudgetExhausted = errors.New("session budget exhausted")
	// ErrRemediationCeilingExceeded means automatic remediation gave up and
	// the operator was alerted.
	ErrRemediationCeilingExceeded = errors.New("remediation ceiling exceeded")
)
