package watchdog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config holds the watchdog's timings, ceilings and command texts.
type Config struct {
	ClickCooldown         time.Duration // minimum gap between UI-affecting actions
	RetryWindow           time.Duration // consecutive error-retry window
	SimulateCooldown      time.Duration // window for counting escalated continuations
	MaxConsecutiveRetries int
	MaxSimulateAttempts   int
	MaxDuration           time.Duration // session budget
	SettleDelay           time.Duration // delay between a decision and text injection
	EnhancedCooldown      time.Duration
	ContinuationCooldown  time.Duration
	PollInterval          time.Duration
	TransitionInterval    time.Duration
	ProbeTimeout          time.Duration

	ContinueText string
	EnhancedText string
	EndMarker    string
	StopMarker   string
	// EnhancedLookback is how many trailing markers are searched for an
	// already-issued enhanced command.
	EnhancedLookback int
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		ClickCooldown:         3 * time.Second,
		RetryWindow:           10 * time.Second,
		SimulateCooldown:      5 * time.Second,
		MaxConsecutiveRetries: 3,
		MaxSimulateAttempts:   3,
		MaxDuration:           24 * time.Hour,
		SettleDelay:           time.Second,
		EnhancedCooldown:      60 * time.Second,
		ContinuationCooldown:  3 * time.Second,
		PollInterval:          time.Second,
		TransitionInterval:    2 * time.Second,
		ProbeTimeout:          2 * time.Second,
		ContinueText:          "continue",
		EnhancedText:          "continue. You appear to be stuck repeating a step that produces nothing; take a different approach.",
		EndMarker:             "end",
		StopMarker:            "/keepalive stop",
		EnhancedLookback:      4,
	}
}

// Validate checks the configuration for values the policy cannot run with.
func (c Config) Validate() error {
	var problems []string
	positive := map[string]time.Duration{
		"poll_interval":       c.PollInterval,
		"transition_interval": c.TransitionInterval,
		"max_duration":        c.MaxDuration,
		"probe_timeout":       c.ProbeTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", name))
		}
	}
	nonNegative := map[string]time.Duration{
		"click_cooldown":        c.ClickCooldown,
		"retry_window":          c.RetryWindow,
		"simulate_cooldown":     c.SimulateCooldown,
		"settle_delay":          c.SettleDelay,
		"enhanced_cooldown":     c.EnhancedCooldown,
		"continuation_cooldown": c.ContinuationCooldown,
	}
	for name, d := range nonNegative {
		if d < 0 {
			problems = append(problems, fmt.Sprintf("%s must not be negative", name))
		}
	}
	if c.MaxConsecutiveRetries < 1 {
		problems = append(problems, "max_consecutive_retries must be at least 1")
	}
	if c.MaxSimulateAttempts < 1 {
		problems = append(problems, "max_simulate_attempts must be at least 1")
	}
	if strings.TrimSpace(c.ContinueText) == "" {
		problems = append(problems, "continue_text must not be empty")
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("invalid watchdog config: %s", strings.Join(problems, "; "))
}
