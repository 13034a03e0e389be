package watchdog

import (
	"context"
	"fmt"
	"strings"
)

// DefaultNoProgressPatterns are matched case-insensitively against marker text.
var DefaultNoProgressPatterns = []string{
	"no changes",
	"no output",
	"nothing to do",
	"model provided no",
	"did not produce",
	"no response",
}

// LoopDetector decides whether the session is stuck producing nothing.
type LoopDetector struct {
	// Patterns that mark a status marker as no-progress. Empty means every
	// marker the provider reports counts.
	Patterns []string
	// EnhancedText is the strong remediation command. Seeing it among the
	// last Lookback trailing markers suppresses detection.
	EnhancedText string
	Lookback     int
}

// NewLoopDetector builds a detector from cfg.
func NewLoopDetector(cfg Config, patterns []string) *LoopDetector {
	return &LoopDetector{
		Patterns:     patterns,
		EnhancedText: cfg.EnhancedText,
		Lookback:     cfg.EnhancedLookback,
	}
}

// IsStalled is true iff at least two no-progress markers exist, the last two
// both match, and the enhanced command is not among recent trailing markers.
// trailing is the tick's snapshot of ReadTrailingTextMarkers.
func (d *LoopDetector) IsStalled(ctx context.Context, p UIProvider, trailing []string) (bool, error) {
	count, err := p.CountNoProgressMarkers(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: no-progress count: %v", ErrProbeFailure, err)
	}
	if count < 2 {
		return false, nil
	}

	prev, last, ok, err := p.ReadLastTwoNoProgressMarkers(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: no-progress markers: %v", ErrProbeFailure, err)
	}
	if !ok || !d.matches(prev) || !d.matches(last) {
		return false, nil
	}

	return !d.enhancedIssued(trailing), nil
}

func (d *LoopDetector) matches(marker string) bool {
	marker = strings.ToLower(strings.TrimSpace(marker))
	if marker == "" {
		return false
	}
	if len(d.Patterns) == 0 {
		return true
	}
	for _, p := range d.Patterns {
		if p != "" && strings.Contains(marker, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (d *LoopDetector) enhancedIssued(trailing []string) bool {
	want := normalizeMarker(d.EnhancedText)
	if want == "" {
		return false
	}
	start := 0
	if d.Lookback > 0 && len(trailing) > d.Lookback {
		start = len(trailing) - d.Lookback
	}
	for _, m := range trailing[start:] {
		got := normalizeMarker(m)
		if got != "" && (got == want || strings.Contains(got, want)) {
			return true
		}
	}
	return false
}

func normalizeMarker(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
