package watchdog

import (
	"context"
	"errors"
	"testing"
)

type countErrProvider struct{ fakeProvider }

func (c *countErrProvider) CountNoProgressMarkers(ctx context.Context) (int, error) {
	return 0, errors.New("selector drift")
}

func TestLoopDetector_IsStalled(t *testing.T) {
	cfg := DefaultConfig()
	enhanced := cfg.EnhancedText

	tests := []struct {
		name     string
		markers  []string
		trailing []string
		patterns []string
		want     bool
	}{
		{name: "none", want: false},
		{name: "single marker", markers: []string{"No changes"}, want: false},
		{name: "two matching", markers: []string{"No changes", "Model provided no output"}, want: true},
		{name: "older progress ignored", markers: []string{"Applied 3 edits", "no changes", "no changes"}, want: true},
		{name: "last made progress", markers: []string{"no changes", "Applied 2 edits"}, want: false},
		{name: "enhanced already issued", markers: []string{"no changes", "no changes"}, trailing: []string{"a", enhanced, "b"}, want: false},
		{name: "enhanced with extra whitespace", markers: []string{"no changes", "no changes"}, trailing: []string{"  " + enhanced + "\n"}, want: false},
		{name: "enhanced outside lookback", markers: []string{"no changes", "no changes"}, trailing: []string{enhanced, "1", "2", "3", "4"}, want: true},
		{name: "empty patterns accept any marker", markers: []string{"x", "y"}, patterns: []string{}, want: true},
		{name: "blank marker never matches", markers: []string{"no changes", "  "}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patterns := DefaultNoProgressPatterns
			if tt.patterns != nil {
				patterns = tt.patterns
			}
			d := NewLoopDetector(cfg, patterns)
			p := &fakeProvider{noProg: tt.markers}
			got, err := d.IsStalled(context.Background(), p, tt.trailing)
			if err != nil {
				t.Fatalf("IsStalled() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsStalled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoopDetector_ProbeFailure(t *testing.T) {
	d := NewLoopDetector(DefaultConfig(), DefaultNoProgressPatterns)
	stalled, err := d.IsStalled(context.Background(), &countErrProvider{}, nil)
	if stalled {
		t.Error("failed probe must not report a stall")
	}
	if !errors.Is(err, ErrProbeFailure) {
		t.Errorf("err = %v, want ErrProbeFailure", err)
	}
}
