package serve

import (
	"context"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/keepalive/internal/journal"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

func TestClientRoundTrip(t *testing.T) {
	hist := &fakeHistory{entries: []journal.Entry{{ID: 7, RunID: "run-test", Tier: "simulate_continue", Success: true}}}
	ts, _ := newTestServer(t, Config{APIKey: "k", History: hist})
	c := NewClient(ts.URL, "k")
	ctx := context.Background()

	st, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !st.Active {
		t.Error("Start: not active")
	}

	st, err = c.Toggle(ctx)
	if err != nil || st.Active {
		t.Errorf("Toggle = %+v, %v", st, err)
	}

	if _, err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	st, err = c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.RunID != "run-test" || st.Phase != watchdog.PolicyIdle || st.RetryCount != 1 {
		t.Errorf("Status = %+v", st)
	}

	entries, err := c.History(ctx, 3, "run-test")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 7 {
		t.Errorf("History = %+v", entries)
	}
	if hist.limit != 3 || hist.runID != "run-test" {
		t.Errorf("Recent(%d, %q)", hist.limit, hist.runID)
	}

	if _, err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	ts, _ := newTestServer(t, Config{APIKey: "k"})
	_, err := NewClient(ts.URL, "wrong").Status(context.Background())
	if err == nil || !strings.Contains(err.Error(), ErrCodeUnauthorized) {
		t.Fatalf("err = %v, want %s", err, ErrCodeUnauthorized)
	}

	_, err = NewClient(ts.URL, "k").History(context.Background(), 0, "")
	if err == nil || !strings.Contains(err.Error(), ErrCodeServiceUnavail) {
		t.Fatalf("err = %v, want %s", err, ErrCodeServiceUnavail)
	}
}

func TestNewClientAddsScheme(t *testing.T) {
	if c := NewClient("127.0.0.1:7823/", ""); c.base != "http://127.0.0.1:7823" {
		t.Errorf("base = %q", c.base)
	}
	if c := NewClient("https://host", ""); c.base != "https://host" {
		t.Errorf("base = %q", c.base)
	}
}
