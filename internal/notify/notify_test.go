package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled {
		t.Error("default config should be enabled")
	}
	if !cfg.FileBox.Enabled {
		t.Error("default filebox should be enabled")
	}
	n := New(cfg)
	if !n.enabledSet[EventOperatorAlert] {
		t.Error("operator alerts should be enabled by default")
	}
	if n.enabledSet[EventActionFailed] {
		t.Error("action failures should be opt-in")
	}
}

func TestNotifyDisabled(t *testing.T) {
	n := New(Config{Enabled: false})
	if err := n.Notify(Event{Type: EventOperatorAlert}); err != nil {
		t.Errorf("Notify() on disabled notifier = %v, want nil", err)
	}
}

func TestNotifyIgnoresUnlistedEvents(t *testing.T) {
	dir := t.TempDir()
	n := New(Config{
		Enabled: true,
		Events:  []string{string(EventOperatorAlert)},
		FileBox: FileBoxConfig{Enabled: true, Path: dir},
	})
	if err := n.Notify(Event{Type: EventActionFailed, Message: "x"}); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	files, _ := os.ReadDir(dir)
	if len(files) != 0 {
		t.Errorf("inbox has %d files, want 0", len(files))
	}
}

func TestWebhookNotification(t *testing.T) {
	var got map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("X-Token") != "abc" {
			t.Errorf("X-Token = %q, want abc", r.Header.Get("X-Token"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer ts.Close()

	n := New(Config{
		Enabled: true,
		Events:  []string{string(EventOperatorAlert)},
		Webhook: WebhookConfig{
			Enabled: true,
			URL:     ts.URL,
			Headers: map[string]string{"X-Token": "abc"},
		},
	})
	err := n.Notify(NewOperatorAlertEvent("pane:1", 4, `quote "me"`))
	if err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	if got["event"] != "operator.alert" {
		t.Errorf("event = %q, want operator.alert", got["event"])
	}
	if got["target"] != "pane:1" {
		t.Errorf("target = %q, want pane:1", got["target"])
	}
	if got["tier"] != "operator_alert" {
		t.Errorf("tier = %q, want operator_alert", got["tier"])
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	n := New(Config{
		Enabled: true,
		Events:  []string{string(EventBudgetExhausted)},
		Webhook: WebhookConfig{Enabled: true, URL: ts.URL},
	})
	err := n.Notify(NewBudgetExhaustedEvent("t", "24h0m0s"))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Notify() = %v, want 502 error", err)
	}
}

func TestLogNotification(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "notify.log")
	n := New(Config{
		Enabled: true,
		Events:  []string{string(EventSessionEnded)},
		Log:     LogConfig{Enabled: true, Path: logPath},
	})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := NewSessionEndedEvent("work:0.1", "end")
	ev.Timestamp = ts
	if err := n.Notify(ev); err != nil {
		t.Fatalf("Notify() = %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "[2026-03-01T12:00:00Z] [work:0.1] session.ended: Session ended with marker \"end\"\n"
	if string(content) != want {
		t.Errorf("log line = %q, want %q", content, want)
	}
}

func TestFileBoxNotification(t *testing.T) {
	dir := t.TempDir()
	n := New(Config{
		Enabled: true,
		Events:  []string{string(EventOperatorAlert)},
		FileBox: FileBoxConfig{Enabled: true, Path: dir},
	})
	ev := NewOperatorAlertEvent("cursor", 4, "continuation attempts exhausted")
	ev.Timestamp = time.Date(2026, 1, 4, 10, 30, 0, 0, time.UTC)
	ev.RunID = "run-1"
	if err := n.Notify(ev); err != nil {
		t.Fatalf("Notify() = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "2026-01-04_10-30-00_operator_alert.md"))
	if err != nil {
		t.Fatalf("read inbox file: %v", err)
	}
	for _, want := range []string{
		"# operator.alert",
		"**Target:** cursor",
		"**Run:** run-1",
		"- **attempts:** 4",
		"- **reason:** continuation attempts exhausted",
	} {
		if !strings.Contains(string(content), want) {
			t.Errorf("inbox file missing %q", want)
		}
	}
	// details are written in key order
	if strings.Index(string(content), "- **attempts:**") > strings.Index(string(content), "- **reason:**") {
		t.Error("details not sorted")
	}
}

func TestRoutingRules(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")
	inbox := filepath.Join(dir, "inbox")

	n := New(Config{
		Enabled: true,
		Events:  []string{string(EventOperatorAlert), string(EventActionFailed)},
		Routing: map[string][]string{
			string(EventActionFailed):  {"log"},
			string(EventOperatorAlert): {"filebox"},
		},
		Log:     LogConfig{Enabled: true, Path: logPath},
		FileBox: FileBoxConfig{Enabled: true, Path: inbox},
	})

	if err := n.Notify(NewActionFailedEvent("t", "error_retry_click", errors.New("element detached"))); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	logContent, _ := os.ReadFile(logPath)
	if !strings.Contains(string(logContent), "element detached") {
		t.Error("log should contain the action failure")
	}
	files, _ := os.ReadDir(inbox)
	if len(files) != 0 {
		t.Error("inbox should be empty for an event routed to log")
	}
}

func TestPrimaryFallback(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	n := New(Config{
		Enabled:  true,
		Events:   []string{string(EventOperatorAlert)},
		Primary:  "webhook",
		Fallback: "filebox",
		FileBox:  FileBoxConfig{Enabled: true, Path: inbox},
	})
	if err := n.Notify(Event{Type: EventOperatorAlert, Message: "fallback"}); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	files, _ := os.ReadDir(inbox)
	if len(files) != 1 {
		t.Errorf("inbox has %d files, want 1", len(files))
	}
}

func TestAllChannelsFail(t *testing.T) {
	n := New(Config{
		Enabled: true,
		Events:  []string{string(EventOperatorAlert)},
		Primary: "webhook",
	})
	if err := n.Notify(Event{Type: EventOperatorAlert}); err == nil {
		t.Error("Notify() = nil, want error when no channel works")
	}
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_URL", "https://example.com/hook")
	t.Setenv("TEST_TOKEN", "secret")

	n := New(Config{
		Enabled: true,
		Webhook: WebhookConfig{
			Enabled: true,
			URL:     "${TEST_WEBHOOK_URL}",
			Headers: map[string]string{"Authorization": "Bearer $TEST_TOKEN"},
		},
	})
	if n.config.Webhook.URL != "https://example.com/hook" {
		t.Errorf("URL = %s, want expanded", n.config.Webhook.URL)
	}
	if n.config.Webhook.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("header = %s, want expanded", n.config.Webhook.Headers["Authorization"])
	}
}

func TestChannels(t *testing.T) {
	n := New(Config{
		Desktop: DesktopConfig{Enabled: true},
		Log:     LogConfig{Enabled: true, Path: "/tmp/x.log"},
		Shell:   ShellConfig{Enabled: true}, // no command, stays off
	})
	got := n.Channels()
	want := []ChannelName{ChannelDesktop, ChannelLog}
	if len(got) != len(want) {
		t.Fatalf("Channels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Channels()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestJSONEscape(t *testing.T) {
	if got := jsonEscape(`a "b"` + "\n"); got != `a \"b\"\n` {
		t.Errorf("jsonEscape = %q", got)
	}
}

func TestActionFailedEventNilError(t *testing.T) {
	ev := NewActionFailedEvent("t", "resume_link", nil)
	if ev.Details["error"] != "unknown error" {
		t.Errorf("details = %v", ev.Details)
	}
}

func TestShellNotificationTimesOut(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	old := execTimeout
	execTimeout = 200 * time.Millisecond
	defer func() { execTimeout = old }()

	n := New(Config{
		Enabled: true,
		Events:  []string{string(EventOperatorAlert)},
		Shell:   ShellConfig{Enabled: true, Command: "sleep 5"},
	})
	start := time.Now()
	err := n.Notify(Event{Type: EventOperatorAlert, Message: "stuck"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Notify() = %v, want a timeout error", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("shell channel took %v, want it cut off near the timeout", elapsed)
	}
}

func TestShellNotificationEnv(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out := filepath.Join(t.TempDir(), "out")
	n := New(Config{
		Enabled: true,
		Events:  []string{string(EventSessionEnded)},
		Shell:   ShellConfig{Enabled: true, Command: `printf '%s' "$KEEPALIVE_EVENT_TYPE" > ` + out},
	})
	if err := n.Notify(Event{Type: EventSessionEnded}); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(EventSessionEnded) {
		t.Errorf("KEEPALIVE_EVENT_TYPE = %q", data)
	}
}
