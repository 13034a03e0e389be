package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/keepalive/internal/config"
	"github.com/Dicklesworthstone/keepalive/internal/journal"
	"github.com/Dicklesworthstone/keepalive/internal/serve"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

// clearEnv isolates a test from the caller's keepalive environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"KEEPALIVE_CONFIG", "KEEPALIVE_PROVIDER", "KEEPALIVE_TARGET",
		"KEEPALIVE_DEBUGGER_URL", "KEEPALIVE_TMUX_REMOTE", "KEEPALIVE_LISTEN",
		"KEEPALIVE_API_KEY", "KEEPALIVE_MAX_DURATION", "KEEPALIVE_JOURNAL",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type fakeController struct {
	mu     sync.Mutex
	active bool
	resets int
}

func (f *fakeController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
}

func (f *fakeController) Toggle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = !f.active
	return f.active
}

func (f *fakeController) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeController) Status() watchdog.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return watchdog.Status{
		RunID:           "run-cli",
		Target:          "main:0",
		Active:          f.active,
		Phase:           watchdog.PolicyIdle,
		State:           watchdog.StateGenerating,
		PreviousState:   watchdog.StateReady,
		BudgetRemaining: time.Hour,
		Cooldowns:       map[string]time.Duration{"spacing": 2 * time.Second},
		Actions:         map[string]int{"resume_link": 2},
	}
}

func newServer(t *testing.T, ctrl *fakeController) string {
	t.Helper()
	srv := serve.New(serve.Config{Controller: ctrl, Version: "test"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestVersionShort(t *testing.T) {
	clearEnv(t)
	out, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != Version {
		t.Errorf("version = %q, want %q", out, Version)
	}
}

func TestConfigPathHonorsFlag(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "custom.toml")
	out, err := execute(t, "config", "path", "--config", path)
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(out) != path {
		t.Errorf("path = %q, want %q", out, path)
	}
}

func TestConfigInitThenValidate(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	out, err := execute(t, "config", "init", "--config", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("init output = %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	if _, err := execute(t, "config", "init", "--config", path); err == nil {
		t.Error("second init should refuse to overwrite")
	}

	out, err = execute(t, "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("validate output = %q", out)
	}
}

func TestConfigValidateReportsErrors(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "provider = \"carrier-pigeon\"\n\n[watchdog]\nmax_consecutive_retries = 0\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "config", "validate", "--config", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "provider") || !strings.Contains(err.Error(), "watchdog") {
		t.Errorf("error = %v", err)
	}
}

func TestConfigShowAppliesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("KEEPALIVE_TARGET", "work:1")
	out, err := execute(t, "config", "show", "--config", filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, `target = "work:1"`) {
		t.Errorf("show output missing target:\n%s", out)
	}
}

func TestStatusText(t *testing.T) {
	clearEnv(t)
	addr := newServer(t, &fakeController{active: true})

	out, err := execute(t, "status", "--addr", addr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"active", "main:0", "generating", "spacing=2s", "resume_link=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusJSON(t *testing.T) {
	clearEnv(t)
	addr := newServer(t, &fakeController{})

	out, err := execute(t, "status", "--addr", addr, "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st watchdog.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if st.RunID != "run-cli" || st.State != watchdog.StateGenerating {
		t.Errorf("status = %+v", st)
	}
}

func TestControlCommands(t *testing.T) {
	clearEnv(t)
	ctrl := &fakeController{}
	addr := newServer(t, ctrl)

	tests := []struct {
		op   string
		want string
	}{
		{"start", "active"},
		{"toggle", "stopped"},
		{"toggle", "active"},
		{"stop", "stopped"},
		{"reset", "reset"},
	}
	for _, tt := range tests {
		out, err := execute(t, tt.op, "--addr", addr)
		if err != nil {
			t.Fatalf("%s: %v", tt.op, err)
		}
		if !strings.Contains(out, tt.want) {
			t.Errorf("%s output = %q, want %q", tt.op, out, tt.want)
		}
	}
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.resets != 1 {
		t.Errorf("resets = %d, want 1", ctrl.resets)
	}
}

func TestStatusUnreachable(t *testing.T) {
	clearEnv(t)
	_, err := execute(t, "status", "--addr", "127.0.0.1:1", "--timeout", "500ms")
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestHistoryFromLocalJournal(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")

	j, err := journal.Open(dbPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.BeginRun(journal.Run{ID: "r1", Provider: "tmux", Target: "main:0"}); err != nil {
		t.Fatal(err)
	}
	if _, err := j.Record(journal.Entry{RunID: "r1", Kind: "watchdog.action", Tier: "resume_link", Reason: "resume link visible", Success: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := j.Record(journal.Entry{RunID: "r1", Kind: "watchdog.action_failed", Tier: "error_retry_click", Error: "click failed"}); err != nil {
		t.Fatal(err)
	}
	j.Close()

	cfgPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[journal]\nenabled = true\npath = \""+dbPath+"\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "history", "--config", cfgPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, want := range []string{"resume_link", "click failed", "2 entries"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "history", "--config", cfgPath, "--runs", "--json")
	if err != nil {
		t.Fatalf("history --runs: %v", err)
	}
	var runs []journal.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestHistoryMissingJournal(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	data := "[journal]\nenabled = true\npath = \"" + filepath.Join(dir, "absent.db") + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "history", "--config", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "no journal") {
		t.Errorf("err = %v", err)
	}
}

func TestRunOptionsApply(t *testing.T) {
	cfg := config.Default()
	runOptions{
		provider:    "CDP",
		target:      "t",
		debuggerURL: "http://127.0.0.1:9222",
		listen:      "127.0.0.1:9000",
		noServer:    true,
		noJournal:   true,
	}.apply(cfg)

	if cfg.Provider != config.ProviderCDP {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Target != "t" || cfg.CDP.DebuggerURL != "http://127.0.0.1:9222" || cfg.Server.Listen != "127.0.0.1:9000" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Server.Enabled || cfg.Journal.Enabled {
		t.Error("no-server/no-journal not applied")
	}

	before := *config.Default()
	after := config.Default()
	runOptions{}.apply(after)
	if after.Provider != before.Provider || after.Server.Enabled != before.Server.Enabled {
		t.Error("empty options should change nothing")
	}
}

func TestLockName(t *testing.T) {
	cfg := config.Default()
	cfg.Target = "main:0"
	if got := lockName(cfg); got != "main:0" {
		t.Errorf("lockName = %q", got)
	}
	cfg.Provider = config.ProviderCDP
	cfg.Target = ""
	cfg.CDP.DebuggerURL = "http://localhost:9222"
	if got := lockName(cfg); got != "cdp-http://localhost:9222" {
		t.Errorf("lockName = %q", got)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("provider = \"nope\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "run", "--config", path, "--no-server", "--no-journal")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("err = %v", err)
	}
}
