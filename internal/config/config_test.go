package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("Validate(Default()) = %v", errs)
	}
	if cfg.Watchdog.ClickCooldown.Std() != 3*time.Second {
		t.Errorf("ClickCooldown = %v, want 3s", cfg.Watchdog.ClickCooldown.Std())
	}
	if cfg.Watchdog.MaxDuration.Std() != 24*time.Hour {
		t.Errorf("MaxDuration = %v, want 24h", cfg.Watchdog.MaxDuration.Std())
	}
	if cfg.Server.Listen != DefaultListen {
		t.Errorf("Listen = %q, want %q", cfg.Server.Listen, DefaultListen)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != ProviderTmux {
		t.Errorf("Provider = %q, want %q", cfg.Provider, ProviderTmux)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
provider = "cdp"
target = "cursor"

[watchdog]
click_cooldown = "5s"
max_consecutive_retries = 5

[commands]
continue_text = "keep going"

[cdp]
debugger_url = "9333"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != ProviderCDP {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.Watchdog.ClickCooldown.Std() != 5*time.Second {
		t.Errorf("ClickCooldown = %v, want 5s", cfg.Watchdog.ClickCooldown.Std())
	}
	if cfg.Watchdog.MaxConsecutiveRetries != 5 {
		t.Errorf("MaxConsecutiveRetries = %d, want 5", cfg.Watchdog.MaxConsecutiveRetries)
	}
	// untouched keys keep their defaults
	if cfg.Watchdog.RetryWindow.Std() != 10*time.Second {
		t.Errorf("RetryWindow = %v, want 10s", cfg.Watchdog.RetryWindow.Std())
	}
	if cfg.Commands.ContinueText != "keep going" {
		t.Errorf("ContinueText = %q", cfg.Commands.ContinueText)
	}
	if cfg.CDP.DebuggerURL != "9333" {
		t.Errorf("DebuggerURL = %q", cfg.CDP.DebuggerURL)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[watchdog]\nclick_cooldown = \"soon\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KEEPALIVE_PROVIDER", "CDP")
	t.Setenv("KEEPALIVE_TARGET", "work:0.1")
	t.Setenv("KEEPALIVE_DEBUGGER_URL", "http://localhost:9999")
	t.Setenv("KEEPALIVE_LISTEN", "127.0.0.1:9000")
	t.Setenv("KEEPALIVE_API_KEY", "secret")
	t.Setenv("KEEPALIVE_MAX_DURATION", "2h")
	t.Setenv("KEEPALIVE_JOURNAL", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != ProviderCDP {
		t.Errorf("Provider = %q, want cdp", cfg.Provider)
	}
	if cfg.Target != "work:0.1" {
		t.Errorf("Target = %q", cfg.Target)
	}
	if cfg.CDP.DebuggerURL != "http://localhost:9999" {
		t.Errorf("DebuggerURL = %q", cfg.CDP.DebuggerURL)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" || cfg.Server.APIKey != "secret" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Watchdog.MaxDuration.Std() != 2*time.Hour {
		t.Errorf("MaxDuration = %v, want 2h", cfg.Watchdog.MaxDuration.Std())
	}
	if cfg.Journal.Enabled {
		t.Error("journal should be disabled by env")
	}
}

func TestEnvOverrideBadDuration(t *testing.T) {
	t.Setenv("KEEPALIVE_MAX_DURATION", "forever")
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil || !strings.Contains(err.Error(), "KEEPALIVE_MAX_DURATION") {
		t.Fatalf("err = %v, want KEEPALIVE_MAX_DURATION error", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("KEEPALIVE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "keepalive", "config.toml") {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("KEEPALIVE_CONFIG", "/etc/keepalive.toml")
	if got := DefaultPath(); got != "/etc/keepalive.toml" {
		t.Errorf("DefaultPath() = %q, want env value", got)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Provider = "vnc"
	cfg.Watchdog.PollInterval = 0
	cfg.Tmux.ReadyPatterns = []string{"("}
	cfg.Notifications.Events = []string{"nope"}
	cfg.Server.Listen = ""
	cfg.Journal.Path = ""

	errs := Validate(cfg)
	want := []string{"provider", "poll_interval", "tmux.ready_patterns", "notifications.events", "server.listen", "journal.path"}
	joined := ""
	for _, e := range errs {
		joined += e.Error() + "\n"
	}
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("missing %q in:\n%s", w, joined)
		}
	}
}

func TestValidateCDPOnlyWhenSelected(t *testing.T) {
	cfg := Default()
	cfg.CDP.DebuggerURL = ""
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("tmux config should ignore cdp section, got %v", errs)
	}
	cfg.Provider = ProviderCDP
	if errs := Validate(cfg); len(errs) == 0 {
		t.Fatal("expected cdp validation error")
	}
}

func TestCreateDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	got, err := CreateDefault(path)
	if err != nil {
		t.Fatalf("CreateDefault: %v", err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load written default: %v", err)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("written default invalid: %v", errs)
	}
	if cfg.Watchdog.EnhancedCooldown.Std() != 60*time.Second {
		t.Errorf("EnhancedCooldown = %v", cfg.Watchdog.EnhancedCooldown.Std())
	}

	if _, err := CreateDefault(path); err == nil {
		t.Fatal("second CreateDefault should refuse to overwrite")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Errorf("ExpandHome(/abs) = %q", got)
	}
}

func TestWatchdogConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Watchdog.SettleDelay = Duration(2 * time.Second)
	cfg.Commands.EndMarker = "done"

	wd := cfg.WatchdogConfig()
	if wd.SettleDelay != 2*time.Second {
		t.Errorf("SettleDelay = %v", wd.SettleDelay)
	}
	if wd.EndMarker != "done" {
		t.Errorf("EndMarker = %q", wd.EndMarker)
	}
	if err := wd.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestTmuxProviderAddsLiteralSignals(t *testing.T) {
	cfg := Default()
	cfg.Signals.ErrorTexts = []string{"Overloaded (529)"}
	cfg.Signals.ResumeTexts = []string{""}

	tc := cfg.TmuxProvider("work:1")
	if tc.Target != "work:1" {
		t.Errorf("Target = %q", tc.Target)
	}
	last := tc.ErrorPatterns[len(tc.ErrorPatterns)-1]
	if last != `(?i)Overloaded \(529\)` {
		t.Errorf("last error pattern = %q", last)
	}
	if len(tc.ResumePatterns) != len(cfg.Tmux.ResumePatterns) {
		t.Errorf("blank literal should be skipped, got %v", tc.ResumePatterns)
	}
	if tc.InputDelay != 100*time.Millisecond {
		t.Errorf("InputDelay = %v", tc.InputDelay)
	}
}

func TestCDPProviderMapping(t *testing.T) {
	cfg := Default()
	cfg.Signals.RetryLabels = []string{"Retry"}
	cc := cfg.CDPProvider()
	if len(cc.RetryLabels) != 1 || cc.RetryLabels[0] != "Retry" {
		t.Errorf("RetryLabels = %v", cc.RetryLabels)
	}
	if cc.GeneratingClass != "codicon-debug-stop" {
		t.Errorf("GeneratingClass = %q", cc.GeneratingClass)
	}
	if err := cc.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" 1m30s ")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("d = %v", d.Std())
	}
	b, _ := d.MarshalText()
	if string(b) != "1m30s" {
		t.Errorf("MarshalText = %q", b)
	}
}
