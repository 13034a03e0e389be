// Package config loads keepalive's TOML configuration, project profiles and
// environment overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Dicklesworthstone/keepalive/internal/cdp"
	"github.com/Dicklesworthstone/keepalive/internal/notify"
	"github.com/Dicklesworthstone/keepalive/internal/tmux"
	"github.com/Dicklesworthstone/keepalive/internal/util"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

// Provider names.
const (
	ProviderTmux = "tmux"
	ProviderCDP  = "cdp"
)

// Duration reads and writes durations as strings such as "3s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete keepalive configuration.
type Config struct {
	Provider string `toml:"provider"` // "tmux" or "cdp"
	Target   string `toml:"target"`   // tmux target; informational for cdp
	StateDir string `toml:"state_dir"`

	Watchdog      WatchdogConfig `toml:"watchdog"`
	Commands      CommandsConfig `toml:"commands"`
	Signals       SignalsConfig  `toml:"signals"`
	Tmux          TmuxConfig     `toml:"tmux"`
	CDP           CDPConfig      `toml:"cdp"`
	Notifications notify.Config  `toml:"notifications"`
	Server        ServerConfig   `toml:"server"`
	Journal       JournalConfig  `toml:"journal"`
}

// WatchdogConfig holds the timings and ceilings of the escalation policy.
type WatchdogConfig struct {
	ClickCooldown         Duration `toml:"click_cooldown"`
	RetryWindow           Duration `toml:"retry_window"`
	SimulateCooldown      Duration `toml:"simulate_cooldown"`
	MaxConsecutiveRetries int      `toml:"max_consecutive_retries"`
	MaxSimulateAttempts   int      `toml:"max_simulate_attempts"`
	MaxDuration           Duration `toml:"max_duration"`
	SettleDelay           Duration `toml:"settle_delay"`
	EnhancedCooldown      Duration `toml:"enhanced_cooldown"`
	ContinuationCooldown  Duration `toml:"continuation_cooldown"`
	PollInterval          Duration `toml:"poll_interval"`
	TransitionInterval    Duration `toml:"transition_interval"`
	ProbeTimeout          Duration `toml:"probe_timeout"`
	InputDelay            Duration `toml:"input_delay"`
}

// CommandsConfig holds the texts the watchdog types and watches for.
type CommandsConfig struct {
	ContinueText     string `toml:"continue_text" yaml:"continue_text"`
	EnhancedText     string `toml:"enhanced_text" yaml:"enhanced_text"`
	EndMarker        string `toml:"end_marker" yaml:"end_marker"`
	StopMarker       string `toml:"stop_marker" yaml:"stop_marker"`
	EnhancedLookback int    `toml:"enhanced_lookback" yaml:"enhanced_lookback"`
}

// SignalsConfig is the literal signal vocabulary shared by both providers.
type SignalsConfig struct {
	ResumeTexts        []string `toml:"resume_texts" yaml:"resume_texts"`
	ResumeLinkTexts    []string `toml:"resume_link_texts" yaml:"resume_link_texts"`
	ErrorTexts         []string `toml:"error_texts" yaml:"error_texts"`
	RetryLabels        []string `toml:"retry_labels" yaml:"retry_labels"`
	NoProgressPatterns []string `toml:"no_progress_patterns" yaml:"no_progress_patterns"`
}

// TmuxConfig configures the terminal provider. Patterns are regular
// expressions; the literal signal texts are added to them.
type TmuxConfig struct {
	Remote             string   `toml:"remote"`
	CaptureLines       int      `toml:"capture_lines"`
	StateLines         int      `toml:"state_lines"`
	SignalLines        int      `toml:"signal_lines"`
	TrailingMarkers    int      `toml:"trailing_markers"`
	SubmitKeys         []string `toml:"submit_keys"`
	ResumeKeys         []string `toml:"resume_keys"`
	RetryKeys          []string `toml:"retry_keys"`
	GeneratingPatterns []string `toml:"generating_patterns"`
	ReadyPatterns      []string `toml:"ready_patterns"`
	ResumePatterns     []string `toml:"resume_patterns"`
	ErrorPatterns      []string `toml:"error_patterns"`
	ChromePatterns     []string `toml:"chrome_patterns"`
}

// CDPConfig configures the browser provider.
type CDPConfig struct {
	DebuggerURL         string   `toml:"debugger_url"`
	PageMatch           string   `toml:"page_match"`
	SendButtonSelectors []string `toml:"send_button_selectors"`
	GeneratingClass     string   `toml:"generating_class"`
	ReadyClass          string   `toml:"ready_class"`
	ResumeLinkQuery     string   `toml:"resume_link_query"`
	RetryQuery          string   `toml:"retry_query"`
	InputSelectors      []string `toml:"input_selectors"`
	MarkerSelectors     []string `toml:"marker_selectors"`
	MarkerLimit         int      `toml:"marker_limit"`
	NoProgressSelectors []string `toml:"no_progress_selectors"`
	CancelFlag          string   `toml:"cancel_flag"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	APIKey  string `toml:"api_key"`
}

// JournalConfig configures the action journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// DefaultListen is where the control server listens and where the client
// commands connect by default.
const DefaultListen = "127.0.0.1:7823"

// Default returns the stock configuration.
func Default() *Config {
	wd := watchdog.DefaultConfig()
	tm := tmux.DefaultConfig()
	cd := cdp.DefaultConfig()

	return &Config{
		Provider: ProviderTmux,
		StateDir: "~/.local/state/keepalive",
		Watchdog: WatchdogConfig{
			ClickCooldown:         Duration(wd.ClickCooldown),
			RetryWindow:           Duration(wd.RetryWindow),
			SimulateCooldown:      Duration(wd.SimulateCooldown),
			MaxConsecutiveRetries: wd.MaxConsecutiveRetries,
			MaxSimulateAttempts:   wd.MaxSimulateAttempts,
			MaxDuration:           Duration(wd.MaxDuration),
			SettleDelay:           Duration(wd.SettleDelay),
			EnhancedCooldown:      Duration(wd.EnhancedCooldown),
			ContinuationCooldown:  Duration(wd.ContinuationCooldown),
			PollInterval:          Duration(wd.PollInterval),
			TransitionInterval:    Duration(wd.TransitionInterval),
			ProbeTimeout:          Duration(wd.ProbeTimeout),
			InputDelay:            Duration(100 * time.Millisecond),
		},
		Commands: CommandsConfig{
			ContinueText:     wd.ContinueText,
			EnhancedText:     wd.EnhancedText,
			EndMarker:        wd.EndMarker,
			StopMarker:       wd.StopMarker,
			EnhancedLookback: wd.EnhancedLookback,
		},
		Signals: SignalsConfig{
			ResumeTexts:        cd.ResumeTexts,
			ResumeLinkTexts:    cd.ResumeLinkTexts,
			ErrorTexts:         cd.ErrorTexts,
			RetryLabels:        cd.RetryLabels,
			NoProgressPatterns: append([]string(nil), watchdog.DefaultNoProgressPatterns...),
		},
		Tmux: TmuxConfig{
			CaptureLines:       tm.CaptureLines,
			StateLines:         tm.StateLines,
			SignalLines:        tm.SignalLines,
			TrailingMarkers:    tm.TrailingMarkers,
			SubmitKeys:         tm.SubmitKeys,
			ResumeKeys:         tm.ResumeKeys,
			RetryKeys:          tm.RetryKeys,
			GeneratingPatterns: tm.GeneratingPatterns,
			ReadyPatterns:      tm.ReadyPatterns,
			ResumePatterns:     tm.ResumePatterns,
			ErrorPatterns:      tm.ErrorPatterns,
			ChromePatterns:     tm.ChromePatterns,
		},
		CDP: CDPConfig{
			DebuggerURL:         cd.DebuggerURL,
			PageMatch:           cd.PageMatch,
			SendButtonSelectors: cd.SendButtonSelectors,
			GeneratingClass:     cd.GeneratingClass,
			ReadyClass:          cd.ReadyClass,
			ResumeLinkQuery:     cd.ResumeLinkQuery,
			RetryQuery:          cd.RetryQuery,
			InputSelectors:      cd.InputSelectors,
			MarkerSelectors:     cd.MarkerSelectors,
			MarkerLimit:         cd.MarkerLimit,
			NoProgressSelectors: cd.NoProgressSelectors,
			CancelFlag:          cd.CancelFlag,
		},
		Notifications: notify.DefaultConfig(),
		Server: ServerConfig{
			Enabled: true,
			Listen:  DefaultListen,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "~/.local/share/keepalive/journal.db",
		},
	}
}

// DefaultPath returns the default config file path
func DefaultPath() string {
	if env := os.Getenv("KEEPALIVE_CONFIG"); env != "" {
		return ExpandHome(env)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "keepalive", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		// containers without a home directory
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "keepalive", "config.toml")
}

// Load reads the config at path over the defaults and applies environment
// overrides (Env > TOML > Default). A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("KEEPALIVE_PROVIDER"); v != "" {
		cfg.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("KEEPALIVE_TARGET"); v != "" {
		cfg.Target = v
	}
	if v := os.Getenv("KEEPALIVE_DEBUGGER_URL"); v != "" {
		cfg.CDP.DebuggerURL = v
	}
	if v := os.Getenv("KEEPALIVE_TMUX_REMOTE"); v != "" {
		cfg.Tmux.Remote = v
	}
	if v := os.Getenv("KEEPALIVE_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("KEEPALIVE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("KEEPALIVE_MAX_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("KEEPALIVE_MAX_DURATION: %w", err)
		}
		cfg.Watchdog.MaxDuration = Duration(d)
	}
	if v := os.Getenv("KEEPALIVE_JOURNAL"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KEEPALIVE_JOURNAL: %w", err)
		}
		cfg.Journal.Enabled = enabled
	}
	return nil
}

// CreateDefault writes the default configuration to path, or DefaultPath
// when empty. It refuses to overwrite an existing file.
func CreateDefault(path string) (string, error) {
	if path == "" {
		path = DefaultPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	}

	var buffer strings.Builder
	if err := Print(Default(), &buffer); err != nil {
		return "", err
	}

	if err := util.AtomicWriteFile(path, []byte(buffer.String()), 0644); err != nil {
		return "", err
	}

	return path, nil
}

// Print writes cfg as TOML with a short header.
func Print(cfg *Config, w io.Writer) error {
	fmt.Fprintln(w, "# keepalive configuration")
	fmt.Fprintln(w, "# Durations are Go duration strings (\"3s\", \"24h\").")
	fmt.Fprintln(w, "# Environment overrides: KEEPALIVE_PROVIDER, KEEPALIVE_TARGET, KEEPALIVE_DEBUGGER_URL,")
	fmt.Fprintln(w, "# KEEPALIVE_TMUX_REMOTE, KEEPALIVE_LISTEN, KEEPALIVE_API_KEY, KEEPALIVE_MAX_DURATION, KEEPALIVE_JOURNAL")
	fmt.Fprintln(w)
	return toml.NewEncoder(w).Encode(cfg)
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}

	return path
}

// WatchdogConfig converts the timing and command sections for the policy.
func (c *Config) WatchdogConfig() watchdog.Config {
	w := c.Watchdog
	return watchdog.Config{
		ClickCooldown:         w.ClickCooldown.Std(),
		RetryWindow:           w.RetryWindow.Std(),
		SimulateCooldown:      w.SimulateCooldown.Std(),
		MaxConsecutiveRetries: w.MaxConsecutiveRetries,
		MaxSimulateAttempts:   w.MaxSimulateAttempts,
		MaxDuration:           w.MaxDuration.Std(),
		SettleDelay:           w.SettleDelay.Std(),
		EnhancedCooldown:      w.EnhancedCooldown.Std(),
		ContinuationCooldown:  w.ContinuationCooldown.Std(),
		PollInterval:          w.PollInterval.Std(),
		TransitionInterval:    w.TransitionInterval.Std(),
		ProbeTimeout:          w.ProbeTimeout.Std(),
		ContinueText:          c.Commands.ContinueText,
		EnhancedText:          c.Commands.EnhancedText,
		EndMarker:             c.Commands.EndMarker,
		StopMarker:            c.Commands.StopMarker,
		EnhancedLookback:      c.Commands.EnhancedLookback,
	}
}

// TmuxProvider builds the tmux provider settings for target.
func (c *Config) TmuxProvider(target string) tmux.Config {
	t := c.Tmux
	return tmux.Config{
		Target:             target,
		Remote:             t.Remote,
		CaptureLines:       t.CaptureLines,
		StateLines:         t.StateLines,
		SignalLines:        t.SignalLines,
		TrailingMarkers:    t.TrailingMarkers,
		InputDelay:         c.Watchdog.InputDelay.Std(),
		SubmitKeys:         t.SubmitKeys,
		GeneratingPatterns: t.GeneratingPatterns,
		ReadyPatterns:      t.ReadyPatterns,
		ResumePatterns:     append(append([]string(nil), t.ResumePatterns...), literalPatterns(c.Signals.ResumeTexts)...),
		ErrorPatterns:      append(append([]string(nil), t.ErrorPatterns...), literalPatterns(c.Signals.ErrorTexts)...),
		NoProgressPatterns: literalPatterns(c.Signals.NoProgressPatterns),
		ChromePatterns:     t.ChromePatterns,
		ResumeKeys:         t.ResumeKeys,
		RetryKeys:          t.RetryKeys,
		StopMarker:         c.Commands.StopMarker,
	}
}

// literalPatterns turns literal texts into case-insensitive patterns.
func literalPatterns(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		out = append(out, `(?i)`+regexp.QuoteMeta(t))
	}
	return out
}

// CDPProvider builds the browser provider settings.
func (c *Config) CDPProvider() cdp.Config {
	d := c.CDP
	return cdp.Config{
		DebuggerURL:         d.DebuggerURL,
		PageMatch:           d.PageMatch,
		InputDelay:          c.Watchdog.InputDelay.Std(),
		SendButtonSelectors: d.SendButtonSelectors,
		GeneratingClass:     d.GeneratingClass,
		ReadyClass:          d.ReadyClass,
		ResumeTexts:         c.Signals.ResumeTexts,
		ResumeLinkTexts:     c.Signals.ResumeLinkTexts,
		ResumeLinkQuery:     d.ResumeLinkQuery,
		ErrorTexts:          c.Signals.ErrorTexts,
		RetryLabels:         c.Signals.RetryLabels,
		RetryQuery:          d.RetryQuery,
		InputSelectors:      d.InputSelectors,
		MarkerSelectors:     d.MarkerSelectors,
		MarkerLimit:         d.MarkerLimit,
		NoProgressSelectors: d.NoProgressSelectors,
		NoProgressPatterns:  c.Signals.NoProgressPatterns,
		CancelFlag:          d.CancelFlag,
	}
}

// Validate reports every problem in cfg.
func Validate(cfg *Config) []error {
	if cfg == nil {
		return []error{fmt.Errorf("config is nil")}
	}

	var errs []error

	switch cfg.Provider {
	case ProviderTmux, ProviderCDP:
	default:
		errs = append(errs, fmt.Errorf("provider: must be %q or %q, got %q", ProviderTmux, ProviderCDP, cfg.Provider))
	}

	if err := cfg.WatchdogConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("watchdog: %w", err))
	}
	if cfg.Watchdog.InputDelay < 0 {
		errs = append(errs, fmt.Errorf("watchdog.input_delay: must not be negative"))
	}

	patterns := map[string][]string{
		"tmux.generating_patterns": cfg.Tmux.GeneratingPatterns,
		"tmux.ready_patterns":      cfg.Tmux.ReadyPatterns,
		"tmux.resume_patterns":     cfg.Tmux.ResumePatterns,
		"tmux.error_patterns":      cfg.Tmux.ErrorPatterns,
		"tmux.chrome_patterns":     cfg.Tmux.ChromePatterns,
	}
	for _, key := range sortedKeys(patterns) {
		for _, p := range patterns[key] {
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid pattern %q: %w", key, p, err))
			}
		}
	}
	if cfg.Tmux.CaptureLines <= 0 {
		errs = append(errs, fmt.Errorf("tmux.capture_lines: must be positive"))
	}

	if cfg.Provider == ProviderCDP {
		if err := cfg.CDPProvider().Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	known := make(map[string]bool, len(notify.AllEventTypes))
	for _, t := range notify.AllEventTypes {
		known[string(t)] = true
	}
	for _, ev := range cfg.Notifications.Events {
		if !known[ev] {
			errs = append(errs, fmt.Errorf("notifications.events: unknown event %q", ev))
		}
	}
	if cfg.Notifications.Webhook.Enabled && strings.TrimSpace(cfg.Notifications.Webhook.URL) == "" {
		errs = append(errs, fmt.Errorf("notifications.webhook.url: required when the webhook is enabled"))
	}

	if cfg.Server.Enabled && strings.TrimSpace(cfg.Server.Listen) == "" {
		errs = append(errs, fmt.Errorf("server.listen: required when the server is enabled"))
	}
	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		errs = append(errs, fmt.Errorf("journal.path: required when the journal is enabled"))
	}

	return errs
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
