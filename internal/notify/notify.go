// Package notify delivers operator-facing notices for the watchdog.
// Supports desktop notifications, webhooks, shell commands, log files and a
// file inbox.
package notify

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of notification event
type EventType string

const (
	EventOperatorAlert   EventType = "operator.alert"   // Automatic remediation gave up
	EventBudgetExhausted EventType = "budget.exhausted" // Session time budget ran out
	EventSessionEnded    EventType = "session.ended"    // End-of-session marker seen
	EventSessionStopped  EventType = "session.stopped"  // Stop gesture seen in the UI
	EventActionFailed    EventType = "action.failed"    // Click or injection did not go through
)

// AllEventTypes lists every event the watchdog can raise.
var AllEventTypes = []EventType{
	EventOperatorAlert,
	EventBudgetExhausted,
	EventSessionEnded,
	EventSessionStopped,
	EventActionFailed,
}

// Event represents a notification event
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Target    string            `json:"target,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
	Tier      string            `json:"tier,omitempty"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// Config holds notification configuration
type Config struct {
	Enabled bool     `toml:"enabled"`
	Events  []string `toml:"events"` // Which events to notify on

	// Routing configuration (optional)
	Primary  string              `toml:"primary"`  // Primary channel name
	Fallback string              `toml:"fallback"` // Fallback channel if primary fails
	Routing  map[string][]string `toml:"routing"`  // Event type -> ordered channel list

	Desktop DesktopConfig `toml:"desktop"`
	Webhook WebhookConfig `toml:"webhook"`
	Shell   ShellConfig   `toml:"shell"`
	Log     LogConfig     `toml:"log"`
	FileBox FileBoxConfig `toml:"filebox"` // File inbox for offline review
}

// DesktopConfig configures desktop notifications
type DesktopConfig struct {
	Enabled bool   `toml:"enabled"`
	Title   string `toml:"title"`
}

// WebhookConfig configures webhook notifications
type WebhookConfig struct {
	Enabled  bool              `toml:"enabled"`
	URL      string            `toml:"url"`
	Template string            `toml:"template"` // Go template for payload
	Method   string            `toml:"method"`   // HTTP method (default POST)
	Headers  map[string]string `toml:"headers"`
}

// ShellConfig configures shell command notifications
type ShellConfig struct {
	Enabled  bool   `toml:"enabled"`
	Command  string `toml:"command"`
	PassJSON bool   `toml:"pass_json"` // Pass event as JSON stdin
}

// LogConfig configures log file notifications
type LogConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// FileBoxConfig configures the file inbox
type FileBoxConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // Directory for inbox files
}

// DefaultConfig returns a default notification configuration
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Events: []string{
			string(EventOperatorAlert),
			string(EventBudgetExhausted),
			string(EventSessionEnded),
		},
		Primary:  "desktop",
		Fallback: "filebox",
		Desktop: DesktopConfig{
			Enabled: true,
			Title:   "keepalive",
		},
		Webhook: WebhookConfig{
			Method:   "POST",
			Template: `{"text": "keepalive: {{.Type}} - {{jsonEscape .Message}}"}`,
		},
		Shell: ShellConfig{
			PassJSON: true,
		},
		Log: LogConfig{
			Path: "~/.config/keepalive/notifications.log",
		},
		FileBox: FileBoxConfig{
			Enabled: true,
			Path:    "~/.config/keepalive/inbox",
		},
	}
}

// ChannelName identifies a notification channel
type ChannelName string

const (
	ChannelDesktop ChannelName = "desktop"
	ChannelWebhook ChannelName = "webhook"
	ChannelShell   ChannelName = "shell"
	ChannelLog     ChannelName = "log"
	ChannelFileBox ChannelName = "filebox"
)

// Notifier sends notifications through configured channels
type Notifier struct {
	config     Config
	enabledSet map[EventType]bool
	channels   map[ChannelName]bool
	mu         sync.Mutex
	httpClient *http.Client
}

// New creates a new Notifier with the given configuration. Environment
// variables in paths, URLs, commands and headers are expanded.
func New(cfg Config) *Notifier {
	cfg.Webhook.URL = os.ExpandEnv(cfg.Webhook.URL)
	cfg.Shell.Command = os.ExpandEnv(cfg.Shell.Command)
	cfg.Log.Path = expandPath(os.ExpandEnv(cfg.Log.Path))
	cfg.FileBox.Path = expandPath(os.ExpandEnv(cfg.FileBox.Path))
	headers := make(map[string]string, len(cfg.Webhook.Headers))
	for k, v := range cfg.Webhook.Headers {
		headers[k] = os.ExpandEnv(v)
	}
	cfg.Webhook.Headers = headers

	n := &Notifier{
		config:     cfg,
		enabledSet: make(map[EventType]bool),
		channels:   make(map[ChannelName]bool),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, e := range cfg.Events {
		n.enabledSet[EventType(e)] = true
	}

	if cfg.Desktop.Enabled {
		n.channels[ChannelDesktop] = true
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		n.channels[ChannelWebhook] = true
	}
	if cfg.Shell.Enabled && cfg.Shell.Command != "" {
		n.channels[ChannelShell] = true
	}
	if cfg.Log.Enabled && cfg.Log.Path != "" {
		n.channels[ChannelLog] = true
	}
	if cfg.FileBox.Enabled {
		n.channels[ChannelFileBox] = true
	}
	return n
}

// Channels returns the enabled channel names, sorted.
func (n *Notifier) Channels() []ChannelName {
	out := make([]ChannelName, 0, len(n.channels))
	for ch := range n.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (n *Notifier) channelsFor(eventType EventType) []ChannelName {
	if chans, ok := n.config.Routing[string(eventType)]; ok && len(chans) > 0 {
		out := make([]ChannelName, 0, len(chans))
		for _, ch := range chans {
			out = append(out, ChannelName(ch))
		}
		return out
	}
	if n.config.Primary != "" {
		out := []ChannelName{ChannelName(n.config.Primary)}
		if n.config.Fallback != "" {
			out = append(out, ChannelName(n.config.Fallback))
		}
		return out
	}
	return n.Channels()
}

// Notify sends event through its channels. With routing or a primary channel
// configured the channels are tried in order until one succeeds; otherwise
// every enabled channel receives the event.
func (n *Notifier) Notify(event Event) error {
	if !n.config.Enabled || !n.enabledSet[event.Type] {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	chans := n.channelsFor(event.Type)
	if len(chans) == 0 {
		return nil
	}

	if n.config.Routing != nil || n.config.Primary != "" {
		var lastErr error
		for _, ch := range chans {
			if err := n.send(ch, event); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
		return fmt.Errorf("all channels failed, last error: %w", lastErr)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []string
	)
	for _, ch := range chans {
		wg.Add(1)
		go func(ch ChannelName) {
			defer wg.Done()
			if err := n.send(ch, event); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", ch, err))
				mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (n *Notifier) send(ch ChannelName, event Event) error {
	if !n.channels[ch] {
		return fmt.Errorf("channel %s not enabled", ch)
	}
	switch ch {
	case ChannelDesktop:
		return n.sendDesktop(event)
	case ChannelWebhook:
		return n.sendWebhook(event)
	case ChannelShell:
		return n.sendShell(event)
	case ChannelLog:
		return n.sendLog(event)
	case ChannelFileBox:
		return n.sendFileBox(event)
	default:
		return fmt.Errorf("unknown channel: %s", ch)
	}
}

// Close releases resources. Files are opened per write, so there is nothing
// to release yet.
func (n *Notifier) Close() error {
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
