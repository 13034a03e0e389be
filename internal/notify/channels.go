package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"text/template"
	"time"
)

// execTimeout bounds every desktop and shell command.
var execTimeout = 30 * time.Second

func command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	// children that keep the pipes open must not outlive the timeout
	cmd.WaitDelay = time.Second
	return cmd
}

func runCommand(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out after %s: %w", filepath.Base(cmd.Path), execTimeout, err)
		}
		return err
	}
	return nil
}

func (n *Notifier) sendDesktop(event Event) error {
	title := n.config.Desktop.Title
	if title == "" {
		title = "keepalive"
	}
	if event.Target != "" {
		title = fmt.Sprintf("%s [%s]", title, event.Target)
	}
	message := event.Message
	if message == "" {
		message = string(event.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()

	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		return runCommand(ctx, command(ctx, "osascript", "-e", script))
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return fmt.Errorf("notify-send not found")
		}
		return runCommand(ctx, command(ctx, "notify-send", title, message))
	default:
		return fmt.Errorf("desktop notifications not supported on %s", runtime.GOOS)
	}
}

// jsonEscape escapes s for embedding inside a JSON string literal produced by
// text/template.
func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b[1 : len(b)-1])
}

const defaultWebhookTemplate = `{"event":"{{.Type}}","message":"{{jsonEscape .Message}}","target":"{{jsonEscape .Target}}","tier":"{{.Tier}}","timestamp":"{{.Timestamp}}"}`

func (n *Notifier) sendWebhook(event Event) error {
	tmplStr := n.config.Webhook.Template
	if tmplStr == "" {
		tmplStr = defaultWebhookTemplate
	}
	tmpl, err := template.New("webhook").Funcs(template.FuncMap{"jsonEscape": jsonEscape}).Parse(tmplStr)
	if err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	var body bytes.Buffer
	if err := tmpl.Execute(&body, event); err != nil {
		return fmt.Errorf("template execution failed: %w", err)
	}

	method := n.config.Webhook.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequest(method, n.config.Webhook.URL, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.config.Webhook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func (n *Notifier) sendShell(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()
	cmd := command(ctx, "sh", "-c", expandPath(n.config.Shell.Command))
	if n.config.Shell.PassJSON {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		cmd.Stdin = bytes.NewReader(payload)
	}
	cmd.Env = append(os.Environ(),
		"KEEPALIVE_EVENT_TYPE="+string(event.Type),
		"KEEPALIVE_EVENT_MESSAGE="+event.Message,
		"KEEPALIVE_EVENT_TARGET="+event.Target,
		"KEEPALIVE_EVENT_TIER="+event.Tier,
		"KEEPALIVE_RUN_ID="+event.RunID,
	)
	return runCommand(ctx, cmd)
}

func (n *Notifier) sendLog(event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	path := n.config.Log.Path
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	prefix := fmt.Sprintf("[%s]", event.Timestamp.Format(time.RFC3339))
	if event.Target != "" {
		prefix += fmt.Sprintf(" [%s]", event.Target)
	}
	if _, err := fmt.Fprintf(f, "%s %s: %s\n", prefix, event.Type, event.Message); err != nil {
		return fmt.Errorf("failed to write to log: %w", err)
	}
	return nil
}

// sendFileBox writes a markdown file for offline review.
func (n *Notifier) sendFileBox(event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	dir := n.config.FileBox.Path
	if dir == "" {
		dir = expandPath("~/.config/keepalive/inbox")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.md",
		event.Timestamp.Format("2006-01-02_15-04-05"),
		strings.ReplaceAll(string(event.Type), ".", "_"),
	)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", event.Type)
	fmt.Fprintf(&b, "**Time:** %s\n\n", event.Timestamp.Format(time.RFC3339))
	if event.Target != "" {
		fmt.Fprintf(&b, "**Target:** %s\n\n", event.Target)
	}
	if event.Tier != "" {
		fmt.Fprintf(&b, "**Tier:** %s\n\n", event.Tier)
	}
	if event.RunID != "" {
		fmt.Fprintf(&b, "**Run:** %s\n\n", event.RunID)
	}
	b.WriteString("## Message\n\n")
	b.WriteString(event.Message)
	b.WriteString("\n")

	if len(event.Details) > 0 {
		keys := make([]string, 0, len(event.Details))
		for k := range event.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n## Details\n\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s:** %s\n", k, event.Details[k])
		}
	}

	if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write inbox file: %w", err)
	}
	return nil
}
