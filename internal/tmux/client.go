// Package tmux drives a terminal assistant running in a tmux pane, locally
// or on a remote host over ssh.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Executor runs a command and returns its trimmed stdout.
type Executor func(ctx context.Context, name string, args ...string) (string, error)

// Client handles tmux operations, optionally on a remote host
type Client struct {
	Remote string // "user@host" or empty for local

	// Exec replaces process execution, used by tests.
	Exec Executor
}

// NewClient creates a new tmux client
func NewClient(remote string) *Client {
	return &Client{Remote: remote}
}

// DefaultClient is the default local client
var DefaultClient = NewClient("")

// Run executes a tmux command
func (c *Client) Run(args ...string) (string, error) {
	return c.RunContext(context.Background(), args...)
}

// RunContext executes a tmux command with cancellation support.
func (c *Client) RunContext(ctx context.Context, args ...string) (string, error) {
	if c.Remote == "" {
		return c.exec(ctx, "tmux", args...)
	}

	// ssh joins its arguments into one remote shell line, so every tmux
	// argument is quoted.
	sshArgs := []string{c.Remote, "tmux"}
	for _, a := range args {
		sshArgs = append(sshArgs, shellQuote(a))
	}
	return c.exec(ctx, "ssh", sshArgs...)
}

// RunSilentContext executes a tmux command ignoring output
func (c *Client) RunSilentContext(ctx context.Context, args ...string) error {
	_, err := c.RunContext(ctx, args...)
	return err
}

func (c *Client) exec(ctx context.Context, name string, args ...string) (string, error) {
	if c.Exec != nil {
		return c.Exec(ctx, name, args...)
	}
	return runCommand(ctx, name, args...)
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsInstalled checks if tmux is available on the target host
func (c *Client) IsInstalled(ctx context.Context) bool {
	if c.Remote == "" && c.Exec == nil {
		_, err := exec.LookPath("tmux")
		return err == nil
	}
	return c.RunSilentContext(ctx, "-V") == nil
}

// HasTarget reports whether target resolves to an existing pane.
func (c *Client) HasTarget(ctx context.Context, target string) bool {
	return c.RunSilentContext(ctx, "display-message", "-t", target, "-p", "#{pane_id}") == nil
}

// CapturePaneOutput captures the last lines of a pane, joined wrapped lines
// included.
func (c *Client) CapturePaneOutput(ctx context.Context, target string, lines int) (string, error) {
	return c.RunContext(ctx, "capture-pane", "-t", target, "-p", "-J", "-S", fmt.Sprintf("-%d", lines))
}

// SendKeys sends tmux key names (Enter, C-m, Up...) to a pane.
func (c *Client) SendKeys(ctx context.Context, target string, keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("send-keys to %s: no keys", target)
	}
	args := append([]string{"send-keys", "-t", target}, keys...)
	return c.RunSilentContext(ctx, args...)
}

// SendLiteral types text into a pane without interpreting key names.
func (c *Client) SendLiteral(ctx context.Context, target, text string) error {
	return c.RunSilentContext(ctx, "send-keys", "-t", target, "-l", "--", text)
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>(){}*?!#~[]") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
