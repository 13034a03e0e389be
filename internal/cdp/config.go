// Package cdp drives Cursor and other VS Code style Electron assistants over
// the Chrome DevTools Protocol. Start the editor with
// --remote-debugging-port=9222 and point DebuggerURL at it.
package cdp

import (
	"errors"
	"strings"
	"time"

	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

// Config describes how to find the page and read its UI.
type Config struct {
	// DebuggerURL is a DevTools endpoint: "9222", "http://127.0.0.1:9222" or
	// a ws:// URL.
	DebuggerURL string
	// PageMatch selects the page whose URL or title contains it.
	PageMatch string

	InputDelay time.Duration

	SendButtonSelectors []string
	GeneratingClass     string
	ReadyClass          string

	ResumeTexts     []string
	ResumeLinkTexts []string
	ResumeLinkQuery string

	ErrorTexts  []string
	RetryLabels []string
	RetryQuery  string

	InputSelectors      []string
	MarkerSelectors     []string
	MarkerLimit         int
	NoProgressSelectors []string
	NoProgressPatterns  []string

	// CancelFlag is a window property that stops the watchdog when set to
	// true from the page's devtools console.
	CancelFlag string
}

// DefaultConfig returns selectors for the Cursor composer.
func DefaultConfig() Config {
	return Config{
		DebuggerURL: "http://127.0.0.1:9222",
		PageMatch:   "workbench",
		InputDelay:  100 * time.Millisecond,
		SendButtonSelectors: []string{
			".composer-button-area > div:nth-child(2) > span",
			".composer-button-area span:has(> .codicon-debug-stop), .composer-button-area span:has(> .codicon-arrow-up-two)",
			".full-input-box .codicon-debug-stop, .full-input-box .codicon-arrow-up-two",
		},
		GeneratingClass: "codicon-debug-stop",
		ReadyClass:      "codicon-arrow-up-two",
		ResumeTexts:     []string{"stop the agent after 25 tool calls", "Note: we default stop"},
		ResumeLinkTexts: []string{"resume the conversation"},
		ResumeLinkQuery: `a, span.markdown-link, [role="link"], [data-link]`,
		ErrorTexts:      []string{"Connection failed", "hit a rate limit"},
		RetryLabels:     []string{"Try again", "Resume"},
		RetryQuery:      "span, button",
		InputSelectors: []string{
			"div.aislash-editor-input",
			`.full-input-box [contenteditable="true"]`,
			`[contenteditable="true"][role="textbox"]`,
		},
		MarkerSelectors: []string{
			`span[data-lexical-text="true"]`,
			".composer-rendered-message .markdown-root p",
		},
		MarkerLimit: 8,
		NoProgressSelectors: []string{
			".composer-tool-former-message",
			".composer-code-block-status",
			`[class*="tool-call"] [class*="status"]`,
		},
		NoProgressPatterns: append([]string(nil), watchdog.DefaultNoProgressPatterns...),
		CancelFlag:         "__keepaliveStop",
	}
}

// Validate reports settings the provider cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DebuggerURL) == "" {
		errs = append(errs, errors.New("cdp: debugger url is required"))
	}
	if len(c.SendButtonSelectors) == 0 {
		errs = append(errs, errors.New("cdp: at least one send button selector is required"))
	}
	if len(c.InputSelectors) == 0 {
		errs = append(errs, errors.New("cdp: at least one input selector is required"))
	}
	if strings.TrimSpace(c.GeneratingClass) == "" || strings.TrimSpace(c.ReadyClass) == "" {
		errs = append(errs, errors.New("cdp: generating and ready classes are required"))
	}
	if c.InputDelay < 0 {
		errs = append(errs, errors.New("cdp: input delay must not be negative"))
	}
	return errors.Join(errs...)
}
