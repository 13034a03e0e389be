package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// driver is the slice of a browser page the provider needs.
type driver interface {
	// Eval calls a function expression with args and returns its JSON value.
	Eval(ctx context.Context, js string, args ...any) ([]byte, error)
	Click(ctx context.Context, selector string) error
	Input(ctx context.Context, selector, text string) error
	PressEnter(ctx context.Context) error
	Close() error
}

type rodDriver struct {
	browser *rod.Browser
	page    *rod.Page
	cancel  context.CancelFunc
}

// dialRod connects to the DevTools endpoint and picks the matching page. The
// connection lives until ctx is done or Close is called. Close never closes
// the browser itself, which belongs to the user.
func dialRod(ctx context.Context, cfg Config) (*rodDriver, error) {
	controlURL, err := launcher.ResolveURL(cfg.DebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("resolve debugger url %q: %w", cfg.DebuggerURL, err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	browser := rod.New().ControlURL(controlURL).Context(connCtx)
	if err := browser.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("connect to %s: %w", controlURL, err)
	}

	pages, err := browser.Pages()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, page := range pages {
		info, err := page.Info()
		if err != nil {
			continue
		}
		if matchPage(info.URL, info.Title, cfg.PageMatch) {
			return &rodDriver{browser: browser, page: page, cancel: cancel}, nil
		}
	}
	cancel()
	return nil, fmt.Errorf("no page matching %q among %d pages", cfg.PageMatch, len(pages))
}

func matchPage(url, title, match string) bool {
	match = strings.ToLower(strings.TrimSpace(match))
	if match == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), match) || strings.Contains(strings.ToLower(title), match)
}

func (d *rodDriver) Eval(ctx context.Context, js string, args ...any) ([]byte, error) {
	res, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}
	return res.Value.MarshalJSON()
}

func (d *rodDriver) Click(ctx context.Context, selector string) error {
	el, err := d.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (d *rodDriver) Input(ctx context.Context, selector, text string) error {
	el, err := d.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	return el.Input(text)
}

func (d *rodDriver) PressEnter(ctx context.Context) error {
	return d.page.Context(ctx).Keyboard.Type(input.Enter)
}

func (d *rodDriver) Close() error {
	d.cancel()
	return nil
}
