package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/keepalive/internal/probe"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

// refAttr tags controls found by FindActionableSignal so Click can address
// them later in the same tick.
const refAttr = "data-keepalive-ref"

// Provider implements watchdog.UIProvider and watchdog.CancelProbe over CDP.
type Provider struct {
	cfg  Config
	dial func(ctx context.Context) (driver, error)

	// Logger for structured logging.
	Logger *slog.Logger

	newID func() string

	mu  sync.Mutex
	drv driver
}

// New returns a provider that connects lazily. The connection is bound to
// ctx, not to the short per-probe contexts.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := newProvider(cfg, func(context.Context) (driver, error) {
		return dialRod(ctx, cfg)
	})
	return p, nil
}

func newProvider(cfg Config, dial func(ctx context.Context) (driver, error)) *Provider {
	return &Provider{cfg: cfg, dial: dial, newID: uuid.NewString}
}

// WithLogger sets a custom logger and returns the Provider for chaining.
func (p *Provider) WithLogger(logger *slog.Logger) *Provider {
	p.Logger = logger
	return p
}

func (p *Provider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Connect dials eagerly so a bad endpoint fails at startup.
func (p *Provider) Connect(ctx context.Context) error {
	_, err := p.driver(ctx)
	return err
}

// Close drops the connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drv == nil {
		return nil
	}
	err := p.drv.Close()
	p.drv = nil
	return err
}

func (p *Provider) driver(ctx context.Context) (driver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drv != nil {
		return p.drv, nil
	}
	d, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.drv = d
	p.logger().Info("[CDPProvider] connected", "debugger_url", p.cfg.DebuggerURL, "page_match", p.cfg.PageMatch)
	return d, nil
}

// drop forgets a connection that failed for a reason other than the
// caller's deadline. The next call redials.
func (p *Provider) drop(err error) {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drv != nil {
		_ = p.drv.Close()
		p.drv = nil
		p.logger().Warn("[CDPProvider] connection_dropped", "error", err)
	}
}

func (p *Provider) eval(ctx context.Context, out any, js string, args ...any) error {
	d, err := p.driver(ctx)
	if err != nil {
		return err
	}
	raw, err := d.Eval(ctx, js, args...)
	if err != nil {
		p.drop(err)
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode script result: %w", err)
	}
	return nil
}

type stateResult struct {
	Found bool   `json:"found"`
	State string `json:"state"`
}

// ProbeSessionState reads the send button icon. A missing button is an
// undetermined read, not an error.
func (p *Provider) ProbeSessionState(ctx context.Context) (watchdog.SessionState, error) {
	chain := probe.NewChain[watchdog.SessionState]("send button")
	for _, sel := range p.cfg.SendButtonSelectors {
		sel := sel
		chain.Add(sel, func(ctx context.Context) (watchdog.SessionState, bool, error) {
			var res stateResult
			if err := p.eval(ctx, &res, stateScript, sel, p.cfg.GeneratingClass, p.cfg.ReadyClass); err != nil {
				return watchdog.StateUndetermined, false, err
			}
			if !res.Found {
				return watchdog.StateUndetermined, false, nil
			}
			return parseState(res.State), true, nil
		})
	}
	state, _, err := chain.Run(ctx)
	if errors.Is(err, probe.ErrNoMatch) {
		return watchdog.StateUndetermined, nil
	}
	return state, err
}

func parseState(s string) watchdog.SessionState {
	switch s {
	case "generating":
		return watchdog.StateGenerating
	case "ready":
		return watchdog.StateReady
	default:
		return watchdog.StateUnknown
	}
}

type controlResult struct {
	Found bool   `json:"found"`
	Label string `json:"label"`
}

// FindActionableSignal locates the resume link or the retry control and tags
// it for Click.
func (p *Provider) FindActionableSignal(ctx context.Context, kind watchdog.SignalKind) (*watchdog.ControlRef, error) {
	texts, labels, query := p.cfg.ResumeTexts, p.cfg.ResumeLinkTexts, p.cfg.ResumeLinkQuery
	if kind == watchdog.SignalErrorRetry {
		texts, labels, query = p.cfg.ErrorTexts, p.cfg.RetryLabels, p.cfg.RetryQuery
	}
	if len(texts) == 0 || len(labels) == 0 {
		return nil, nil
	}

	id := p.newID()
	find := func(script string) probe.Func[string] {
		return func(ctx context.Context) (string, bool, error) {
			var res controlResult
			if err := p.eval(ctx, &res, script, texts, labels, query, refAttr, id); err != nil {
				return "", false, err
			}
			return res.Label, res.Found, nil
		}
	}
	label, strategy, err := probe.NewChain[string]("signal "+kind.String()).
		Add("container", find(containerScript)).
		Add("document", find(documentScript)).
		Run(ctx)
	if errors.Is(err, probe.ErrNoMatch) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &watchdog.ControlRef{
		Kind:     kind,
		Label:    label,
		Selector: refSelector(id),
		Strategy: strategy,
	}, nil
}

func refSelector(id string) string {
	return fmt.Sprintf(`[%s="%s"]`, refAttr, id)
}

// Click presses the tagged control with a real mouse event, falling back to
// a DOM click for controls that are not hit-testable.
func (p *Provider) Click(ctx context.Context, ref watchdog.ControlRef) error {
	if ref.Selector == "" {
		return fmt.Errorf("%s %q: no selector", ref.Kind, ref.Label)
	}
	d, err := p.driver(ctx)
	if err != nil {
		return err
	}
	_, strategy, err := probe.NewChain[bool]("click").
		Add("mouse", func(ctx context.Context) (bool, bool, error) {
			if err := d.Click(ctx, ref.Selector); err != nil {
				p.logger().Debug("[CDPProvider] mouse_click_failed", "selector", ref.Selector, "error", err)
				return false, false, nil
			}
			return true, true, nil
		}).
		Add("dom", func(ctx context.Context) (bool, bool, error) {
			var clicked bool
			if err := p.eval(ctx, &clicked, domClickScript, ref.Selector); err != nil {
				return false, false, err
			}
			return clicked, clicked, nil
		}).
		Run(ctx)
	if err != nil {
		return err
	}
	p.logger().Info("[CDPProvider] clicked", "signal", ref.Kind.String(), "label", ref.Label, "strategy", strategy)
	return nil
}

// InjectText types text into the composer input and submits it.
func (p *Provider) InjectText(ctx context.Context, text string) error {
	d, err := p.driver(ctx)
	if err != nil {
		return err
	}
	sel, _, err := p.inputSelector(ctx)
	if err != nil {
		return err
	}

	_, strategy, err := probe.NewChain[bool]("inject").
		Add("cdp-input", func(ctx context.Context) (bool, bool, error) {
			if err := d.Input(ctx, sel, text); err != nil {
				p.logger().Debug("[CDPProvider] cdp_input_failed", "selector", sel, "error", err)
				return false, false, nil
			}
			if err := sleepCtx(ctx, p.cfg.InputDelay); err != nil {
				return false, false, err
			}
			if err := d.PressEnter(ctx); err != nil {
				return false, false, err
			}
			return true, true, nil
		}).
		Add("dom-events", func(ctx context.Context) (bool, bool, error) {
			var ok bool
			if err := p.eval(ctx, &ok, domInputScript, sel, text, p.cfg.InputDelay.Milliseconds()); err != nil {
				return false, false, err
			}
			return ok, ok, nil
		}).
		Run(ctx)
	if err != nil {
		return err
	}
	p.logger().Info("[CDPProvider] text_injected", "selector", sel, "strategy", strategy, "length", len(text))
	return nil
}

func (p *Provider) inputSelector(ctx context.Context) (string, string, error) {
	chain := probe.NewChain[string]("input")
	for _, sel := range p.cfg.InputSelectors {
		sel := sel
		chain.Add(sel, func(ctx context.Context) (string, bool, error) {
			var exists bool
			if err := p.eval(ctx, &exists, existsScript, sel); err != nil {
				return "", false, err
			}
			return sel, exists, nil
		})
	}
	return chain.Run(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// texts returns the trimmed text of the first selector that matches
// anything. No match is an empty result.
func (p *Provider) texts(ctx context.Context, name string, selectors []string, limit int) ([]string, error) {
	chain := probe.NewChain[[]string](name)
	for _, sel := range selectors {
		sel := sel
		chain.Add(sel, func(ctx context.Context) ([]string, bool, error) {
			var out []string
			if err := p.eval(ctx, &out, textsScript, sel, limit); err != nil {
				return nil, false, err
			}
			return out, len(out) > 0, nil
		})
	}
	out, _, err := chain.Run(ctx)
	if errors.Is(err, probe.ErrNoMatch) {
		return nil, nil
	}
	return out, err
}

// ReadTrailingTextMarkers returns the last text spans, oldest first.
func (p *Provider) ReadTrailingTextMarkers(ctx context.Context) ([]string, error) {
	return p.texts(ctx, "markers", p.cfg.MarkerSelectors, p.cfg.MarkerLimit)
}

func (p *Provider) noProgressMarkers(ctx context.Context) ([]string, error) {
	all, err := p.texts(ctx, "no-progress", p.cfg.NoProgressSelectors, 0)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range all {
		if matchesAny(t, p.cfg.NoProgressPatterns) {
			out = append(out, t)
		}
	}
	return out, nil
}

func matchesAny(text string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	text = strings.ToLower(text)
	for _, pat := range patterns {
		if pat != "" && strings.Contains(text, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

// CountNoProgressMarkers counts status elements reporting no progress.
func (p *Provider) CountNoProgressMarkers(ctx context.Context) (int, error) {
	markers, err := p.noProgressMarkers(ctx)
	return len(markers), err
}

// ReadLastTwoNoProgressMarkers returns the two most recent no-progress texts.
func (p *Provider) ReadLastTwoNoProgressMarkers(ctx context.Context) (string, string, bool, error) {
	markers, err := p.noProgressMarkers(ctx)
	if err != nil || len(markers) < 2 {
		return "", "", false, err
	}
	return markers[len(markers)-2], markers[len(markers)-1], true, nil
}

// CancelRequested reads and clears the page's stop flag.
func (p *Provider) CancelRequested(ctx context.Context) (bool, error) {
	if p.cfg.CancelFlag == "" {
		return false, nil
	}
	var set bool
	if err := p.eval(ctx, &set, cancelScript, p.cfg.CancelFlag); err != nil {
		return false, err
	}
	return set, nil
}

var (
	_ watchdog.UIProvider  = (*Provider)(nil)
	_ watchdog.CancelProbe = (*Provider)(nil)
)
