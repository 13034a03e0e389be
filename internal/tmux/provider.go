package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Dicklesworthstone/keepalive/internal/probe"
	"github.com/Dicklesworthstone/keepalive/internal/util"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

// Config describes the pane and the vocabulary used to read it. Patterns
// are regular expressions matched against ANSI-stripped lines.
type Config struct {
	Target string // tmux target, e.g. "work:0.1"
	Remote string // "user@host" or empty for local

	CaptureLines    int // scrollback lines captured per probe
	StateLines      int // trailing lines searched for the state indicator
	SignalLines     int // trailing lines searched for resume/error signals
	TrailingMarkers int // trailing text markers returned per read

	InputDelay time.Duration
	SubmitKeys []string

	GeneratingPatterns []string
	ReadyPatterns      []string
	ResumePatterns     []string
	ErrorPatterns      []string
	NoProgressPatterns []string
	// ChromePatterns mark lines that belong to the assistant's UI frame
	// rather than its output.
	ChromePatterns []string

	ResumeKeys []string
	RetryKeys  []string

	StopMarker string
}

// DefaultConfig returns settings for terminal assistants of the Claude Code
// and Codex family.
func DefaultConfig() Config {
	noProgress := make([]string, 0, len(watchdog.DefaultNoProgressPatterns))
	for _, p := range watchdog.DefaultNoProgressPatterns {
		noProgress = append(noProgress, `(?i)`+regexp.QuoteMeta(p))
	}
	return Config{
		CaptureLines:    200,
		StateLines:      15,
		SignalLines:     12,
		TrailingMarkers: 8,
		InputDelay:      100 * time.Millisecond,
		SubmitKeys:      []string{"C-m"},
		GeneratingPatterns: []string{
			`(?i)\besc to interrupt\b`,
			`(?i)ctrl\+c to (interrupt|cancel)`,
			`(?i)\bworking\b.*\(\d+s`,
		},
		ReadyPatterns: []string{
			`^\s*[│|]?\s*[>›]\s*([│|]\s*)?$`,
			`(?i)\? for shortcuts`,
			`(?i)send a message`,
		},
		ResumePatterns: []string{
			`(?i)stop the agent after \d+ tool calls`,
			`(?i)note: we default stop`,
			`(?i)resume the conversation`,
			`(?i)press enter to (continue|resume)`,
		},
		ErrorPatterns: []string{
			`(?i)connection (failed|error|reset)`,
			`(?i)hit a rate limit`,
			`(?i)rate limit(ed)? exceeded`,
			`(?i)api error: (5\d\d|overloaded)`,
		},
		NoProgressPatterns: noProgress,
		ChromePatterns: []string{
			`^[\s│┃|╭╮╰╯─━┌┐└┘>›]*$`,
			`(?i)\? for shortcuts`,
			`(?i)\besc to interrupt\b`,
			`(?i)auto-accept edits`,
			`(?i)context left`,
		},
		ResumeKeys: []string{"Enter"},
		RetryKeys:  []string{"Up", "Enter"},
		StopMarker: "/keepalive stop",
	}
}

// Provider implements watchdog.UIProvider and watchdog.CancelProbe for a
// tmux pane.
type Provider struct {
	client *Client
	cfg    Config

	generating []*regexp.Regexp
	ready      []*regexp.Regexp
	resume     []*regexp.Regexp
	failures   []*regexp.Regexp
	noProgress []*regexp.Regexp
	chrome     []*regexp.Regexp

	// Logger for structured logging.
	Logger *slog.Logger

	mu sync.Mutex
	// consumed holds fingerprints of signals already acted on. Terminal
	// scrollback keeps a signal visible after it was handled.
	consumed []string

	// One capture serves every read made under the same probe context, so
	// the pieces of a tick's snapshot agree. Keyed by the context's Done
	// channel; unbounded contexts are never cached.
	capMu    sync.Mutex
	capDone  <-chan struct{}
	capLines []string
}

const maxConsumed = 64

// NewProvider compiles cfg's patterns. A nil client means DefaultClient, or a
// remote client when cfg.Remote is set.
func NewProvider(client *Client, cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, errors.New("tmux provider: target is required")
	}
	if client == nil {
		client = DefaultClient
		if cfg.Remote != "" {
			client = NewClient(cfg.Remote)
		}
	}
	p := &Provider{client: client, cfg: cfg}

	var err error
	compile := func(name string, patterns []string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, pat := range patterns {
			re, cerr := regexp.Compile(pat)
			if cerr != nil {
				err = errors.Join(err, fmt.Errorf("%s pattern %q: %w", name, pat, cerr))
				continue
			}
			out = append(out, re)
		}
		return out
	}
	p.generating = compile("generating", cfg.GeneratingPatterns)
	p.ready = compile("ready", cfg.ReadyPatterns)
	p.resume = compile("resume", cfg.ResumePatterns)
	p.failures = compile("error", cfg.ErrorPatterns)
	p.noProgress = compile("no-progress", cfg.NoProgressPatterns)
	p.chrome = compile("chrome", cfg.ChromePatterns)
	if err != nil {
		return nil, err
	}
	return p, nil
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

// Target returns the pane this provider drives.
func (p *Provider) Target() string { return p.cfg.Target }

// capture returns the pane's non-blank lines, ANSI stripped, oldest first.
func (p *Provider) capture(ctx context.Context) ([]string, error) {
	done := ctx.Done()
	p.capMu.Lock()
	defer p.capMu.Unlock()
	if done != nil && done == p.capDone && ctx.Err() == nil {
		return p.capLines, nil
	}

	out, err := p.client.CapturePaneOutput(ctx, p.cfg.Target, p.cfg.CaptureLines)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", p.cfg.Target, err)
	}
	lines := util.NonEmptyLines(util.StripANSI(out))
	p.capDone, p.capLines = done, lines
	return lines, nil
}

// invalidate drops the cached capture after input changed the pane.
func (p *Provider) invalidate() {
	p.capMu.Lock()
	p.capDone, p.capLines = nil, nil
	p.capMu.Unlock()
}

// ProbeSessionState reads the state indicator. Generating indicators win
// over the ready prompt, which most assistants keep drawn while working.
func (p *Provider) ProbeSessionState(ctx context.Context) (watchdog.SessionState, error) {
	lines, err := p.capture(ctx)
	if err != nil {
		return watchdog.StateUndetermined, err
	}
	tail := util.Tail(lines, p.cfg.StateLines)

	state, strategy, err := probe.NewChain[watchdog.SessionState]("session state").
		Add("generating-indicator", matchState(tail, p.generating, watchdog.StateGenerating)).
		Add("ready-prompt", matchState(tail, p.ready, watchdog.StateReady)).
		Run(ctx)
	if errors.Is(err, probe.ErrNoMatch) {
		return watchdog.StateUnknown, nil
	}
	if err != nil {
		return watchdog.StateUndetermined, err
	}
	p.logger().Debug("[TmuxProvider] state", "target", p.cfg.Target, "state", state, "strategy", strategy)
	return state, nil
}

func matchState(lines []string, patterns []*regexp.Regexp, state watchdog.SessionState) probe.Func[watchdog.SessionState] {
	return func(ctx context.Context) (watchdog.SessionState, bool, error) {
		for _, line := range lines {
			for _, re := range patterns {
				if re.MatchString(line) {
					return state, true, nil
				}
			}
		}
		return watchdog.StateUndetermined, false, nil
	}
}

type signalHit struct {
	line        string
	fingerprint string
}

// FindActionableSignal looks for an unhandled resume or error signal near the
// bottom of the pane. Patterns are tried in configuration order.
func (p *Provider) FindActionableSignal(ctx context.Context, kind watchdog.SignalKind) (*watchdog.ControlRef, error) {
	lines, err := p.capture(ctx)
	if err != nil {
		return nil, err
	}
	window := util.Tail(lines, p.cfg.SignalLines)

	patterns, keys := p.resume, p.cfg.ResumeKeys
	if kind == watchdog.SignalErrorRetry {
		patterns, keys = p.failures, p.cfg.RetryKeys
	}

	chain := probe.NewChain[signalHit]("signal " + kind.String())
	for _, re := range patterns {
		chain.Add(re.String(), p.findSignal(window, re))
	}
	hit, strategy, err := chain.Run(ctx)
	if errors.Is(err, probe.ErrNoMatch) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &watchdog.ControlRef{
		Kind:     kind,
		Label:    strings.TrimSpace(hit.line),
		Selector: hit.fingerprint,
		Keys:     append([]string(nil), keys...),
		Strategy: strategy,
	}, nil
}

func (p *Provider) findSignal(window []string, re *regexp.Regexp) probe.Func[signalHit] {
	return func(ctx context.Context) (signalHit, bool, error) {
		for i := len(window) - 1; i >= 0; i-- {
			if !re.MatchString(window[i]) {
				continue
			}
			fp := fingerprint(window, i)
			if p.isConsumed(fp) {
				return signalHit{}, false, nil
			}
			return signalHit{line: window[i], fingerprint: fp}, true, nil
		}
		return signalHit{}, false, nil
	}
}

// fingerprint identifies a signal by its line and the three lines above it,
// which survive scrolling unchanged.
func fingerprint(lines []string, i int) string {
	start := i - 3
	if start < 0 {
		start = 0
	}
	block := strings.Join(lines[start:i+1], "\n")
	if len(block) < 64 {
		return block
	}
	return fmt.Sprintf("%d:%s:%s", len(block), block[:32], block[len(block)-32:])
}

func (p *Provider) isConsumed(fp string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.consumed {
		if c == fp {
			return true
		}
	}
	return false
}

func (p *Provider) markConsumed(fp string) {
	if fp == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumed = append(p.consumed, fp)
	if len(p.consumed) > maxConsumed {
		p.consumed = p.consumed[len(p.consumed)-maxConsumed:]
	}
}

// Click sends the ref's key sequence. The signal it answered is not reported
// again.
func (p *Provider) Click(ctx context.Context, ref watchdog.ControlRef) error {
	if len(ref.Keys) == 0 {
		return fmt.Errorf("%s %q: no keys to send", ref.Kind, ref.Label)
	}
	defer p.invalidate()
	if err := p.client.SendKeys(ctx, p.cfg.Target, ref.Keys...); err != nil {
		return err
	}
	p.markConsumed(ref.Selector)
	p.logger().Info("[TmuxProvider] keys_sent", "target", p.cfg.Target, "signal", ref.Kind.String(), "keys", strings.Join(ref.Keys, " "))
	return nil
}

// InjectText types text literally, waits InputDelay and submits it.
func (p *Provider) InjectText(ctx context.Context, text string) error {
	defer p.invalidate()
	if err := p.client.SendLiteral(ctx, p.cfg.Target, text); err != nil {
		return err
	}
	if p.cfg.InputDelay > 0 {
		timer := time.NewTimer(p.cfg.InputDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	submit := p.cfg.SubmitKeys
	if len(submit) == 0 {
		submit = []string{"C-m"}
	}
	return p.client.SendKeys(ctx, p.cfg.Target, submit...)
}

// markers returns output lines with UI chrome removed, oldest first.
func (p *Provider) markers(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if p.isChrome(line) {
			continue
		}
		m := strings.TrimSpace(strings.Trim(line, " \t│┃|⏺●"))
		if m == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (p *Provider) isChrome(line string) bool {
	for _, re := range p.chrome {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// ReadTrailingTextMarkers returns the last output lines, oldest first.
func (p *Provider) ReadTrailingTextMarkers(ctx context.Context) ([]string, error) {
	lines, err := p.capture(ctx)
	if err != nil {
		return nil, err
	}
	return util.Tail(p.markers(lines), p.cfg.TrailingMarkers), nil
}

func (p *Provider) noProgressMarkers(ctx context.Context) ([]string, error) {
	lines, err := p.capture(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range p.markers(lines) {
		for _, re := range p.noProgress {
			if re.MatchString(m) {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

// CountNoProgressMarkers counts captured lines matching a no-progress pattern.
func (p *Provider) CountNoProgressMarkers(ctx context.Context) (int, error) {
	markers, err := p.noProgressMarkers(ctx)
	return len(markers), err
}

// ReadLastTwoNoProgressMarkers returns the two most recent no-progress lines.
func (p *Provider) ReadLastTwoNoProgressMarkers(ctx context.Context) (string, string, bool, error) {
	markers, err := p.noProgressMarkers(ctx)
	if err != nil || len(markers) < 2 {
		return "", "", false, err
	}
	return markers[len(markers)-2], markers[len(markers)-1], true, nil
}

// CancelRequested reports the stop marker typed into the prompt, which is
// chrome and so never reaches the trailing markers.
func (p *Provider) CancelRequested(ctx context.Context) (bool, error) {
	marker := strings.ToLower(strings.TrimSpace(p.cfg.StopMarker))
	if marker == "" {
		return false, nil
	}
	lines, err := p.capture(ctx)
	if err != nil {
		return false, err
	}
	for _, line := range util.Tail(lines, 3) {
		if strings.Contains(strings.ToLower(line), marker) {
			return true, nil
		}
	}
	return false, nil
}

var (
	_ watchdog.UIProvider  = (*Provider)(nil)
	_ watchdog.CancelProbe = (*Provider)(nil)
)
