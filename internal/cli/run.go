package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/keepalive/internal/cdp"
	"github.com/Dicklesworthstone/keepalive/internal/config"
	"github.com/Dicklesworthstone/keepalive/internal/events"
	"github.com/Dicklesworthstone/keepalive/internal/journal"
	"github.com/Dicklesworthstone/keepalive/internal/lock"
	"github.com/Dicklesworthstone/keepalive/internal/notify"
	"github.com/Dicklesworthstone/keepalive/internal/serve"
	"github.com/Dicklesworthstone/keepalive/internal/tmux"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

type runOptions struct {
	provider    string
	target      string
	debuggerURL string
	listen      string
	noServer    bool
	noJournal   bool
	watchConfig bool
}

// apply overlays the flags that were set onto cfg.
func (o runOptions) apply(cfg *config.Config) {
	if o.provider != "" {
		cfg.Provider = strings.ToLower(o.provider)
	}
	if o.target != "" {
		cfg.Target = o.target
	}
	if o.debuggerURL != "" {
		cfg.CDP.DebuggerURL = o.debuggerURL
	}
	if o.listen != "" {
		cfg.Server.Listen = o.listen
	}
	if o.noServer {
		cfg.Server.Enabled = false
	}
	if o.noJournal {
		cfg.Journal.Enabled = false
	}
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch a session and keep it going",
		Long: `Run the watchdog in the foreground against one session.

The tmux provider drives a terminal assistant in a pane (--target). The cdp
provider drives a browser-hosted assistant through the Chrome DevTools
Protocol (--debugger-url). Only one watchdog may run per target.

Examples:
  keepalive run --target work:0.1
  keepalive run --provider cdp --debugger-url http://127.0.0.1:9222
  keepalive run --target main --no-server --watch-config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchdog(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.provider, "provider", "", "UI provider: tmux or cdp")
	f.StringVarP(&opts.target, "target", "t", "", "tmux target pane (session:window.pane)")
	f.StringVar(&opts.debuggerURL, "debugger-url", "", "Chrome DevTools endpoint for the cdp provider")
	f.StringVar(&opts.listen, "listen", "", "Control server address (default "+config.DefaultListen+")")
	f.BoolVar(&opts.noServer, "no-server", false, "Do not start the HTTP control server")
	f.BoolVar(&opts.noJournal, "no-journal", false, "Do not record actions in the journal")
	f.BoolVar(&opts.watchConfig, "watch-config", false, "Reload watchdog timings when the config file changes")
	return cmd
}

func runWatchdog(cmd *cobra.Command, root *rootOptions, opts runOptions) error {
	cfg, cfgPath, err := root.loadConfig()
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working dir: %w", err)
	}
	profile, profilePath, err := config.LoadProfile(cwd)
	if err != nil {
		return err
	}
	if profile != nil {
		config.ApplyProfile(cfg, profile)
		slog.Info("[CLI] profile_loaded", "path", profilePath)
	}
	opts.apply(cfg)

	if errs := config.Validate(cfg); len(errs) > 0 {
		return joinConfigErrors(errs)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lockTarget := lockName(cfg)
	lk, err := lock.Acquire(config.ExpandHome(cfg.StateDir), lockTarget)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("another keepalive is already watching %q: %w", lockTarget, err)
		}
		return err
	}
	defer lk.Release()

	runID := uuid.NewString()
	bus := events.NewBus(256)

	var history serve.History
	if cfg.Journal.Enabled {
		j, err := journal.Open(config.ExpandHome(cfg.Journal.Path))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		if err := j.BeginRun(journal.Run{
			ID:        runID,
			StartedAt: time.Now().UTC(),
			Provider:  cfg.Provider,
			Target:    cfg.Target,
		}); err != nil {
			return err
		}
		unsubscribe := j.Subscribe(bus)
		defer unsubscribe()
		history = j
	}

	// Closed before the journal so queued events still get recorded.
	emitter := events.NewEmitter(bus, 256)
	emitter.Start()
	defer emitter.Close()

	provider, closeProvider, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	notifier := notify.New(cfg.Notifications)
	defer notifier.Close()

	wd := watchdog.New(cfg.WatchdogConfig(), provider, watchdog.NewLoopScheduler(ctx)).
		WithNotifier(notifier).
		WithEvents(emitter).
		WithLogger(slog.Default()).
		WithTarget(cfg.Target).
		WithNoProgressPatterns(cfg.Signals.NoProgressPatterns).
		WithRunID(runID)

	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv := serve.New(serve.Config{
			Listen:     cfg.Server.Listen,
			APIKey:     cfg.Server.APIKey,
			Version:    Version,
			Controller: wd,
			History:    history,
			Bus:        bus,
			Logger:     slog.Default(),
		})
		go func() {
			serverErr <- srv.Start(ctx)
		}()
	}

	if opts.watchConfig {
		err := config.Watch(ctx, cfgPath, func(next *config.Config, err error) {
			if err != nil {
				return
			}
			if profile != nil {
				config.ApplyProfile(next, profile)
			}
			if err := wd.UpdateConfig(next.WatchdogConfig()); err != nil {
				slog.Warn("[CLI] config_rejected", "error", err)
			}
		})
		if err != nil {
			slog.Warn("[CLI] config_watch_failed", "path", cfgPath, "error", err)
		}
	}

	if err := wd.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "keepalive watching %s via %s (run %s)\n", displayTarget(cfg), cfg.Provider, runID)
	if cfg.Server.Enabled {
		fmt.Fprintf(cmd.OutOrStdout(), "control server on http://%s\n", cfg.Server.Listen)
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			wd.Close()
			return fmt.Errorf("control server: %w", err)
		}
	}

	wd.Close()
	st := wd.Status()
	slog.Info("[CLI] shutdown",
		"run_id", runID,
		"ticks", st.Ticks,
		"action_failures", st.ActionFailures,
		"dropped_events", emitter.Dropped())
	return nil
}

// buildProvider returns the configured UI provider and its cleanup.
func buildProvider(ctx context.Context, cfg *config.Config) (watchdog.UIProvider, func(), error) {
	switch cfg.Provider {
	case config.ProviderCDP:
		p, err := cdp.New(ctx, cfg.CDPProvider())
		if err != nil {
			return nil, nil, err
		}
		p.WithLogger(slog.Default())
		if err := p.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connect to %s: %w", cfg.CDP.DebuggerURL, err)
		}
		return p, func() { _ = p.Close() }, nil
	default:
		if strings.TrimSpace(cfg.Target) == "" {
			return nil, nil, errors.New("the tmux provider needs a target (--target or KEEPALIVE_TARGET)")
		}
		client := tmux.DefaultClient
		if cfg.Tmux.Remote != "" {
			client = tmux.NewClient(cfg.Tmux.Remote)
		}
		if !client.IsInstalled(ctx) {
			return nil, nil, errors.New("tmux is not installed or not on PATH")
		}
		if !client.HasTarget(ctx, cfg.Target) {
			return nil, nil, fmt.Errorf("tmux target %q not found", cfg.Target)
		}
		p, err := tmux.NewProvider(client, cfg.TmuxProvider(cfg.Target))
		if err != nil {
			return nil, nil, err
		}
		p.WithLogger(slog.Default())
		return p, func() {}, nil
	}
}

func lockName(cfg *config.Config) string {
	if cfg.Provider == config.ProviderCDP && cfg.Target == "" {
		return "cdp-" + cfg.CDP.DebuggerURL
	}
	return cfg.Target
}

func displayTarget(cfg *config.Config) string {
	if cfg.Target != "" {
		return cfg.Target
	}
	return cfg.CDP.DebuggerURL
}
