// Package cli implements the keepalive command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/keepalive/internal/config"
	"github.com/Dicklesworthstone/keepalive/internal/output"
)

var (
	// Build information - set via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool
	logJSON    bool
	noColor    bool
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "keepalive",
		Short: "Keep a long-running assistant session alive",
		Long: `keepalive watches an interactive assistant session and nudges it back to
work when it stalls: it clicks resume and retry controls, retypes the
continuation command, breaks no-progress loops and alerts the operator when
automatic remediation gives up.

Quick Start:
  keepalive config init                     # Write the default config
  keepalive run --target main:0             # Watch a tmux pane
  keepalive run --provider cdp --debugger-url http://127.0.0.1:9222
  keepalive monitor                         # Live dashboard
  keepalive toggle                          # Pause or resume the watchdog`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), opts.verbose, opts.logJSON)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/keepalive/config.toml)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON")
	pf.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newControlCmd(opts, "start", "Start the watchdog of a running keepalive"),
		newControlCmd(opts, "stop", "Stop the watchdog without exiting keepalive"),
		newControlCmd(opts, "toggle", "Start the watchdog if stopped, stop it otherwise"),
		newControlCmd(opts, "reset", "Clear counters, cooldowns and the session budget"),
		newMonitorCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command tree against os.Args.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func setupLogging(w io.Writer, verbose, asJSON bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
}

// formatter returns an output formatter for cmd's stdout.
func (o *rootOptions) formatter(cmd *cobra.Command, asJSON bool) *output.Formatter {
	w := cmd.OutOrStdout()
	format := output.FormatText
	if asJSON {
		format = output.FormatJSON
	}
	color := !o.noColor && os.Getenv("NO_COLOR") == "" && output.IsTerminal(w)
	return output.New(w, output.WithFormat(format), output.WithColor(color))
}

// loadConfig loads the config file; it does not validate.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := o.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, path, nil
}

// joinConfigErrors renders validation failures as one error.
func joinConfigErrors(errs []error) error {
	lines := make([]string, 0, len(errs))
	for _, err := range errs {
		lines = append(lines, "  - "+err.Error())
	}
	return fmt.Errorf("invalid configuration:\n%s", strings.Join(lines, "\n"))
}
