package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/keepalive/internal/config"
	"github.com/Dicklesworthstone/keepalive/internal/output"
	"github.com/Dicklesworthstone/keepalive/internal/serve"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

// clientOptions locate a running keepalive's control server.
type clientOptions struct {
	addr    string
	apiKey  string
	timeout time.Duration
}

func (c *clientOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.addr, "addr", "", "Control server address (default from config, "+config.DefaultListen+")")
	cmd.Flags().StringVar(&c.apiKey, "api-key", "", "API key for the control server (default from config)")
	cmd.Flags().DurationVar(&c.timeout, "timeout", 5*time.Second, "Request timeout")
}

// client resolves the address and key from flags, then config, then defaults.
func (c *clientOptions) client(root *rootOptions) (*serve.Client, string) {
	addr, key := c.addr, c.apiKey
	if addr == "" || key == "" {
		if cfg, _, err := root.loadConfig(); err == nil {
			if addr == "" {
				addr = cfg.Server.Listen
			}
			if key == "" {
				key = cfg.Server.APIKey
			}
		}
	}
	if addr == "" {
		addr = config.DefaultListen
	}
	return serve.NewClient(addr, key), addr
}

func (c *clientOptions) context(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, c.timeout)
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var (
		copts  clientOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running watchdog",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr := copts.client(root)
			ctx, cancel := copts.context(cmd.Context())
			defer cancel()

			st, err := client.Status(ctx)
			if err != nil {
				return fmt.Errorf("query %s: %w", addr, err)
			}
			f := root.formatter(cmd, asJSON)
			if f.IsJSON() {
				return f.JSON(st)
			}
			printStatus(f, st)
			return nil
		},
	}
	copts.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status JSON")
	return cmd
}

func newControlCmd(root *rootOptions, op, short string) *cobra.Command {
	var copts clientOptions
	cmd := &cobra.Command{
		Use:   op,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr := copts.client(root)
			ctx, cancel := copts.context(cmd.Context())
			defer cancel()

			var (
				st  watchdog.Status
				err error
			)
			switch op {
			case "start":
				st, err = client.Start(ctx)
			case "stop":
				st, err = client.Stop(ctx)
			case "toggle":
				st, err = client.Toggle(ctx)
			case "reset":
				st, err = client.Reset(ctx)
			default:
				return fmt.Errorf("unknown operation %q", op)
			}
			if err != nil {
				return fmt.Errorf("%s via %s: %w", op, addr, err)
			}

			f := root.formatter(cmd, false)
			state := "stopped"
			if st.Active {
				state = "active"
			}
			if op == "reset" {
				f.Textln("Watchdog reset (%s, phase %s)", state, st.Phase)
				return nil
			}
			f.Textln("Watchdog %s", f.Bold(state))
			return nil
		},
	}
	copts.bind(cmd)
	return cmd
}

func printStatus(f *output.Formatter, st watchdog.Status) {
	active := f.Color("stopped", "1")
	if st.Active {
		active = f.Color("active", "2")
	}
	if st.StopPending {
		active += " (stop pending)"
	}

	f.KeyValue("Watchdog", active)
	if st.Target != "" {
		f.KeyValue("Target", st.Target)
	}
	f.KeyValue("Run", st.RunID)
	f.KeyValue("Phase", st.Phase)
	f.KeyValue("Session", fmt.Sprintf("%s (was %s)", st.State, st.PreviousState))
	f.KeyValue("Retries", st.RetryCount)
	f.KeyValue("Escalations", st.SimulateAttempts)
	f.KeyValue("Budget left", st.BudgetRemaining.Round(time.Second))
	f.KeyValue("Ticks", fmt.Sprintf("%d (%s, %s)", st.Ticks,
		output.CountStr(int(st.ProbeErrors), "probe error", "probe errors"),
		output.CountStr(int(st.ActionFailures), "failed action", "failed actions")))
	if st.LastDecision != nil && st.LastDecision.Tier != watchdog.TierNone {
		f.KeyValue("Last action", fmt.Sprintf("%s at %s: %s",
			st.LastDecision.Tier, st.LastDecision.At.Local().Format("15:04:05"), st.LastDecision.Reason))
	}
	if st.LastError != "" {
		f.KeyValue("Last error", output.Truncate(st.LastError, output.TerminalWidth(100)-16))
	}

	f.Line()
	parts := make([]string, 0, len(st.Cooldowns))
	for _, w := range watchdog.AllWindows {
		d := st.Cooldowns[w.String()]
		v := "ready"
		if d > 0 {
			v = d.Round(100 * time.Millisecond).String()
		}
		parts = append(parts, w.String()+"="+v)
	}
	f.KeyValue("Cooldowns", strings.Join(parts, " "))

	names := make([]string, 0, len(st.Actions))
	for name, n := range st.Actions {
		if n > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		f.KeyValue("Actions", "none")
		return
	}
	counts := make([]string, 0, len(names))
	for _, name := range names {
		counts = append(counts, fmt.Sprintf("%s=%d", name, st.Actions[name]))
	}
	f.KeyValue("Actions", strings.Join(counts, " "))
}
