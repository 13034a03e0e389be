package cli

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/keepalive/internal/tui/dashboard"
)

func newMonitorCmd(root *rootOptions) *cobra.Command {
	var (
		copts    clientOptions
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Open a live dashboard for a running watchdog",
		Long: `Open a live dashboard that polls a running keepalive.

Keys:
  s   start/stop the watchdog
  r   reset counters, cooldowns and budget
  p   pause refreshing
  u   refresh now
  q   quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr := copts.client(root)

			// Fail before taking over the screen.
			ctx, cancel := copts.context(cmd.Context())
			_, err := client.Status(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("no keepalive reachable at %s: %w", addr, err)
			}

			model := dashboard.New(client, addr).WithRefreshInterval(interval)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
	copts.bind(cmd)
	cmd.Flags().DurationVar(&interval, "interval", dashboard.DefaultRefreshInterval, "Refresh interval")
	return cmd
}
