package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/keepalive/internal/config"
	"github.com/Dicklesworthstone/keepalive/internal/journal"
	"github.com/Dicklesworthstone/keepalive/internal/output"
)

type historyOptions struct {
	limit    int
	runID    string
	listRuns bool
	asJSON   bool
	client   clientOptions
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var opts historyOptions
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled watchdog actions",
		Long: `Show the actions recorded in the journal, newest first.

By default the local journal file is read, so history is available after
keepalive exits. With --addr the running server is asked instead.

Examples:
  keepalive history --limit 50
  keepalive history --runs
  keepalive history --run 6f1c... --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.limit, "limit", "n", 20, "Maximum rows")
	f.StringVar(&opts.runID, "run", "", "Only show actions from this run")
	f.BoolVar(&opts.listRuns, "runs", false, "List runs instead of actions")
	f.BoolVar(&opts.asJSON, "json", false, "Output as JSON")
	opts.client.bind(cmd)
	return cmd
}

func runHistory(cmd *cobra.Command, root *rootOptions, opts historyOptions) error {
	if opts.limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	f := root.formatter(cmd, opts.asJSON)

	if opts.client.addr != "" {
		if opts.listRuns {
			return errors.New("--runs reads the local journal; drop --addr")
		}
		client, addr := opts.client.client(root)
		ctx, cancel := opts.client.context(cmd.Context())
		defer cancel()
		entries, err := client.History(ctx, opts.limit, opts.runID)
		if err != nil {
			return fmt.Errorf("history from %s: %w", addr, err)
		}
		return printEntries(f, entries)
	}

	j, err := openJournal(root)
	if err != nil {
		return err
	}
	defer j.Close()

	if opts.listRuns {
		runs, err := j.Runs(opts.limit)
		if err != nil {
			return err
		}
		return printRuns(f, runs)
	}
	entries, err := j.Recent(opts.limit, opts.runID)
	if err != nil {
		return err
	}
	return printEntries(f, entries)
}

// openJournal opens the configured journal without creating it.
func openJournal(root *rootOptions) (*journal.Journal, error) {
	cfg, _, err := root.loadConfig()
	if err != nil {
		return nil, err
	}
	path := config.ExpandHome(cfg.Journal.Path)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no journal at %s (has keepalive run yet?)", path)
		}
		return nil, err
	}
	return journal.Open(path)
}

func printEntries(f *output.Formatter, entries []journal.Entry) error {
	if f.IsJSON() {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return f.JSON(entries)
	}
	if len(entries) == 0 {
		f.Textln("No actions recorded.")
		return nil
	}

	// the fixed columns take about 70 cells
	detailWidth := output.TerminalWidth(120) - 70
	if detailWidth < 20 {
		detailWidth = 20
	}
	table := output.NewTable(f.Writer(), "TIME", "EVENT", "TIER", "OK", "RETRIES", "DETAIL")
	for _, e := range entries {
		ok := "yes"
		if !e.Success {
			ok = "no"
		}
		detail := e.Reason
		if e.Error != "" {
			detail = e.Error
		}
		table.AddRow(
			e.At.Local().Format("01-02 15:04:05"),
			strings.TrimPrefix(e.Kind, "watchdog."),
			e.Tier,
			ok,
			strconv.Itoa(e.RetryCount),
			output.Truncate(detail, detailWidth),
		)
	}
	table.Render()
	f.Line()
	f.Textln("%s", output.CountStr(table.Len(), "entry", "entries"))
	return nil
}

func printRuns(f *output.Formatter, runs []journal.Run) error {
	if f.IsJSON() {
		if runs == nil {
			runs = []journal.Run{}
		}
		return f.JSON(runs)
	}
	if len(runs) == 0 {
		f.Textln("No runs recorded.")
		return nil
	}
	table := output.NewTable(f.Writer(), "RUN", "STARTED", "PROVIDER", "TARGET")
	for _, r := range runs {
		table.AddRow(r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Provider, r.Target)
	}
	table.Render()
	return nil
}

