package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/beekhof/gcal-notify/internal/calendar"
	"github.com/beekhof/gcal-notify/internal/scheduler"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Run the authorization flow and cache a new token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			if a.credentials == nil {
				return errors.New("the ics source needs no authorization")
			}

			if _, err := a.credentials.Reauthorize(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Authorization complete, token saved to %s\n", a.tokenPath)
			return nil
		},
	}
}

type watchOptions struct {
	worker string
	ansi   bool
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	wopts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh periodically and highlight upcoming events",
		Long: `watch keeps the agenda on screen, refreshing it on a timer and highlighting
events that start in one of the reminder thresholds. Lines read from stdin are
commands: "gcal" refreshes now and "gcal init" re-runs authorization.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, wopts)
		},
	}

	cmd.Flags().StringVar(&wopts.worker, "worker", "inprocess", "where fetches run: inprocess or process")
	cmd.Flags().BoolVar(&wopts.ansi, "ansi", false, "clear the screen and use bold and bell for reminders (default: when stdout is a terminal)")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *rootOptions, wopts *watchOptions) error {
	ctx := cmd.Context()
	a, err := newApp(opts, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	if err := a.ensureCredentials(ctx); err != nil {
		return err
	}

	var fetch scheduler.FetchFunc
	switch wopts.worker {
	case "inprocess":
		fetch = a.fetchFunc()
	case "process":
		worker, err := childWorker(cmd)
		if err != nil {
			return err
		}
		fetch = worker.Fetch
	default:
		return fmt.Errorf("--worker must be 'inprocess' or 'process', got '%s'", wopts.worker)
	}

	ansi := wopts.ansi
	if !cmd.Flags().Changed("ansi") {
		ansi = isTerminal(cmd.OutOrStdout())
	}

	sched, err := a.newScheduler(fetch, scheduler.NewTerminalBuffer(cmd.OutOrStdout(), ansi))
	if err != nil {
		return err
	}

	go readCommands(ctx, cmd, sched)

	sched.Trigger(scheduler.OriginTimer)
	return sched.Run(ctx)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readCommands forwards stdin lines to the scheduler until EOF.
func readCommands(ctx context.Context, cmd *cobra.Command, sched *scheduler.Scheduler) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := sched.HandleCommand(scanner.Text()); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
	}
}

// childWorker re-executes this binary as "fetch" with the same persistent flags.
func childWorker(cmd *cobra.Command) (scheduler.ProcessWorker, error) {
	exe, err := os.Executable()
	if err != nil {
		return scheduler.ProcessWorker{}, fmt.Errorf("failed to locate executable: %w", err)
	}

	args := []string{"fetch"}
	cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			args = append(args, fmt.Sprintf("--%s=%s", f.Name, f.Value.String()))
		}
	})
	return scheduler.ProcessWorker{Path: exe, Args: args}, nil
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch once and print the JSON payload used by the process worker",
		Long: `fetch prints either a JSON array of {"id","date","summary"} objects or an
{"error": ...} object. It never starts an interactive authorization.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, fetchErr := fetchPayload(cmd, opts)
			payload, err := calendar.EncodePayload(events, fetchErr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return nil
		},
	}
}

func fetchPayload(cmd *cobra.Command, opts *rootOptions) ([]calendar.NormalizedEvent, error) {
	a, err := newApp(opts, cmd.ErrOrStderr(), false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.FetchTimeout)
	defer cancel()
	return a.fetchFunc()(ctx)
}
