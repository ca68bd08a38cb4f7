package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beekhof/gcal-notify/internal/config"
	"github.com/beekhof/gcal-notify/internal/scheduler"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile   string
	credentials  string
	cacheDir     string
	source       string
	calendarID   string
	icsURL       string
	timezone     string
	thresholds   string
	pollInterval time.Duration
	fetchTimeout time.Duration
	verbose      bool
}

// configFlags converts the command line into config overrides.
func (o *rootOptions) configFlags() (config.Flags, error) {
	flags := config.Flags{
		CredentialsPath: o.credentials,
		CacheDir:        o.cacheDir,
		Source:          o.source,
		CalendarID:      o.calendarID,
		ICSURL:          o.icsURL,
		Timezone:        o.timezone,
		PollInterval:    o.pollInterval,
		FetchTimeout:    o.fetchTimeout,
	}
	if o.thresholds != "" {
		thresholds, err := config.ParseThresholds(o.thresholds)
		if err != nil {
			return config.Flags{}, fmt.Errorf("invalid --thresholds value: %w", err)
		}
		flags.NotifyThresholds = thresholds
	}
	return flags, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "gcal-notify",
		Short: "Show your upcoming Google Calendar events and remind you before they start",
		Long: `gcal-notify fetches the events of the next two days from Google Calendar
(or an iCalendar feed), prints them grouped by day, and in watch mode refreshes
periodically and highlights events starting in 5 or 15 minutes.

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (GCAL_CREDENTIALS_PATH, GCAL_CACHE_DIR, GCAL_SOURCE,
       GCAL_CALENDAR_ID, GCAL_ICS_URL, GCAL_NOTIFY_THRESHOLDS, GCAL_POLL_INTERVAL,
       GCAL_FETCH_TIMEOUT)
    3. Config file (--config, default <user-config-dir>/gcal-notify/config.yaml)
    4. Defaults

The OAuth client registration (credentials.json) is looked up at --credentials,
then in the working directory, then in the home directory. The authorized token
is cached in <user-cache-dir>/weechat-gcal/.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "path to YAML config file")
	pf.StringVar(&opts.credentials, "credentials", "", "path to the OAuth client registration (credentials.json)")
	pf.StringVar(&opts.cacheDir, "cache-dir", "", "directory holding the cached token")
	pf.StringVar(&opts.source, "source", "", "event source: google or ics")
	pf.StringVar(&opts.calendarID, "calendar", "", "Google calendar id (default \"primary\")")
	pf.StringVar(&opts.icsURL, "ics-url", "", "iCalendar feed URL when --source=ics")
	pf.StringVar(&opts.timezone, "timezone", "", "display timezone: IANA name, Local or UTC (default: each event's own offset)")
	pf.StringVar(&opts.thresholds, "thresholds", "", "comma-separated reminder minutes, e.g. 5,15")
	pf.DurationVar(&opts.pollInterval, "interval", 0, "refresh interval in watch mode (default 60s)")
	pf.DurationVar(&opts.fetchTimeout, "timeout", 0, "bound on a single fetch (default 3s)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(opts),
		newWatchCmd(opts),
		newFetchCmd(opts),
	)

	return root
}

func runOnce(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	a, err := newApp(opts, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}

	// Consent may need the user, so it happens before the bounded fetch.
	if err := a.ensureCredentials(ctx); err != nil {
		return err
	}

	sched, err := a.newScheduler(a.fetchFunc(), scheduler.NewTerminalBuffer(cmd.OutOrStdout(), false))
	if err != nil {
		return err
	}
	return sched.RunOnce(ctx, scheduler.OriginCommand).Err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
