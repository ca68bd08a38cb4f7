package main

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/beekhof/gcal-notify/internal/agenda"
	"github.com/beekhof/gcal-notify/internal/auth"
	"github.com/beekhof/gcal-notify/internal/calendar"
	"github.com/beekhof/gcal-notify/internal/config"
	"github.com/beekhof/gcal-notify/internal/logging"
	"github.com/beekhof/gcal-notify/internal/scheduler"
)

// errNeedsInit is returned when a non-interactive run finds no usable token.
var errNeedsInit = errors.New("no valid token cached, run 'gcal-notify init' to authorize")

// nonInteractive refuses to start a consent flow.
type nonInteractive struct{}

func (nonInteractive) Authorize(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error) {
	return nil, errNeedsInit
}

// app is the wired pipeline for one invocation.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	fetcher     *calendar.Fetcher
	credentials *auth.CredentialCache // nil for the ics source
	tokenPath   string
}

// newApp loads configuration and builds the fetcher. A missing client-secret
// file is reported here, before any network traffic.
func newApp(opts *rootOptions, stderr io.Writer, interactive bool) (*app, error) {
	flags, err := opts.configFlags()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(opts.configFile, flags)
	if err != nil {
		return nil, err
	}

	logger := logging.New(stderr, opts.verbose)
	a := &app{cfg: cfg, logger: logger}

	var clients calendar.ClientFactory
	switch cfg.Source {
	case config.SourceICS:
		clients = calendar.ICSClientFactory(calendar.NewICSClient(cfg.ICSURL, nil))
	default:
		secretPath, err := config.ResolveClientSecretPath(cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
		oauthConfig, err := config.LoadOAuthConfig(secretPath)
		if err != nil {
			return nil, err
		}
		store, err := auth.OpenCacheFile(cfg.CacheDir)
		if err != nil {
			return nil, err
		}

		var authorizer auth.Authorizer = nonInteractive{}
		if interactive {
			authorizer = auth.NewLocalServerFlow(stderr)
		}
		a.credentials = auth.NewCredentialCache(oauthConfig, store, authorizer, logging.Component(logger, "auth"))
		a.tokenPath = store.Path

		// Fetches run under a deadline, so they never start the consent flow.
		fetchCredentials := auth.NewCredentialCache(oauthConfig, store, nonInteractive{}, logging.Component(logger, "auth"))
		clients = calendar.GoogleClientFactory(fetchCredentials.Client)
	}

	a.fetcher = calendar.NewFetcher(clients, logging.Component(logger, "calendar"))
	return a, nil
}

func (a *app) fetchOptions() calendar.FetchOptions {
	return calendar.FetchOptions{
		CalendarID: a.cfg.CalendarID,
		MaxCount:   a.cfg.MaxResults,
		WindowDays: a.cfg.WindowDays,
	}
}

func (a *app) fetchFunc() scheduler.FetchFunc {
	return scheduler.InProcess(a.fetcher, a.fetchOptions())
}

// ensureCredentials makes sure a token is cached, running the consent flow
// when needed. It is a no-op for sources without OAuth.
func (a *app) ensureCredentials(ctx context.Context) error {
	if a.credentials == nil {
		return nil
	}
	_, err := a.credentials.Obtain(ctx)
	return err
}

func (a *app) newScheduler(fetch scheduler.FetchFunc, buffer scheduler.Buffer) (*scheduler.Scheduler, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}

	opts := scheduler.Options{
		FetchTimeout:  a.cfg.FetchTimeout,
		PollInterval:  a.cfg.PollInterval,
		NotifyEnabled: a.cfg.NotificationsEnabled(),
		Formatter:     agenda.Formatter{TimeFormat: a.cfg.TimeFormat, Location: loc},
		Thresholds:    agenda.NewThresholdSet(a.cfg.NotifyThresholds...),
	}
	if a.credentials != nil {
		opts.Reauthorize = func(ctx context.Context) error {
			_, err := a.credentials.Reauthorize(ctx)
			return err
		}
	}

	return scheduler.New(fetch, buffer, opts, logging.Component(a.logger, "scheduler")), nil
}
