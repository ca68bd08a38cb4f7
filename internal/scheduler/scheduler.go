package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/beekhof/gcal-notify/internal/agenda"
	"github.com/beekhof/gcal-notify/internal/calendar"
)

// DefaultFetchTimeout bounds a single fetch.
const DefaultFetchTimeout = 3 * time.Second

// DefaultPollInterval is the period of timer-originated runs.
const DefaultPollInterval = 60 * time.Second

// Origin records what started a run.
type Origin int

const (
	OriginCommand Origin = iota
	OriginTimer
)

func (o Origin) String() string {
	switch o {
	case OriginCommand:
		return "command"
	case OriginTimer:
		return "timer"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// TaskResult is what a worker hands back to the loop.
type TaskResult struct {
	Origin Origin
	Events []calendar.NormalizedEvent
	Err    error
}

// Reauthorizer forces a new consent flow.
type Reauthorizer func(ctx context.Context) error

// ErrUnknownCommand is returned by HandleCommand for input it does not understand.
var ErrUnknownCommand = errors.New("unknown command")

// Options configures a Scheduler.
type Options struct {
	FetchTimeout  time.Duration
	PollInterval  time.Duration
	NotifyEnabled bool
	Formatter     agenda.Formatter
	Thresholds    agenda.ThresholdSet
	Reauthorize   Reauthorizer

	// OnRender, when set, is called on the loop goroutine after each render.
	OnRender func(TaskResult)
}

type request struct {
	origin Origin
	reauth bool
}

// Scheduler owns the buffer. Fetches run on worker goroutines and their
// results are rendered on the single goroutine running Run, so the buffer is
// never written concurrently. At most one run is in flight; triggers that
// arrive meanwhile are dropped.
type Scheduler struct {
	fetch    FetchFunc
	buffer   Buffer
	opts     Options
	notifier *agenda.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	requests chan request
	results  chan TaskResult
	inFlight bool
}

// New creates a Scheduler. Zero durations in opts take the defaults.
func New(fetch FetchFunc, buffer Buffer, opts Options, logger zerolog.Logger) *Scheduler {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Thresholds == nil {
		opts.Thresholds = agenda.NewThresholdSet(agenda.DefaultThresholds...)
	}

	notifier := agenda.NewNotifier(opts.Thresholds)
	notifier.Location = opts.Formatter.Location

	return &Scheduler{
		fetch:    fetch,
		buffer:   buffer,
		opts:     opts,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		requests: make(chan request, 8),
		results:  make(chan TaskResult, 1),
	}
}

// Trigger asks the loop for a run. It never blocks.
func (s *Scheduler) Trigger(origin Origin) {
	s.enqueue(request{origin: origin})
}

// TriggerReauthorize asks the loop to run the consent flow and then refresh.
func (s *Scheduler) TriggerReauthorize() {
	s.enqueue(request{origin: OriginCommand, reauth: true})
}

func (s *Scheduler) enqueue(req request) {
	select {
	case s.requests <- req:
	default:
		s.logger.Debug().Str("origin", req.origin.String()).Msg("trigger queue full, dropping")
	}
}

// HandleCommand interprets a line of user input: "gcal" refreshes and
// "gcal init" re-runs authorization. A leading slash is accepted.
func (s *Scheduler) HandleCommand(line string) error {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 || fields[0] != "gcal" {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}

	switch {
	case len(fields) == 1:
		s.Trigger(OriginCommand)
	case len(fields) == 2 && fields[1] == "init":
		if s.opts.Reauthorize == nil {
			return errors.New("re-authorization is not available for this source")
		}
		s.TriggerReauthorize()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}
	return nil
}

// Run starts the periodic trigger and serves requests until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(cronSpec(s.opts.PollInterval), func() { s.Trigger(OriginTimer) }); err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	s.logger.Info().Dur("interval", s.opts.PollInterval).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return nil

		case req := <-s.requests:
			if s.inFlight {
				s.logger.Debug().Str("origin", req.origin.String()).Msg("run already in flight, dropping trigger")
				continue
			}
			s.inFlight = true
			go func() {
				s.results <- s.execute(ctx, req)
			}()

		case res := <-s.results:
			s.inFlight = false
			s.render(res)
		}
	}
}

// cronSpec aligns the default one-minute period to the top of the minute, so
// minutes-until values computed for on-the-minute events are whole.
func cronSpec(interval time.Duration) string {
	if interval == time.Minute {
		return "* * * * *"
	}
	return fmt.Sprintf("@every %s", interval)
}

// RunOnce performs a single run synchronously and renders it.
func (s *Scheduler) RunOnce(ctx context.Context, origin Origin) TaskResult {
	res := s.execute(ctx, request{origin: origin})
	s.render(res)
	return res
}

func (s *Scheduler) execute(parent context.Context, req request) TaskResult {
	if req.reauth {
		// The consent flow waits on the user, so it gets no fetch deadline.
		if err := s.opts.Reauthorize(parent); err != nil {
			return TaskResult{Origin: req.origin, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(parent, s.opts.FetchTimeout)
	defer cancel()

	done := make(chan TaskResult, 1)
	go func() {
		events, err := s.fetch(ctx)
		done <- TaskResult{Origin: req.origin, Events: events, Err: err}
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return TaskResult{Origin: req.origin, Err: &calendar.FetchError{Op: "worker", Err: ctx.Err()}}
	}
}

func (s *Scheduler) render(res TaskResult) {
	defer func() {
		if s.opts.OnRender != nil {
			s.opts.OnRender(res)
		}
	}()

	s.buffer.Clear()

	if res.Err != nil {
		s.logger.Error().Err(res.Err).Str("origin", res.Origin.String()).Msg("fetch failed")
		s.buffer.Print("Error: " + res.Err.Error())
		return
	}

	lines, errs := s.opts.Formatter.Format(res.Events)
	for _, line := range lines {
		s.buffer.Print(line)
	}
	for _, err := range errs {
		s.logger.Warn().Err(err).Msg("skipping event")
		s.buffer.Print("Error: " + err.Error())
	}

	if res.Origin != OriginTimer || !s.opts.NotifyEnabled {
		return
	}
	for _, n := range s.notifier.Evaluate(res.Events, s.now()) {
		s.logger.Info().Str("event", n.EventKey).Int("minutes", n.MinutesRemaining).Msg("notifying")
		s.buffer.Highlight(n.String())
	}
}
