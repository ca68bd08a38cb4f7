package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// DefaultMaxCount is the result cap used when FetchOptions leaves it unset.
const DefaultMaxCount = 50

// NormalizedEvent is the display shape of an event. Date is either an
// RFC 3339 date-time or a YYYY-MM-DD date for all-day events.
type NormalizedEvent struct {
	ID      string `json:"id,omitempty"`
	Date    string `json:"date"`
	Summary string `json:"summary"`
}

// FetchError wraps every failure of a fetch: authorization, transport, quota
// and timeouts.
type FetchError struct {
	Op  string // "authorize", "list" or "worker"
	Err error
}

func (e *FetchError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("fetch %s: timed out", e.Op)
	}
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the fetch was cut off by its deadline.
func (e *FetchError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// StatusCode returns the HTTP status of a Google API error, or 0.
func (e *FetchError) StatusCode() int {
	var apiErr *googleapi.Error
	if errors.As(e.Err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// Window is the half-open time range a fetch covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow runs from now to 00:00 UTC days calendar days after today
// (UTC), which covers the rest of today and the following days-1 days.
func DefaultWindow(now time.Time, days int) Window {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: now, End: today.AddDate(0, 0, days)}
}

// FetchOptions controls a single fetch. A zero window means
// DefaultWindow(now, WindowDays), with WindowDays defaulting to 2.
type FetchOptions struct {
	CalendarID  string
	MaxCount    int
	WindowDays  int
	WindowStart time.Time
	WindowEnd   time.Time
}

// Fetcher retrieves upcoming events and normalizes them.
type Fetcher struct {
	clients ClientFactory
	now     func() time.Time
	logger  zerolog.Logger
}

// NewFetcher creates a Fetcher that gets a fresh client from clients on every call.
func NewFetcher(clients ClientFactory, logger zerolog.Logger) *Fetcher {
	return &Fetcher{clients: clients, now: time.Now, logger: logger}
}

// FetchUpcoming issues one list call for the window and returns the
// normalized events in start-time order. All failures come back as *FetchError.
func (f *Fetcher) FetchUpcoming(ctx context.Context, opts FetchOptions) ([]NormalizedEvent, error) {
	window := f.window(opts)
	calendarID := opts.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	maxCount := opts.MaxCount
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}

	client, err := f.clients(ctx)
	if err != nil {
		return nil, &FetchError{Op: "authorize", Err: contextErr(ctx, err)}
	}

	f.logger.Debug().
		Str("calendar", calendarID).
		Time("from", window.Start).
		Time("to", window.End).
		Int("max", maxCount).
		Msg("listing events")

	raw, err := client.ListEvents(ctx, calendarID, window.Start, window.End, int64(maxCount))
	if err != nil {
		return nil, &FetchError{Op: "list", Err: contextErr(ctx, err)}
	}

	events := make([]NormalizedEvent, 0, len(raw))
	for _, ev := range raw {
		normalized, ok := Normalize(ev)
		if !ok {
			f.logger.Warn().Str("event_id", ev.Id).Msg("skipping event without start")
			continue
		}
		events = append(events, normalized)
	}

	return events, nil
}

func (f *Fetcher) window(opts FetchOptions) Window {
	days := opts.WindowDays
	if days <= 0 {
		days = 2
	}
	def := DefaultWindow(f.now(), days)
	w := Window{Start: opts.WindowStart, End: opts.WindowEnd}
	if w.Start.IsZero() {
		w.Start = def.Start
	}
	if w.End.IsZero() {
		w.End = def.End
	}
	return w
}

// contextErr keeps the context's error in the chain when the fetch was
// cancelled, so callers can tell a timeout from a transport failure.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// Normalize maps a raw event to its display shape. The timed start wins over
// the all-day date; a missing summary becomes "". It reports false when the
// event has no start at all.
func Normalize(ev *calendar.Event) (NormalizedEvent, bool) {
	if ev == nil || ev.Start == nil {
		return NormalizedEvent{}, false
	}

	date := ev.Start.DateTime
	if date == "" {
		date = ev.Start.Date
	}
	if date == "" {
		return NormalizedEvent{}, false
	}

	return NormalizedEvent{ID: ev.Id, Date: date, Summary: ev.Summary}, true
}
