// Package agenda turns normalized events into buffer lines and reminders.
package agenda

import (
	"fmt"
	"time"

	"github.com/beekhof/gcal-notify/internal/calendar"
)

// NoEventsLine is rendered when there is nothing upcoming.
const NoEventsLine = "No events for now. YAY!!!"

const (
	dateLayout  = "2006-01-02"
	labelLayout = "Mon 2006-01-02"
)

// FormatError reports an event whose date could not be parsed. The event is
// skipped; the rest of the agenda is still rendered.
type FormatError struct {
	Event calendar.NormalizedEvent
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed date %q for %q: %v", e.Event.Date, e.Event.Summary, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ParseEventDate parses a normalized date. Date-only values are all-day and
// are interpreted in loc; RFC 3339 values keep their instant and offset.
// Date-times without an offset are read in loc. A nil loc means UTC.
func ParseEventDate(s string, loc *time.Location) (t time.Time, allDay bool, err error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, true, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err = time.ParseInLocation("2006-01-02T15:04:05", s, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, false, nil
}

// Formatter renders events grouped by day.
type Formatter struct {
	TimeFormat string         // layout for the time column, default "15:04"
	Location   *time.Location // display zone; nil keeps each event's own offset
}

type bucket struct {
	label string
	lines []string
}

// Format returns a header line per day followed by one line per event, with
// days in the order first seen. Unparsable events are skipped and returned as
// *FormatError values.
func (f Formatter) Format(events []calendar.NormalizedEvent) ([]string, []error) {
	timeFormat := f.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04"
	}

	var (
		buckets []*bucket
		index   = make(map[string]*bucket)
		errs    []error
	)
	for _, ev := range events {
		t, allDay, err := ParseEventDate(ev.Date, f.Location)
		if err != nil {
			errs = append(errs, &FormatError{Event: ev, Err: err})
			continue
		}
		if !allDay && f.Location != nil {
			t = t.In(f.Location)
		}

		label := t.Format(labelLayout)
		b, ok := index[label]
		if !ok {
			b = &bucket{label: label}
			index[label] = b
			buckets = append(buckets, b)
		}

		timeStr := ""
		if !allDay {
			timeStr = t.Format(timeFormat)
		}
		b.lines = append(b.lines, timeStr+" "+ev.Summary)
	}

	if len(buckets) == 0 {
		return []string{NoEventsLine}, errs
	}

	var lines []string
	for _, b := range buckets {
		lines = append(lines, b.label)
		lines = append(lines, b.lines...)
	}
	return lines, errs
}
