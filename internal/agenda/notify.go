package agenda

import (
	"fmt"
	"math"
	"time"

	"github.com/beekhof/gcal-notify/internal/calendar"
)

// DefaultThresholds are the reminder marks, in minutes before start.
var DefaultThresholds = []int{5, 15}

// ThresholdSet is the set of minute marks at which reminders fire.
type ThresholdSet map[int]struct{}

// NewThresholdSet builds a set from a list of minutes.
func NewThresholdSet(minutes ...int) ThresholdSet {
	set := make(ThresholdSet, len(minutes))
	for _, m := range minutes {
		set[m] = struct{}{}
	}
	return set
}

// Contains reports whether m is a threshold.
func (s ThresholdSet) Contains(m int) bool {
	_, ok := s[m]
	return ok
}

// Notification is a reminder for an event starting in MinutesRemaining minutes.
type Notification struct {
	MinutesRemaining int
	Summary          string
	EventKey         string
	Start            time.Time
}

// String renders the reminder line, e.g. "[5m] Standup".
func (n Notification) String() string {
	return fmt.Sprintf("[%dm] %s", n.MinutesRemaining, n.Summary)
}

// EventKey identifies an event across fetches: its id when the source gave
// one, otherwise its date and summary.
func EventKey(ev calendar.NormalizedEvent) string {
	if ev.ID != "" {
		return ev.ID
	}
	return ev.Date + "|" + ev.Summary
}

// MinutesUntil is the number of started minutes between now and start.
func MinutesUntil(start, now time.Time) int {
	return int(math.Ceil(start.Sub(now).Seconds() / 60))
}

// Evaluate returns a notification for every timed event whose minutes until
// start is exactly a threshold. All-day and unparsable events are skipped.
// Date-times without an offset are read as UTC.
func Evaluate(events []calendar.NormalizedEvent, now time.Time, thresholds ThresholdSet) []Notification {
	return EvaluateIn(events, now, thresholds, nil)
}

// EvaluateIn is Evaluate with date-times without an offset read in loc, the
// zone the Formatter displays them in.
func EvaluateIn(events []calendar.NormalizedEvent, now time.Time, thresholds ThresholdSet, loc *time.Location) []Notification {
	var out []Notification
	for _, ev := range events {
		start, allDay, err := ParseEventDate(ev.Date, loc)
		if err != nil || allDay {
			continue
		}

		minutes := MinutesUntil(start, now)
		if !thresholds.Contains(minutes) {
			continue
		}
		out = append(out, Notification{
			MinutesRemaining: minutes,
			Summary:          ev.Summary,
			EventKey:         EventKey(ev),
			Start:            start,
		})
	}
	return out
}

type dedupKey struct {
	event     string
	threshold int
}

// Notifier evaluates events and suppresses a reminder already sent for the
// same event and threshold. Entries are forgotten once the event has started.
// A Notifier is not safe for concurrent use.
type Notifier struct {
	// Location reads date-times without an offset; nil means UTC.
	Location *time.Location

	thresholds ThresholdSet
	sent       map[dedupKey]time.Time
}

// NewNotifier creates a Notifier for the given thresholds.
func NewNotifier(thresholds ThresholdSet) *Notifier {
	return &Notifier{thresholds: thresholds, sent: make(map[dedupKey]time.Time)}
}

// Evaluate returns the reminders due at now that have not been sent yet.
func (n *Notifier) Evaluate(events []calendar.NormalizedEvent, now time.Time) []Notification {
	for key, start := range n.sent {
		if !start.After(now) {
			delete(n.sent, key)
		}
	}

	var out []Notification
	for _, notification := range EvaluateIn(events, now, n.thresholds, n.Location) {
		key := dedupKey{event: notification.EventKey, threshold: notification.MinutesRemaining}
		if _, seen := n.sent[key]; seen {
			continue
		}
		n.sent[key] = notification.Start
		out = append(out, notification)
	}
	return out
}

// Pending returns the number of remembered (event, threshold) pairs.
func (n *Notifier) Pending() int {
	return len(n.sent)
}
