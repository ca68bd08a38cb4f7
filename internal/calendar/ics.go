package calendar

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/emersion/go-ical"
	"google.golang.org/api/calendar/v3"
)

// ICSClient reads events from an iCalendar feed (for example a calendar's
// "secret address in iCal format"). The feed is filtered, ordered and capped
// locally so it behaves like the Google client.
type ICSClient struct {
	httpClient *http.Client
	feedURL    string
}

// NewICSClient creates a client for the feed at feedURL. A nil httpClient
// gets a client with a 30 second timeout.
func NewICSClient(feedURL string, httpClient *http.Client) *ICSClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ICSClient{httpClient: httpClient, feedURL: feedURL}
}

// ICSClientFactory returns a ClientFactory that always hands out client.
func ICSClientFactory(client *ICSClient) ClientFactory {
	return func(ctx context.Context) (CalendarClient, error) {
		return client, nil
	}
}

type icsInstance struct {
	event *calendar.Event
	start time.Time
}

// ListEvents downloads the feed and returns the instances overlapping the window.
// calendarID is ignored; a feed is a single calendar.
func (c *ICSClient) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time, maxResults int64) ([]*calendar.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download feed: HTTP %d", resp.StatusCode)
	}

	icalCal, err := ical.NewDecoder(resp.Body).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse iCalendar: %w", err)
	}

	var instances []icsInstance
	for _, comp := range icalCal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		instances = append(instances, expandVEvent(comp, timeMin, timeMax)...)
	}

	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].start.Before(instances[j].start)
	})
	if maxResults > 0 && int64(len(instances)) > maxResults {
		instances = instances[:maxResults]
	}

	events := make([]*calendar.Event, len(instances))
	for i, inst := range instances {
		events[i] = inst.event
	}
	return events, nil
}

// expandVEvent returns the instances of one VEVENT that overlap the window.
// Components with an unparsable DTSTART are dropped.
func expandVEvent(vevent *ical.Component, timeMin, timeMax time.Time) []icsInstance {
	dtstart := vevent.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil
	}
	start, err := dtstart.DateTime(time.UTC)
	if err != nil {
		return nil
	}
	allDay := dtstart.Params.Get("VALUE") == string(ical.ValueDate)

	duration := time.Duration(0)
	if dtend := vevent.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		if end, err := dtend.DateTime(time.UTC); err == nil && end.After(start) {
			duration = end.Sub(start)
		}
	}
	if allDay && duration == 0 {
		duration = 24 * time.Hour
	}

	uid := ""
	if prop := vevent.Props.Get(ical.PropUID); prop != nil {
		uid = prop.Value
	}
	summary := ""
	if prop := vevent.Props.Get(ical.PropSummary); prop != nil {
		if text, err := prop.Text(); err == nil {
			summary = text
		}
	}

	starts := []time.Time{start}
	recurring := false
	if set, err := vevent.RecurrenceSet(time.UTC); err == nil && set != nil {
		// Widen the lower bound by the duration so instances already in progress are kept.
		starts = set.Between(timeMin.Add(-duration), timeMax, true)
		recurring = true
	}

	var out []icsInstance
	for _, s := range starts {
		if !overlaps(s, s.Add(duration), timeMin, timeMax) {
			continue
		}

		ev := &calendar.Event{Id: uid, Summary: summary, Start: &calendar.EventDateTime{}}
		if recurring {
			ev.Id = uid + "_" + s.UTC().Format("20060102T150405Z")
			ev.RecurringEventId = uid
		}
		if allDay {
			ev.Start.Date = s.Format("2006-01-02")
		} else {
			ev.Start.DateTime = s.Format(time.RFC3339)
		}
		out = append(out, icsInstance{event: ev, start: s})
	}
	return out
}

// overlaps reports whether [start, end) intersects [timeMin, timeMax). A
// zero-length instance counts when its start lies inside the window.
func overlaps(start, end, timeMin, timeMax time.Time) bool {
	if !start.Before(timeMax) {
		return false
	}
	if end.Equal(start) {
		return !start.Before(timeMin)
	}
	return end.After(timeMin)
}
