package calendar

import (
	"context"
	"time"

	"google.golang.org/api/calendar/v3"
)

// CalendarClient is a generic interface for reading events.
// Both the Google Calendar and ICS feed clients implement this interface.
type CalendarClient interface {
	// ListEvents returns single instances overlapping [timeMin, timeMax),
	// ordered by start time and capped at maxResults.
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time, maxResults int64) ([]*calendar.Event, error)
}

// ClientFactory builds a client for one fetch. Credentials are obtained anew on
// every call so a refreshed or re-authorized token is picked up.
type ClientFactory func(ctx context.Context) (CalendarClient, error)
