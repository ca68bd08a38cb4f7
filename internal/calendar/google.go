package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Client is a wrapper around the Google Calendar API service.
type Client struct {
	service *calendar.Service
}

// NewClient creates a new Google Calendar API client using the provided HTTP client.
// Extra options (for example option.WithEndpoint) are passed to the service.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{service: service}, nil
}

// GoogleClientFactory returns a ClientFactory that asks httpClient for an
// authorized HTTP client on every fetch.
func GoogleClientFactory(httpClient func(ctx context.Context) (*http.Client, error), opts ...option.ClientOption) ClientFactory {
	return func(ctx context.Context) (CalendarClient, error) {
		hc, err := httpClient(ctx)
		if err != nil {
			return nil, err
		}
		return NewClient(ctx, hc, opts...)
	}
}

// ListEvents retrieves events from a calendar within the specified time window.
// Recurring events are expanded (singleEvents) so ordering by start time is allowed.
func (c *Client) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time, maxResults int64) ([]*calendar.Event, error) {
	eventsList, err := c.service.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return eventsList.Items, nil
}
