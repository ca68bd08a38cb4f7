package calendar

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// newFakeCalendarAPI serves the events.list endpoint and records the last query.
func newFakeCalendarAPI(t *testing.T, status int, body string) (*httptest.Server, *url.URL) {
	t.Helper()
	last := &url.URL{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*last = *r.URL
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, last
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), server.Client(), option.WithEndpoint(server.URL+"/"))
	if err != nil {
		t.Fatalf("NewClient() returned an error: %v", err)
	}
	return client
}

func TestClient_ListEvents_QueryParameters(t *testing.T) {
	server, last := newFakeCalendarAPI(t, http.StatusOK, `{"items": [
		{"id": "a", "summary": "Standup", "start": {"dateTime": "2024-01-01T09:00:00Z"}},
		{"id": "b", "summary": "Holiday", "start": {"date": "2024-01-02"}}
	]}`)
	client := newTestClient(t, server)

	timeMin := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)
	timeMax := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	events, err := client.ListEvents(context.Background(), "primary", timeMin, timeMax, 50)
	if err != nil {
		t.Fatalf("ListEvents() returned an error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if last.Path != "/calendars/primary/events" {
		t.Errorf("Expected events.list path, got '%s'", last.Path)
	}

	q := last.Query()
	expected := map[string]string{
		"singleEvents": "true",
		"orderBy":      "startTime",
		"maxResults":   "50",
		"timeMin":      "2024-01-01T08:30:00Z",
		"timeMax":      "2024-01-03T00:00:00Z",
	}
	for key, want := range expected {
		if got := q.Get(key); got != want {
			t.Errorf("Expected %s=%s, got '%s'", key, want, got)
		}
	}
}

func TestFetcher_GoogleQuotaError(t *testing.T) {
	server, _ := newFakeCalendarAPI(t, http.StatusForbidden, `{"error": {"code": 403, "message": "Rate Limit Exceeded"}}`)

	fetcher := NewFetcher(GoogleClientFactory(func(ctx context.Context) (*http.Client, error) {
		return server.Client(), nil
	}, option.WithEndpoint(server.URL+"/")), zerolog.Nop())

	_, err := fetcher.FetchUpcoming(context.Background(), FetchOptions{})

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fetchErr.StatusCode() != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", fetchErr.StatusCode())
	}
	if fetchErr.Timeout() {
		t.Error("Quota error should not be reported as a timeout")
	}
}

func TestGoogleClientFactory_CredentialFailure(t *testing.T) {
	authErr := errors.New("no token")
	fetcher := NewFetcher(GoogleClientFactory(func(ctx context.Context) (*http.Client, error) {
		return nil, authErr
	}), zerolog.Nop())

	_, err := fetcher.FetchUpcoming(context.Background(), FetchOptions{})

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Op != "authorize" {
		t.Fatalf("Expected authorize FetchError, got %v", err)
	}
	if !errors.Is(err, authErr) {
		t.Error("Expected the credential error to stay in the chain")
	}
}
