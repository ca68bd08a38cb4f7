package calendar

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestPayload_RoundTrip(t *testing.T) {
	events := []NormalizedEvent{
		{Date: "2024-01-01T09:00:00Z", Summary: "Standup"},
		{ID: "evt-2", Date: "2024-01-02", Summary: "Holiday \"party\""},
	}

	data, err := EncodePayload(events, nil)
	if err != nil {
		t.Fatalf("EncodePayload() returned an error: %v", err)
	}
	decoded, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("DecodePayload() returned an error: %v", err)
	}

	if len(decoded) != len(events) {
		t.Fatalf("Expected %d events, got %d", len(events), len(decoded))
	}
	for i := range events {
		if decoded[i] != events[i] {
			t.Errorf("Event %d: expected %+v, got %+v", i, events[i], decoded[i])
		}
	}
}

func TestEncodePayload_WireShape(t *testing.T) {
	data, err := EncodePayload([]NormalizedEvent{{Date: "2024-01-01", Summary: "Off"}}, nil)
	if err != nil {
		t.Fatalf("EncodePayload() returned an error: %v", err)
	}
	if string(data) != `[{"date":"2024-01-01","summary":"Off"}]` {
		t.Errorf("Unexpected payload %s", data)
	}

	data, err = EncodePayload(nil, nil)
	if err != nil || string(data) != "[]" {
		t.Errorf("Expected empty array for no events, got %s (err %v)", data, err)
	}
}

func TestPayload_ErrorObject(t *testing.T) {
	data, err := EncodePayload(nil, &FetchError{Op: "list", Err: errors.New("quota exceeded")})
	if err != nil {
		t.Fatalf("EncodePayload() returned an error: %v", err)
	}

	_, err = DecodePayload(data)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fetchErr.Timeout() {
		t.Error("Quota error should not decode as a timeout")
	}
}

func TestPayload_TimeoutSurvivesBoundary(t *testing.T) {
	timeoutErr := &FetchError{Op: "list", Err: fmt.Errorf("%w: slow", context.DeadlineExceeded)}
	data, err := EncodePayload(nil, timeoutErr)
	if err != nil {
		t.Fatalf("EncodePayload() returned an error: %v", err)
	}

	_, err = DecodePayload(data)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || !fetchErr.Timeout() {
		t.Fatalf("Expected timeout FetchError, got %v", err)
	}
}

func TestDecodePayload_NonArrayIsError(t *testing.T) {
	for _, payload := range []string{"", "null", `"boom"`, `{"date":"2024-01-01","summary":"x"}`, "[{]"} {
		if _, err := DecodePayload([]byte(payload)); err == nil {
			t.Errorf("DecodePayload(%q) should fail", payload)
		}
	}
}
