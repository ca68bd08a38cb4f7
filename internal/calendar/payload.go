package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// errorPayload is the worker's JSON answer when a fetch failed.
type errorPayload struct {
	Error   string `json:"error"`
	Timeout bool   `json:"timeout,omitempty"`
}

// EncodePayload renders a fetch outcome for the process boundary: a JSON
// array of events on success, or an error object on failure.
func EncodePayload(events []NormalizedEvent, fetchErr error) ([]byte, error) {
	if fetchErr != nil {
		p := errorPayload{Error: fetchErr.Error()}
		var fe *FetchError
		if errors.As(fetchErr, &fe) {
			p.Timeout = fe.Timeout()
		}
		return json.Marshal(p)
	}

	if events == nil {
		events = []NormalizedEvent{}
	}
	return json.Marshal(events)
}

// DecodePayload parses a worker payload. Anything that is not a JSON array is
// an error; error objects come back as *FetchError.
func DecodePayload(data []byte) ([]NormalizedEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &FetchError{Op: "worker", Err: errors.New("empty payload")}
	}

	if trimmed[0] != '[' {
		var p errorPayload
		if err := json.Unmarshal(trimmed, &p); err == nil && p.Error != "" {
			remote := errors.New(p.Error)
			if p.Timeout {
				remote = fmt.Errorf("%w: %s", context.DeadlineExceeded, p.Error)
			}
			return nil, &FetchError{Op: "worker", Err: remote}
		}
		return nil, &FetchError{Op: "worker", Err: fmt.Errorf("unexpected payload: %.80s", trimmed)}
	}

	var events []NormalizedEvent
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, &FetchError{Op: "worker", Err: fmt.Errorf("failed to parse payload: %w", err)}
	}
	return events, nil
}
