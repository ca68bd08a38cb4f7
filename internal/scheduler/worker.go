package scheduler

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/beekhof/gcal-notify/internal/calendar"
)

// FetchFunc performs one bounded fetch. It runs on a worker goroutine, never
// on the loop.
type FetchFunc func(ctx context.Context) ([]calendar.NormalizedEvent, error)

// InProcess adapts a Fetcher to a FetchFunc.
func InProcess(fetcher *calendar.Fetcher, opts calendar.FetchOptions) FetchFunc {
	return func(ctx context.Context) ([]calendar.NormalizedEvent, error) {
		return fetcher.FetchUpcoming(ctx, opts)
	}
}

// ProcessWorker runs the fetch in a child process that prints the JSON
// payload on stdout ("gcal-notify fetch"). The process is killed when the
// context expires.
type ProcessWorker struct {
	Path string
	Args []string
	Env  []string // appended to the parent environment when set
}

// Fetch implements FetchFunc.
func (w ProcessWorker) Fetch(ctx context.Context) ([]calendar.NormalizedEvent, error) {
	cmd := exec.CommandContext(ctx, w.Path, w.Args...)
	if len(w.Env) > 0 {
		cmd.Env = append(cmd.Environ(), w.Env...)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &calendar.FetchError{Op: "worker", Err: ctxErr}
	}
	if runErr != nil && stdout.Len() == 0 {
		return nil, &calendar.FetchError{Op: "worker", Err: runErr}
	}

	return calendar.DecodePayload(stdout.Bytes())
}
