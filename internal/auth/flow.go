package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/oauth2"
)

// LocalServerFlow is the installed-app consent flow: it listens on a loopback
// port, sends the user to the consent page and waits for the redirect.
type LocalServerFlow struct {
	Out         io.Writer
	OpenBrowser func(url string) error // nil disables launching a browser
	Timeout     time.Duration          // zero means 5 minutes
}

// NewLocalServerFlow returns a flow that prints to out and tries to open the
// system browser.
func NewLocalServerFlow(out io.Writer) *LocalServerFlow {
	return &LocalServerFlow{Out: out, OpenBrowser: openBrowser}
}

type callbackResult struct {
	code string
	err  error
}

// startLocalServer starts a local HTTP server to receive the OAuth callback.
// Returns the redirect URL, a channel for the result and a shutdown function.
func startLocalServer(state string) (string, <-chan callbackResult, func(), error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to start local server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	results := make(chan callbackResult, 1)
	deliver := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if errMsg := q.Get("error"); errMsg != "" {
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", errMsg)
			deliver(callbackResult{err: fmt.Errorf("authorization error: %s", errMsg)})
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("state mismatch in authorization redirect")})
			return
		}
		code := q.Get("code")
		if code == "" {
			fmt.Fprintf(w, "<html><body><h1>No authorization code received</h1></body></html>")
			deliver(callbackResult{err: errors.New("no authorization code received")})
			return
		}
		fmt.Fprintf(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
		deliver(callbackResult{code: code})
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			deliver(callbackResult{err: fmt.Errorf("server error: %w", err)})
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}

	return redirectURL, results, shutdown, nil
}

// Authorize implements Authorizer.
func (f *LocalServerFlow) Authorize(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error) {
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	redirectURL, results, shutdown, err := startLocalServer(state)
	if err != nil {
		return nil, err
	}
	defer shutdown()

	// The redirect URL depends on the port we got, so work on a copy.
	cfg := *oauthConfig
	cfg.RedirectURL = redirectURL

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	out := f.Out
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "Waiting for authorization on %s\n", redirectURL)
	fmt.Fprintln(out, "Please visit the following URL to authorize gcal-notify:")
	fmt.Fprintln(out, authURL)
	if f.OpenBrowser != nil {
		if err := f.OpenBrowser(authURL); err != nil {
			fmt.Fprintf(out, "Could not open a browser (%v), open the URL manually.\n", err)
		}
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var code string
	select {
	case r := <-results:
		if r.err != nil {
			return nil, fmt.Errorf("failed to receive authorization code: %w", r.err)
		}
		code = r.code
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("authorization timeout: no response received within %v", timeout)
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	return token, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return fmt.Errorf("unsupported platform")
	}
}
