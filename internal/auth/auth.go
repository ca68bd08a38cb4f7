package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// AuthError reports a failed refresh or interactive authorization.
type AuthError struct {
	Op  string // "refresh", "authorize" or "save"
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Authorizer runs an interactive consent flow and returns a fresh token.
type Authorizer interface {
	Authorize(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error)
}

// CredentialCache owns the cached token blob. It hands out live tokens and
// decides between reuse, refresh and a new interactive authorization.
type CredentialCache struct {
	oauthConfig *oauth2.Config
	store       TokenStore
	authorizer  Authorizer
	logger      zerolog.Logger
}

// NewCredentialCache creates a CredentialCache.
func NewCredentialCache(oauthConfig *oauth2.Config, store TokenStore, authorizer Authorizer, logger zerolog.Logger) *CredentialCache {
	return &CredentialCache{
		oauthConfig: oauthConfig,
		store:       store,
		authorizer:  authorizer,
		logger:      logger,
	}
}

// Obtain returns a valid token. A cached valid token is returned as is; an
// expired token with a refresh token is refreshed; anything else goes through
// the interactive flow. The blob is rewritten whenever the token changed.
func (c *CredentialCache) Obtain(ctx context.Context) (*oauth2.Token, error) {
	token, err := c.store.LoadToken()
	if err != nil {
		c.logger.Warn().Err(err).Msg("ignoring unreadable cached token")
		token = nil
	}

	if token != nil && token.Valid() {
		return token, nil
	}

	if token != nil && token.RefreshToken != "" {
		c.logger.Debug().Time("expiry", token.Expiry).Msg("refreshing expired token")
		refreshed, err := c.oauthConfig.TokenSource(ctx, token).Token()
		if err != nil {
			return nil, &AuthError{Op: "refresh", Err: err}
		}
		if err := c.save(refreshed); err != nil {
			return nil, err
		}
		return refreshed, nil
	}

	return c.Reauthorize(ctx)
}

// Reauthorize always runs the interactive flow and overwrites the cached blob.
func (c *CredentialCache) Reauthorize(ctx context.Context) (*oauth2.Token, error) {
	if c.authorizer == nil {
		return nil, &AuthError{Op: "authorize", Err: fmt.Errorf("no interactive authorizer configured")}
	}

	token, err := c.authorizer.Authorize(ctx, c.oauthConfig)
	if err != nil {
		return nil, &AuthError{Op: "authorize", Err: err}
	}
	if err := c.save(token); err != nil {
		return nil, err
	}

	c.logger.Info().Msg("authorization successful")
	return token, nil
}

// Client returns an HTTP client authorized with the obtained token. Refreshes
// that happen during the client's lifetime are written back to the store.
func (c *CredentialCache) Client(ctx context.Context) (*http.Client, error) {
	token, err := c.Obtain(ctx)
	if err != nil {
		return nil, err
	}

	autoSaveSource := &autoSaveTokenSource{
		source:     oauth2.ReuseTokenSource(token, c.oauthConfig.TokenSource(ctx, token)),
		tokenStore: c.store,
		lastToken:  token,
	}

	return oauth2.NewClient(ctx, autoSaveSource), nil
}

func (c *CredentialCache) save(token *oauth2.Token) error {
	if err := c.store.SaveToken(token); err != nil {
		return &AuthError{Op: "save", Err: err}
	}
	return nil
}

// autoSaveTokenSource wraps an oauth2.TokenSource and automatically saves refreshed tokens.
type autoSaveTokenSource struct {
	source     oauth2.TokenSource
	tokenStore TokenStore
	lastToken  *oauth2.Token
}

// Token implements oauth2.TokenSource and saves the token if it was refreshed.
func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}

	return token, nil
}
