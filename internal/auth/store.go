package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// TokenFile is the name of the cached credential blob inside the cache directory.
const TokenFile = "weechat-gcal-token.json"

// TokenStore persists the credential blob between runs.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

// CacheFile keeps the token as JSON in a single file. Writes go through a
// temporary file in the same directory and a rename, so a reader (or a
// fetch worker killed mid-save) sees either the old blob or the new one.
type CacheFile struct {
	Path string
}

// OpenCacheFile creates cacheDir with owner-only permissions if needed and
// returns the token file inside it.
func OpenCacheFile(cacheDir string) (*CacheFile, error) {
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &CacheFile{Path: filepath.Join(cacheDir, TokenFile)}, nil
}

// SaveToken replaces the cached blob.
func (c *CacheFile) SaveToken(token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.Path), "."+TokenFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	committed = true
	return nil
}

// LoadToken returns the cached blob, or nil when nothing is cached. An empty
// file counts as nothing cached; any other undecodable content is an error.
func (c *CacheFile) LoadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	token := &oauth2.Token{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, fmt.Errorf("failed to decode token file %s: %w", c.Path, err)
	}
	return token, nil
}
