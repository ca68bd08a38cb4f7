package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"gopkg.in/yaml.v3"
)

const (
	// ClientSecretFile is the name looked up in the working and home directories.
	ClientSecretFile = "credentials.json"

	// CacheDirName is the directory under the user cache dir holding the token blob.
	CacheDirName = "weechat-gcal"

	SourceGoogle = "google"
	SourceICS    = "ics"
)

// ConfigurationError reports a missing or unusable setting, most commonly an
// absent client-secret file.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Config holds the configuration for gcal-notify.
type Config struct {
	CredentialsPath string `yaml:"credentials_path,omitempty"` // OAuth client registration (credentials.json)
	CacheDir        string `yaml:"cache_dir,omitempty"`        // Directory holding the cached token

	Source     string `yaml:"source,omitempty"`      // "google" or "ics"
	CalendarID string `yaml:"calendar_id,omitempty"` // Google calendar to read (default: "primary")
	ICSURL     string `yaml:"ics_url,omitempty"`     // Feed URL when source is "ics"
	MaxResults int    `yaml:"max_results,omitempty"` // Result cap per fetch (default: 50)
	WindowDays int    `yaml:"window_days,omitempty"` // Days ahead of today covered by a fetch (default: 2)

	PollInterval time.Duration `yaml:"poll_interval,omitempty"` // Periodic trigger interval (default: 60s)
	FetchTimeout time.Duration `yaml:"fetch_timeout,omitempty"` // Bound on a single fetch (default: 3s)

	NotifyEnabled    *bool  `yaml:"notify_enabled,omitempty"`
	NotifyThresholds []int  `yaml:"notify_thresholds,omitempty"` // Minutes before start (default: [5, 15])
	TimeFormat       string `yaml:"time_format,omitempty"`       // Go layout for the time column (default: "15:04")
	Timezone         string `yaml:"timezone,omitempty"`          // IANA zone, "UTC" or "Local" (default: each event's own offset)
}

// Flags carries command-line overrides. Zero values mean "not set".
type Flags struct {
	CredentialsPath  string
	CacheDir         string
	Source           string
	CalendarID       string
	ICSURL           string
	Timezone         string
	NotifyThresholds []int
	PollInterval     time.Duration
	FetchTimeout     time.Duration
}

// NotificationsEnabled reports whether timer runs may emit reminders.
func (c *Config) NotificationsEnabled() bool {
	return c.NotifyEnabled == nil || *c.NotifyEnabled
}

// Location resolves the display timezone. An unset timezone returns nil:
// events are then shown in the offset the source gave them.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "":
		return nil, nil
	case "UTC":
		return time.UTC, nil
	case "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("invalid timezone %q", c.Timezone), Err: err}
	}
	return loc, nil
}

// DefaultConfigPath returns <user-config-dir>/gcal-notify/config.yaml.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gcal-notify", "config.yaml")
}

// DefaultCacheDir returns <user-cache-dir>/weechat-gcal, falling back to ~/.cache.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".cache")
	}
	return filepath.Join(dir, CacheDirName)
}

// LoadConfigFromFile loads configuration from a YAML file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
//
// An explicitly named config file must exist; when configFile is empty the
// default path is used if present.
func LoadConfig(configFile string, flags Flags) (*Config, error) {
	var config Config

	// Step 1: Load from config file
	path := configFile
	if path == "" {
		path = DefaultConfigPath()
	}
	if path != "" {
		fileConfig, err := LoadConfigFromFile(path)
		switch {
		case err == nil:
			config = *fileConfig
		case configFile == "" && errors.Is(err, fs.ErrNotExist):
			// no default config file, fine
		default:
			return nil, err
		}
	}

	// Step 2: Override with environment variables
	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	// Step 3: Override with command-line flags (highest priority)
	if flags.CredentialsPath != "" {
		config.CredentialsPath = flags.CredentialsPath
	}
	if flags.CacheDir != "" {
		config.CacheDir = flags.CacheDir
	}
	if flags.Source != "" {
		config.Source = flags.Source
	}
	if flags.CalendarID != "" {
		config.CalendarID = flags.CalendarID
	}
	if flags.ICSURL != "" {
		config.ICSURL = flags.ICSURL
	}
	if flags.Timezone != "" {
		config.Timezone = flags.Timezone
	}
	if len(flags.NotifyThresholds) > 0 {
		config.NotifyThresholds = flags.NotifyThresholds
	}
	if flags.PollInterval > 0 {
		config.PollInterval = flags.PollInterval
	}
	if flags.FetchTimeout > 0 {
		config.FetchTimeout = flags.FetchTimeout
	}

	// Step 4: Apply defaults and validate
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyEnv(config *Config) error {
	if v := os.Getenv("GCAL_CREDENTIALS_PATH"); v != "" {
		config.CredentialsPath = v
	}
	if v := os.Getenv("GCAL_CACHE_DIR"); v != "" {
		config.CacheDir = v
	}
	if v := os.Getenv("GCAL_SOURCE"); v != "" {
		config.Source = v
	}
	if v := os.Getenv("GCAL_CALENDAR_ID"); v != "" {
		config.CalendarID = v
	}
	if v := os.Getenv("GCAL_ICS_URL"); v != "" {
		config.ICSURL = v
	}
	if v := os.Getenv("GCAL_NOTIFY_THRESHOLDS"); v != "" {
		thresholds, err := ParseThresholds(v)
		if err != nil {
			return fmt.Errorf("invalid GCAL_NOTIFY_THRESHOLDS value: %w", err)
		}
		config.NotifyThresholds = thresholds
	}
	if v := os.Getenv("GCAL_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GCAL_POLL_INTERVAL value: %w", err)
		}
		config.PollInterval = d
	}
	if v := os.Getenv("GCAL_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GCAL_FETCH_TIMEOUT value: %w", err)
		}
		config.FetchTimeout = d
	}
	return nil
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	if c.Source == "" {
		c.Source = SourceGoogle
	}
	if c.CalendarID == "" {
		c.CalendarID = "primary"
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir()
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 50
	}
	if c.WindowDays <= 0 {
		c.WindowDays = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 3000 * time.Millisecond
	}
	if c.NotifyThresholds == nil {
		c.NotifyThresholds = []int{5, 15}
	}
	if c.TimeFormat == "" {
		c.TimeFormat = "15:04"
	}
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceGoogle:
	case SourceICS:
		if c.ICSURL == "" {
			return &ConfigurationError{Msg: "ics_url must be provided when source is 'ics'"}
		}
	default:
		return &ConfigurationError{Msg: fmt.Sprintf("source must be '%s' or '%s', got '%s'", SourceGoogle, SourceICS, c.Source)}
	}

	for _, m := range c.NotifyThresholds {
		if m <= 0 {
			return &ConfigurationError{Msg: fmt.Sprintf("notify_thresholds must be positive minutes, got %d", m)}
		}
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ParseThresholds parses a comma-separated list of minutes such as "5,15".
func ParseThresholds(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ResolveClientSecretPath finds the client-secret file by checking, in order,
// the explicit path, credentials.json in the working directory and
// credentials.json in the home directory.
func ResolveClientSecretPath(explicit string) (string, error) {
	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	return resolveClientSecretPath(explicit, cwd, home)
}

func resolveClientSecretPath(explicit, cwd, home string) (string, error) {
	var candidates []string
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	if cwd != "" {
		candidates = append(candidates, filepath.Join(cwd, ClientSecretFile))
	}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ClientSecretFile))
	}

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", &ConfigurationError{
		Msg: fmt.Sprintf("could not find a %s file: pass one with --credentials or place it in the current directory or %s", ClientSecretFile, home),
	}
}

// LoadOAuthConfig reads a Google OAuth client registration ("installed" or
// "web" section) and returns a config limited to read-only calendar access.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Msg: "failed to read credentials file", Err: err}
	}

	oauthConfig, err := google.ConfigFromJSON(data, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, &ConfigurationError{Msg: "failed to parse credentials file", Err: err}
	}

	return oauthConfig, nil
}
