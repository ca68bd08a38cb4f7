package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// isolateEnv points the user config dir at an empty temp dir and clears
// every GCAL_* variable so tests only see what they set.
func isolateEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	for _, name := range []string{
		"GCAL_CREDENTIALS_PATH", "GCAL_CACHE_DIR", "GCAL_SOURCE", "GCAL_CALENDAR_ID",
		"GCAL_ICS_URL", "GCAL_NOTIFY_THRESHOLDS", "GCAL_POLL_INTERVAL", "GCAL_FETCH_TIMEOUT",
	} {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolateEnv(t)

	config, err := LoadConfig("", Flags{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.Source != SourceGoogle {
		t.Errorf("Expected Source to default to 'google', got '%s'", config.Source)
	}
	if config.CalendarID != "primary" {
		t.Errorf("Expected CalendarID to default to 'primary', got '%s'", config.CalendarID)
	}
	if config.MaxResults != 50 {
		t.Errorf("Expected MaxResults to default to 50, got %d", config.MaxResults)
	}
	if config.WindowDays != 2 {
		t.Errorf("Expected WindowDays to default to 2, got %d", config.WindowDays)
	}
	if config.PollInterval != 60*time.Second {
		t.Errorf("Expected PollInterval to default to 60s, got %v", config.PollInterval)
	}
	if config.FetchTimeout != 3*time.Second {
		t.Errorf("Expected FetchTimeout to default to 3s, got %v", config.FetchTimeout)
	}
	if !reflect.DeepEqual(config.NotifyThresholds, []int{5, 15}) {
		t.Errorf("Expected NotifyThresholds to default to [5 15], got %v", config.NotifyThresholds)
	}
	if !config.NotificationsEnabled() {
		t.Error("Expected notifications to be enabled by default")
	}
	if filepath.Base(config.CacheDir) != CacheDirName {
		t.Errorf("Expected CacheDir to end in %s, got '%s'", CacheDirName, config.CacheDir)
	}
}

func TestConfig_Location(t *testing.T) {
	tests := []struct {
		timezone string
		expected *time.Location
	}{
		{timezone: "", expected: nil},
		{timezone: "UTC", expected: time.UTC},
		{timezone: "Local", expected: time.Local},
	}

	for _, tt := range tests {
		loc, err := (&Config{Timezone: tt.timezone}).Location()
		if err != nil {
			t.Fatalf("Location() returned an error for '%s': %v", tt.timezone, err)
		}
		if loc != tt.expected {
			t.Errorf("Expected Location() for '%s' to be %v, got %v", tt.timezone, tt.expected, loc)
		}
	}
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	isolateEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, `
credentials_path: /config/credentials.json
calendar_id: team@example.com
max_results: 10
poll_interval: 30s
fetch_timeout: 1500ms
notify_enabled: false
notify_thresholds: [1, 10]
time_format: "3:04PM"
`)

	config, err := LoadConfig(configPath, Flags{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.CredentialsPath != "/config/credentials.json" {
		t.Errorf("Expected CredentialsPath from config file, got '%s'", config.CredentialsPath)
	}
	if config.CalendarID != "team@example.com" {
		t.Errorf("Expected CalendarID from config file, got '%s'", config.CalendarID)
	}
	if config.MaxResults != 10 {
		t.Errorf("Expected MaxResults 10, got %d", config.MaxResults)
	}
	if config.PollInterval != 30*time.Second {
		t.Errorf("Expected PollInterval 30s, got %v", config.PollInterval)
	}
	if config.FetchTimeout != 1500*time.Millisecond {
		t.Errorf("Expected FetchTimeout 1.5s, got %v", config.FetchTimeout)
	}
	if config.NotificationsEnabled() {
		t.Error("Expected notifications to be disabled by config file")
	}
	if !reflect.DeepEqual(config.NotifyThresholds, []int{1, 10}) {
		t.Errorf("Expected NotifyThresholds [1 10], got %v", config.NotifyThresholds)
	}
	if config.TimeFormat != "3:04PM" {
		t.Errorf("Expected TimeFormat '3:04PM', got '%s'", config.TimeFormat)
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	isolateEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, `
credentials_path: /config/credentials.json
calendar_id: config-calendar
notify_thresholds: [30]
`)

	t.Setenv("GCAL_CREDENTIALS_PATH", "/env/credentials.json")
	t.Setenv("GCAL_CALENDAR_ID", "env-calendar")
	t.Setenv("GCAL_NOTIFY_THRESHOLDS", "2, 4")

	config, err := LoadConfig(configPath, Flags{CalendarID: "flag-calendar"})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.CredentialsPath != "/env/credentials.json" {
		t.Errorf("Expected env var to override config file, got '%s'", config.CredentialsPath)
	}
	if config.CalendarID != "flag-calendar" {
		t.Errorf("Expected flag to override env var, got '%s'", config.CalendarID)
	}
	if !reflect.DeepEqual(config.NotifyThresholds, []int{2, 4}) {
		t.Errorf("Expected NotifyThresholds from env [2 4], got %v", config.NotifyThresholds)
	}
}

func TestLoadConfig_DefaultFileUsedWhenPresent(t *testing.T) {
	isolateEnv(t)
	path := DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	writeFile(t, path, "calendar_id: from-default\n")

	config, err := LoadConfig("", Flags{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}
	if config.CalendarID != "from-default" {
		t.Errorf("Expected CalendarID from default config file, got '%s'", config.CalendarID)
	}
}

func TestLoadConfig_ExplicitFileMissing(t *testing.T) {
	isolateEnv(t)

	config, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), Flags{})
	if err == nil {
		t.Error("LoadConfig() should fail when the named config file does not exist")
	}
	if config != nil {
		t.Error("LoadConfig() should have returned nil config when there's an error")
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		env   map[string]string
	}{
		{name: "unknown source", flags: Flags{Source: "outlook"}},
		{name: "ics without url", flags: Flags{Source: SourceICS}},
		{name: "non-positive threshold", flags: Flags{NotifyThresholds: []int{5, 0}}},
		{name: "bad timezone", flags: Flags{Timezone: "Mars/Olympus"}},
		{name: "bad env thresholds", env: map[string]string{"GCAL_NOTIFY_THRESHOLDS": "five"}},
		{name: "bad env interval", env: map[string]string{"GCAL_POLL_INTERVAL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig("", tt.flags); err == nil {
				t.Error("LoadConfig() should have returned an error")
			}
		})
	}
}

func TestLoadConfig_ICSSource(t *testing.T) {
	isolateEnv(t)
	t.Setenv("GCAL_SOURCE", "ics")
	t.Setenv("GCAL_ICS_URL", "https://example.com/cal.ics")

	config, err := LoadConfig("", Flags{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}
	if config.Source != SourceICS || config.ICSURL != "https://example.com/cal.ics" {
		t.Errorf("Expected ics source with url, got %s %s", config.Source, config.ICSURL)
	}
}

func TestParseThresholds(t *testing.T) {
	got, err := ParseThresholds(" 5,15, ,30")
	if err != nil {
		t.Fatalf("ParseThresholds() returned an error: %v", err)
	}
	if !reflect.DeepEqual(got, []int{5, 15, 30}) {
		t.Errorf("Expected [5 15 30], got %v", got)
	}
}

func TestResolveClientSecretPath_Order(t *testing.T) {
	explicitDir := t.TempDir()
	cwd := t.TempDir()
	home := t.TempDir()

	explicit := filepath.Join(explicitDir, "my-client.json")
	writeFile(t, explicit, "{}")
	writeFile(t, filepath.Join(cwd, ClientSecretFile), "{}")
	writeFile(t, filepath.Join(home, ClientSecretFile), "{}")

	got, err := resolveClientSecretPath(explicit, cwd, home)
	if err != nil || got != explicit {
		t.Errorf("Expected explicit path to win, got %q (err %v)", got, err)
	}

	got, err = resolveClientSecretPath("", cwd, home)
	if err != nil || got != filepath.Join(cwd, ClientSecretFile) {
		t.Errorf("Expected cwd path, got %q (err %v)", got, err)
	}

	got, err = resolveClientSecretPath(filepath.Join(explicitDir, "missing.json"), t.TempDir(), home)
	if err != nil || got != filepath.Join(home, ClientSecretFile) {
		t.Errorf("Expected home path, got %q (err %v)", got, err)
	}
}

func TestResolveClientSecretPath_Missing(t *testing.T) {
	_, err := resolveClientSecretPath("", t.TempDir(), t.TempDir())

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
}

func TestLoadOAuthConfig_Installed(t *testing.T) {
	credsPath := filepath.Join(t.TempDir(), ClientSecretFile)
	writeFile(t, credsPath, `{
		"installed": {
			"client_id": "test-client-id",
			"client_secret": "test-client-secret",
			"auth_uri": "https://accounts.google.com/o/oauth2/auth",
			"token_uri": "https://oauth2.googleapis.com/token",
			"redirect_uris": ["http://localhost"]
		}
	}`)

	oauthConfig, err := LoadOAuthConfig(credsPath)
	if err != nil {
		t.Fatalf("LoadOAuthConfig() returned an error: %v", err)
	}

	if oauthConfig.ClientID != "test-client-id" {
		t.Errorf("Expected ClientID 'test-client-id', got '%s'", oauthConfig.ClientID)
	}
	if oauthConfig.ClientSecret != "test-client-secret" {
		t.Errorf("Expected ClientSecret 'test-client-secret', got '%s'", oauthConfig.ClientSecret)
	}
	if len(oauthConfig.Scopes) != 1 || oauthConfig.Scopes[0] != "https://www.googleapis.com/auth/calendar.readonly" {
		t.Errorf("Expected read-only calendar scope, got %v", oauthConfig.Scopes)
	}
}

func TestLoadOAuthConfig_Invalid(t *testing.T) {
	credsPath := filepath.Join(t.TempDir(), ClientSecretFile)
	writeFile(t, credsPath, `{"other": {}}`)

	_, err := LoadOAuthConfig(credsPath)

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
}
