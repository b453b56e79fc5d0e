// Package config defines worldwatch configuration and its loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and WORLDWATCH_* environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"time"
	_ "time/tzdata" // zone database for minimal images
)

// Source is one named crawl target.
type Source struct {
	// Type is "keyword" or "user".
	Type string `koanf:"type"`

	// Keywords is a comma-separated keyword list for keyword sources.
	Keywords string `koanf:"keywords"`

	// UserID is the owner id for user sources.
	UserID string `koanf:"user_id"`

	// Limit caps the fetch; 0 means the global fetch_limit.
	Limit int `koanf:"limit"`

	// Browser selects the headless-browser owner listing for user sources.
	Browser bool `koanf:"browser"`
}

// Source types.
const (
	SourceKeyword = "keyword"
	SourceUser    = "user"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	APIBaseURL string `koanf:"api_base_url"`
	WebBaseURL string `koanf:"web_base_url"`

	// RequestTimeoutMS bounds every remote request.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// FetchLimit is the default number of worlds per fetch.
	FetchLimit int `koanf:"fetch_limit"`

	// FetchDelayMS is the pause between pages.
	FetchDelayMS int `koanf:"fetch_delay_ms"`

	// FixedLimit is the per-keyword limit of the multi-keyword search.
	FixedLimit int `koanf:"fixed_limit"`

	// RetryAttempts and RetryBackoffMS shape retries of transient failures.
	RetryAttempts  int `koanf:"retry_attempts"`
	RetryBackoffMS int `koanf:"retry_backoff_ms"`

	// Credentials, passed through as opaque headers.
	Cookie   string `koanf:"cookie"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Blacklist lists keywords skipped by the multi-keyword search.
	Blacklist []string `koanf:"blacklist"`

	// DataDir holds every persisted table.
	DataDir string `koanf:"data_dir"`

	// StorageBackend is sqlite, xlsx, csv or none.
	StorageBackend string `koanf:"storage_backend"`

	// HistoryThrottleSeconds is the minimum spacing of history records per world.
	HistoryThrottleSeconds int `koanf:"history_throttle_seconds"`

	// HistoryLogSink mirrors appended history rows to a csv log.
	HistoryLogSink bool `koanf:"history_log_sink"`

	// HistoryWorkbookSink mirrors appended history rows to an xlsx workbook.
	HistoryWorkbookSink bool `koanf:"history_workbook_sink"`

	// Timezone is the IANA zone used for daily stats dates.
	Timezone string `koanf:"timezone"`

	BrowserEnabled   bool   `koanf:"browser_enabled"`
	BrowserRemoteURL string `koanf:"browser_remote_url"`
	BrowserMaxClicks int    `koanf:"browser_max_clicks"`

	UploadEndpoint string `koanf:"upload_endpoint"`
	UploadUser     string `koanf:"upload_user"`
	UploadPass     string `koanf:"upload_pass"`

	// Sources maps a source name to its crawl target.
	Sources map[string]Source `koanf:"sources"`
}

// New returns a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:               "info",
		LogFormat:              "text",
		Addr:                   ":9080",
		APIBaseURL:             "https://api.vrchat.cloud/api/1",
		WebBaseURL:             "https://vrchat.com",
		RequestTimeoutMS:       30_000,
		FetchLimit:             50,
		FetchDelayMS:           1_000,
		FixedLimit:             50,
		RetryAttempts:          3,
		RetryBackoffMS:         2_000,
		DataDir:                "data",
		StorageBackend:         "sqlite",
		HistoryThrottleSeconds: 3600,
		Timezone:               "UTC",
		BrowserMaxClicks:       50,
		Sources:                map[string]Source{},
	}
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// FetchDelay returns FetchDelayMS as a duration.
func (c *Config) FetchDelay() time.Duration {
	return time.Duration(c.FetchDelayMS) * time.Millisecond
}

// RetryBackoff returns RetryBackoffMS as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// HistoryThrottle returns HistoryThrottleSeconds as a duration.
func (c *Config) HistoryThrottle() time.Duration {
	return time.Duration(c.HistoryThrottleSeconds) * time.Second
}

// Location resolves Timezone, defaulting to UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}
