package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Cookie-sync server holding the encrypted browser cookies
	CookieSync CookieSyncConfig `json:"cookie_sync" mapstructure:"cookie_sync"`

	// Reading platform web API
	Reader ReaderConfig `json:"reader" mapstructure:"reader"`

	// Notion destination
	Notion NotionConfig `json:"notion" mapstructure:"notion"`

	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`

	// Development options
	Dev DevConfig `json:"dev,omitempty" mapstructure:"dev"`
}

// CookieSyncConfig for the cookie-sync retrieval endpoint.
type CookieSyncConfig struct {
	Server   string        `json:"server" mapstructure:"server"`
	UUID     string        `json:"uuid" mapstructure:"uuid"`
	Password string        `json:"password,omitempty" mapstructure:"password"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`

	// Pin one key derivation strategy by name; empty tries them all.
	Strategy string `json:"strategy,omitempty" mapstructure:"strategy"`

	// Cookie domains handed to the reading platform client
	Domains []string `json:"domains" mapstructure:"domains"`
}

// ReaderConfig for the reading platform API.
type ReaderConfig struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`
}

// NotionConfig for the Notion API.
type NotionConfig struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	Token      string        `json:"token,omitempty" mapstructure:"token"`
	DatabaseID string        `json:"database_id" mapstructure:"database_id"`
	Version    string        `json:"version" mapstructure:"version"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	WriteDelay time.Duration `json:"write_delay" mapstructure:"write_delay"` // pause between page writes
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir         string `json:"data_dir" mapstructure:"data_dir"`                 // Base directory for all data
	StateDB         string `json:"state_db" mapstructure:"state_db"`                 // SQLite sync state
	CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"` // Combined credentials JSON
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	BookLimit      int           `json:"book_limit" mapstructure:"book_limit"`           // 0 = all books
	IncludeReviews bool          `json:"include_reviews" mapstructure:"include_reviews"` // Push notes as well as highlights
	RetryDelay     time.Duration `json:"retry_delay" mapstructure:"retry_delay"`         // Initial retry delay
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored output
}

// DevConfig for development/debugging.
type DevConfig struct {
	InsecureSkipVerify bool `json:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".readsync"

	return &Config{
		CookieSync: CookieSyncConfig{
			Timeout: 30 * time.Second,
			Domains: []string{"weread.qq.com", "i.weread.qq.com"},
		},
		Reader: ReaderConfig{
			BaseURL:    "https://weread.qq.com",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
		Notion: NotionConfig{
			BaseURL:    "https://api.notion.com/v1",
			Version:    "2022-06-28",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			WriteDelay: 300 * time.Millisecond,
		},
		Storage: StorageConfig{
			DataDir:         dataDir,
			StateDB:         filepath.Join(dataDir, "state.db"),
			CredentialsFile: filepath.Join(dataDir, "credentials.json"),
		},
		Sync: SyncConfig{
			IncludeReviews: true,
			RetryDelay:     time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.CookieSync.Timeout <= 0 {
		return errors.New("cookie_sync.timeout must be positive")
	}

	if c.Reader.BaseURL == "" {
		return errors.New("reader.base_url is required")
	}

	if c.Reader.Timeout <= 0 {
		return errors.New("reader.timeout must be positive")
	}

	if c.Notion.BaseURL == "" {
		return errors.New("notion.base_url is required")
	}

	if c.Notion.Timeout <= 0 {
		return errors.New("notion.timeout must be positive")
	}

	if c.Reader.MaxRetries < 0 || c.Notion.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}

	if c.Sync.BookLimit < 0 {
		return errors.New("sync.book_limit must not be negative")
	}

	if c.Storage.StateDB == "" {
		return errors.New("storage.state_db is required")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// RequireCookieSync checks the settings needed to fetch cookies. The
// password may still come from the credentials file or the keyring.
func (c *Config) RequireCookieSync() error {
	if c.CookieSync.Server == "" {
		return errors.New("cookie_sync.server is required")
	}
	if c.CookieSync.UUID == "" {
		return errors.New("cookie_sync.uuid is required")
	}
	if len(c.CookieSync.Domains) == 0 {
		return errors.New("cookie_sync.domains must not be empty")
	}
	return nil
}

// RequireNotion checks the settings needed to write to Notion.
func (c *Config) RequireNotion() error {
	if c.Notion.Token == "" {
		return errors.New("notion.token is required")
	}
	if c.Notion.DatabaseID == "" {
		return errors.New("notion.database_id is required")
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.Storage.StateDB),
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
