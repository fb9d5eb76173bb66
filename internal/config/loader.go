package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// READSYNC_NOTION_TOKEN for notion.token.
const EnvPrefix = "READSYNC"

// compatEnv lists environment names read for compatibility with existing
// cookie-sync and Notion deployments. The prefixed name wins when both are set.
var compatEnv = map[string]string{
	"cookie_sync.server":   "COOKIECLOUD_SERVER",
	"cookie_sync.uuid":     "COOKIECLOUD_UUID",
	"cookie_sync.password": "COOKIECLOUD_PASSWORD",
	"notion.token":         "NOTION_TOKEN",
	"notion.database_id":   "NOTION_DATABASE_ID",
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// ConfigPath returns the file the configuration was read from, if any.
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	v := l.v
	setDefaults(v, DefaultConfig())

	// Load from file if exists
	if l.configPath == "" {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				break
			}
		}
	}
	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range compatEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	// Moving the data dir moves the paths derived from it unless set explicitly.
	if dataDir := cfg.Storage.DataDir; dataDir != DefaultConfig().Storage.DataDir {
		if !v.InConfig("storage.state_db") && !isEnvSet("storage.state_db") {
			cfg.Storage.StateDB = filepath.Join(dataDir, "state.db")
		}
		if !v.InConfig("storage.credentials_file") && !isEnvSet("storage.credentials_file") {
			cfg.Storage.CredentialsFile = filepath.Join(dataDir, "credentials.json")
		}
	}

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"readsync.json",
		"readsync.yaml",
		".readsync.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "readsync", "config.json"),
			filepath.Join(homeDir, ".config", "readsync", "config.yaml"),
			filepath.Join(homeDir, ".readsync", "config.json"),
		)
	}

	return paths
}

func isEnvSet(key string) bool {
	_, ok := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	return ok
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("cookie_sync.server", cfg.CookieSync.Server)
	v.SetDefault("cookie_sync.uuid", cfg.CookieSync.UUID)
	v.SetDefault("cookie_sync.password", cfg.CookieSync.Password)
	v.SetDefault("cookie_sync.timeout", cfg.CookieSync.Timeout.String())
	v.SetDefault("cookie_sync.strategy", cfg.CookieSync.Strategy)
	v.SetDefault("cookie_sync.domains", cfg.CookieSync.Domains)

	v.SetDefault("reader.base_url", cfg.Reader.BaseURL)
	v.SetDefault("reader.timeout", cfg.Reader.Timeout.String())
	v.SetDefault("reader.max_retries", cfg.Reader.MaxRetries)
	v.SetDefault("reader.user_agent", cfg.Reader.UserAgent)

	v.SetDefault("notion.base_url", cfg.Notion.BaseURL)
	v.SetDefault("notion.token", cfg.Notion.Token)
	v.SetDefault("notion.database_id", cfg.Notion.DatabaseID)
	v.SetDefault("notion.version", cfg.Notion.Version)
	v.SetDefault("notion.timeout", cfg.Notion.Timeout.String())
	v.SetDefault("notion.max_retries", cfg.Notion.MaxRetries)
	v.SetDefault("notion.write_delay", cfg.Notion.WriteDelay.String())

	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.state_db", cfg.Storage.StateDB)
	v.SetDefault("storage.credentials_file", cfg.Storage.CredentialsFile)

	v.SetDefault("sync.book_limit", cfg.Sync.BookLimit)
	v.SetDefault("sync.include_reviews", cfg.Sync.IncludeReviews)
	v.SetDefault("sync.retry_delay", cfg.Sync.RetryDelay.String())

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)

	v.SetDefault("dev.insecure_skip_verify", cfg.Dev.InsecureSkipVerify)
}

// SaveExample writes an example config file. The format follows the file
// extension (json, yaml or toml).
func SaveExample(path string) error {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return os.Chmod(path, 0600)
}
