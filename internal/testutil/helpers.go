package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/events"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// TestContext returns a context that expires with the test.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestConfig returns a configuration pointing every endpoint at ts and
// keeping all files under dataDir.
func TestConfig(ts *TestServer, dataDir string) *config.Config {
	cfg := config.DefaultConfig()

	cfg.CookieSync.Server = ts.URL
	cfg.CookieSync.UUID = DeviceUUID
	cfg.CookieSync.Password = Password
	cfg.CookieSync.Timeout = 5 * time.Second

	cfg.Reader.BaseURL = ts.URL
	cfg.Reader.Timeout = 5 * time.Second
	cfg.Reader.MaxRetries = 1

	cfg.Notion.BaseURL = ts.NotionURL()
	cfg.Notion.Token = NotionToken
	cfg.Notion.DatabaseID = DatabaseID
	cfg.Notion.Timeout = 5 * time.Second
	cfg.Notion.MaxRetries = 1
	cfg.Notion.WriteDelay = 0

	cfg.Storage.DataDir = dataDir
	cfg.Storage.StateDB = filepath.Join(dataDir, "state.db")
	cfg.Storage.CredentialsFile = filepath.Join(dataDir, "credentials.json")

	cfg.Sync.RetryDelay = 10 * time.Millisecond
	cfg.Log.Level = "debug"
	cfg.Log.Color = false

	return cfg
}

// LogEntry represents a captured log entry for testing.
type LogEntry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"msg"`
	Fields  map[string]interface{} `json:"-"`
}

// LogOutput collects JSON log lines.
type LogOutput struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogOutput creates an empty log sink.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Logger returns a debug-level JSON logger writing to lo.
func (lo *LogOutput) Logger() *events.Logger {
	return events.NewTestLogger(events.DebugLevel, "json", lo)
}

func (lo *LogOutput) Write(p []byte) (int, error) {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	return lo.buf.Write(p)
}

// String returns everything written so far.
func (lo *LogOutput) String() string {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	return lo.buf.String()
}

// Entries parses the captured lines.
func (lo *LogOutput) Entries() []LogEntry {
	var entries []LogEntry

	scanner := bufio.NewScanner(bytes.NewReader([]byte(lo.String())))
	for scanner.Scan() {
		var fields map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &fields); err != nil {
			continue
		}
		entry := LogEntry{Fields: fields}
		entry.Level, _ = fields["level"].(string)
		entry.Message, _ = fields["msg"].(string)
		entries = append(entries, entry)
	}
	return entries
}

// HasMessage reports whether any entry carries message.
func (lo *LogOutput) HasMessage(message string) bool {
	for _, e := range lo.Entries() {
		if e.Message == message {
			return true
		}
	}
	return false
}
