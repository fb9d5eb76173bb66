package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Combined represents the combined JSON credential model.
type Combined struct {
	CookieSync struct {
		Server   string `json:"server,omitempty"`
		UUID     string `json:"uuid,omitempty"`
		Password string `json:"password,omitempty"`
	} `json:"cookie_sync"`
	Notion struct {
		Token      string `json:"token,omitempty"`
		DatabaseID string `json:"database_id,omitempty"`
	} `json:"notion"`
}

// ParseCombined parses JSON bytes into Combined.
func ParseCombined(data []byte) (*Combined, error) {
	var c Combined
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &c, nil
}

// LoadFromFile loads Combined from a local file path.
func LoadFromFile(path string) (*Combined, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCombined(b)
}

// SaveToFile writes Combined to path with owner-only permissions.
func SaveToFile(path string, c *Combined) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}
