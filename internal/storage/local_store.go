package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/readsync/internal/events"
)

// ErrExists is returned when the target exists and the strategy is ConflictError.
var ErrExists = errors.New("file already exists")

// ConflictStrategy defines how to handle an existing target file.
type ConflictStrategy int

const (
	// ConflictOverwrite replaces existing files.
	ConflictOverwrite ConflictStrategy = iota

	// ConflictRename writes next to the existing file with a timestamp suffix.
	ConflictRename

	// ConflictError refuses to touch existing files.
	ConflictError
)

func (c ConflictStrategy) String() string {
	switch c {
	case ConflictRename:
		return "rename"
	case ConflictError:
		return "error"
	default:
		return "overwrite"
	}
}

// ParseConflictStrategy maps a flag value to a strategy.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return ConflictOverwrite, nil
	case "rename":
		return ConflictRename, nil
	case "error":
		return ConflictError, nil
	default:
		return ConflictOverwrite, fmt.Errorf("unknown conflict strategy %q", s)
	}
}

// LocalStore writes files under a base directory atomically.
type LocalStore struct {
	baseDir          string
	conflictStrategy ConflictStrategy
	logger           *events.Logger

	maxPathLength int
	maxFileSize   int64
}

// NewLocalStore creates a local file store rooted at baseDir.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStore{
		baseDir:          absPath,
		conflictStrategy: ConflictOverwrite,
		logger:           logger.WithField("component", "local_store"),
		maxPathLength:    4096,
		maxFileSize:      100 * 1024 * 1024,
	}, nil
}

// SetConflictStrategy sets the conflict resolution strategy.
func (s *LocalStore) SetConflictStrategy(strategy ConflictStrategy) {
	s.conflictStrategy = strategy
}

// SetMaxFileSize sets the maximum file size limit.
func (s *LocalStore) SetMaxFileSize(size int64) {
	s.maxFileSize = size
}

// BaseDir returns the absolute base directory.
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// Write saves data atomically and returns the path actually written.
func (s *LocalStore) Write(path string, data []byte, mode os.FileMode) (string, error) {
	if int64(len(data)) > s.maxFileSize {
		return "", fmt.Errorf("file too large: %d bytes (max: %d)", len(data), s.maxFileSize)
	}
	return s.WriteStream(path, bytes.NewReader(data), mode)
}

// WriteStream copies reader into a temp file, syncs it and renames it into place.
func (s *LocalStore) WriteStream(path string, reader io.Reader, mode os.FileMode) (string, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return "", fmt.Errorf("sanitize path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(safePath), 0755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}

	if _, err := os.Stat(safePath); err == nil {
		switch s.conflictStrategy {
		case ConflictError:
			return "", fmt.Errorf("%w: %s", ErrExists, path)
		case ConflictRename:
			safePath = s.generateConflictPath(safePath)
		}
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", safePath, time.Now().UnixNano())
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		tempFile.Close()
		if !success {
			os.Remove(tempPath)
		}
	}()

	limited := &io.LimitedReader{R: reader, N: s.maxFileSize + 1}
	written, err := io.Copy(tempFile, limited)
	if err != nil {
		return "", fmt.Errorf("write stream: %w", err)
	}
	if limited.N <= 0 {
		return "", fmt.Errorf("file too large: exceeds %d bytes", s.maxFileSize)
	}

	if err := tempFile.Sync(); err != nil {
		return "", fmt.Errorf("sync file: %w", err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, safePath); err != nil {
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	success = true

	s.logger.WithFields(map[string]interface{}{
		"path": safePath,
		"size": written,
	}).Debug("File written")

	return safePath, nil
}

// Read retrieves file contents.
func (s *LocalStore) Read(path string) ([]byte, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return nil, fmt.Errorf("sanitize path: %w", err)
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Exists checks if a file exists.
func (s *LocalStore) Exists(path string) (bool, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return false, fmt.Errorf("sanitize path: %w", err)
	}

	_, err = os.Stat(safePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// sanitizePath resolves path under the base directory.
func (s *LocalStore) sanitizePath(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null bytes")
	}

	cleaned := filepath.Clean(filepath.FromSlash(path))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: contains '..'")
	}
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid path: empty")
	}

	fullPath := filepath.Join(s.baseDir, cleaned)
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory")
	}

	if len(fullPath) > s.maxPathLength {
		return "", fmt.Errorf("path too long: %d characters (max: %d)", len(fullPath), s.maxPathLength)
	}

	return fullPath, nil
}

// generateConflictPath creates a unique path for conflicts.
func (s *LocalStore) generateConflictPath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	timestamp := time.Now().Format("20060102-150405")
	candidate := filepath.Join(dir, fmt.Sprintf("%s.conflict-%s%s", name, timestamp, ext))
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s.conflict-%s-%d%s", name, timestamp, i, ext))
	}
}
