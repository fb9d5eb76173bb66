package models

import (
	"fmt"
	"strings"
	"time"
)

// SyncState tracks what has been pushed to Notion for one book.
type SyncState struct {
	BookID       string           `json:"book_id"`
	Title        string           `json:"title,omitempty"`
	PageID       string           `json:"page_id,omitempty"` // Notion page
	Sort         int64            `json:"sort"`              // Notebook sort key at last sync
	Items        map[string]int64 `json:"items"`             // Highlight or review ID -> create time
	LastSyncTime time.Time        `json:"last_sync_time"`
	LastError    string           `json:"last_error,omitempty"`
}

// NewSyncState creates an empty sync state.
func NewSyncState(bookID string) *SyncState {
	return &SyncState{
		BookID: bookID,
		Items:  make(map[string]int64),
	}
}

// MarkSynced records an item as pushed.
func (s *SyncState) MarkSynced(id string, created int64) {
	if s.Items == nil {
		s.Items = make(map[string]int64)
	}
	s.Items[id] = created
}

// IsSynced checks if an item has been pushed.
func (s *SyncState) IsSynced(id string) bool {
	if s.Items == nil {
		return false
	}
	_, exists := s.Items[id]
	return exists
}

// ItemCount returns the number of items pushed.
func (s *SyncState) ItemCount() int {
	return len(s.Items)
}

// Touch records a successful sync at the given sort key.
func (s *SyncState) Touch(sort int64) {
	s.Sort = sort
	s.LastSyncTime = time.Now().UTC()
	s.LastError = ""
}

// SetError sets the last error message.
func (s *SyncState) SetError(err error) {
	if err != nil {
		s.LastError = err.Error()
	} else {
		s.LastError = ""
	}
}

// HasError returns true if there's a stored error.
func (s *SyncState) HasError() bool {
	return strings.TrimSpace(s.LastError) != ""
}

// Validate validates the sync state structure.
func (s *SyncState) Validate() error {
	if strings.TrimSpace(s.BookID) == "" {
		return fmt.Errorf("book ID is required")
	}

	if s.Sort < 0 {
		return fmt.Errorf("sort cannot be negative")
	}

	if s.Items == nil {
		return fmt.Errorf("items map cannot be nil")
	}

	for id := range s.Items {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("item ID cannot be empty")
		}
	}

	return nil
}

// Clone creates a deep copy of the sync state.
func (s *SyncState) Clone() *SyncState {
	clone := *s
	clone.Items = make(map[string]int64, len(s.Items))
	for id, created := range s.Items {
		clone.Items[id] = created
	}
	return &clone
}
