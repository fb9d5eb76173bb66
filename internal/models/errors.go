package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeCookies     = "COOKIE_ERROR"
	ErrCodeDecryption  = "DECRYPTION_ERROR"
	ErrCodeSession     = "SESSION_EXPIRED"
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeNotion      = "NOTION_ERROR"
	ErrCodeState       = "STATE_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeServerError = "SERVER_ERROR"
)

// Sentinel errors
var (
	ErrFetchFailed    = errors.New("cookie fetch failed")
	ErrNoCookies      = errors.New("no cookies for target domains")
	ErrSessionExpired = errors.New("reading session expired")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrNoPassword     = errors.New("cookie sync password not configured")
	ErrRateLimited    = errors.New("rate limited")
	ErrBookNotFound   = errors.New("book not found")
)

// APIError represents an error from a remote API.
type APIError struct {
	Service    string `json:"service,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s API error %d (%s): %s", e.Service, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Is matches ErrRateLimited for 429 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == 429
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// FetchError is a failure to retrieve the encrypted cookie export. It is
// never a decryption error.
type FetchError struct {
	URL        string
	StatusCode int
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	msg := "fetch " + e.URL
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetchFailed}
	}
	return []error{ErrFetchFailed, e.Err}
}

// SyncError provides detailed sync failure information.
type SyncError struct {
	Code   string
	Phase  string
	BookID string
	Err    error
}

func (e *SyncError) Error() string {
	if e.BookID != "" {
		return fmt.Sprintf("sync %s [%s]: book %s: %v", e.Phase, e.Code, e.BookID, e.Err)
	}
	return fmt.Sprintf("sync %s [%s]: %v", e.Phase, e.Code, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
