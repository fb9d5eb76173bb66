package cookiesync_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/cookiesync"
	"github.com/TheMichaelB/readsync/internal/crypto"
	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
)

func newClient(server string) *cookiesync.Client {
	return cookiesync.NewClient(&config.CookieSyncConfig{
		Server:  server + "/",
		UUID:    "device-uuid",
		Timeout: 5 * time.Second,
	}, false, events.Discard())
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/get/device-uuid", r.URL.Path)
		_, _ = w.Write([]byte(`{"encrypted":"U2FsdGVkX1+abc="}`))
	}))
	defer server.Close()

	payload, err := newClient(server.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "U2FsdGVkX1+abc=", payload)
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
		reason string
	}{
		{"not found", http.StatusNotFound, "Not Found", 404, "unexpected status"},
		{"missing member", http.StatusOK, `{"other":"x"}`, 0, "no encrypted member"},
		{"non-string member", http.StatusOK, `{"encrypted":42}`, 0, "not a non-empty string"},
		{"empty member", http.StatusOK, `{"encrypted":""}`, 0, "not a non-empty string"},
		{"not json", http.StatusOK, `<html>`, 0, "not valid JSON"},
		{"empty body", http.StatusOK, ``, 0, "not valid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newClient(server.URL).Fetch(context.Background())
			require.Error(t, err)

			var fetchErr *models.FetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.code, fetchErr.StatusCode)
			assert.Contains(t, fetchErr.Error(), tt.reason)
			assert.ErrorIs(t, err, models.ErrFetchFailed)
			assert.NotErrorIs(t, err, crypto.ErrDecryptionFailed)
			assert.NotErrorIs(t, err, crypto.ErrMalformedPayload)
			assert.Equal(t, 1, attempts)
		})
	}
}

func TestFetchServerErrorNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newClient(server.URL).Fetch(context.Background())
	assert.ErrorIs(t, err, models.ErrFetchFailed)
	assert.Equal(t, 1, attempts)
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newClient(url).Fetch(context.Background())
	var fetchErr *models.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.StatusCode)
	assert.Error(t, fetchErr.Err)
}

func TestFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := cookiesync.NewClient(&config.CookieSyncConfig{
		Server:  server.URL,
		UUID:    "u",
		Timeout: 50 * time.Millisecond,
	}, false, events.Discard())

	_, err := client.Fetch(context.Background())
	assert.ErrorIs(t, err, models.ErrFetchFailed)
}
