package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/http/cookiejar"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/transport"
)

func newClient(t *testing.T, baseURL string, maxRetries int) (*transport.HTTPClient, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := transport.NewHTTPClient(transport.Options{
		Service:    "test",
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: 10 * time.Millisecond,
		UserAgent:  "readsync-test",
	}, logger)
	t.Cleanup(func() { _ = client.Close() })
	return client, &buf
}

func TestHTTPClientRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	client, _ := newClient(t, server.URL, 3)

	var resp map[string]interface{}
	err := client.PostJSON(context.Background(), "/test", map[string]string{"key": "value"}, &resp)

	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, 3, attempts)
}

func TestHTTPClientHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "readsync-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "2022-06-28", r.Header.Get("Notion-Version"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "value", body["key"])

		_, _ = w.Write([]byte(`{"id":"page-1"}`))
	}))
	defer server.Close()

	client := transport.NewHTTPClient(transport.Options{
		Service:   "notion",
		BaseURL:   server.URL + "/v1/",
		Timeout:   5 * time.Second,
		UserAgent: "readsync-test",
		Headers:   map[string]string{"Notion-Version": "2022-06-28"},
	}, events.Discard())
	client.SetToken("test-token")
	assert.Equal(t, "test-token", client.GetToken())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, client.PatchJSON(context.Background(), "/pages", map[string]string{"key": "value"}, &resp))
	assert.Equal(t, "page-1", resp.ID)
}

func TestHTTPClientGetJSONQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "123", r.URL.Query().Get("bookId"))
		assert.Empty(t, r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"updated":[]}`))
	}))
	defer server.Close()

	client, _ := newClient(t, server.URL, 0)

	var raw []byte
	require.NoError(t, client.GetJSON(context.Background(), "/web/book/bookmarklist", url.Values{"bookId": {"123"}}, &raw))
	assert.JSONEq(t, `{"updated":[]}`, string(raw))
}

func TestHTTPClientAPIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		code     string
		message  string
		attempts int
	}{
		{
			name:     "notion style",
			status:   http.StatusBadRequest,
			body:     `{"object":"error","status":400,"code":"validation_error","message":"bad property","request_id":"req-1"}`,
			code:     "validation_error",
			message:  "bad property",
			attempts: 1,
		},
		{
			name:     "errcode style",
			status:   http.StatusUnauthorized,
			body:     `{"errcode":-2012,"errmsg":"login timeout"}`,
			code:     "-2012",
			message:  "login timeout",
			attempts: 1,
		},
		{
			name:     "plain text",
			status:   http.StatusNotFound,
			body:     "not here",
			code:     "Not Found",
			message:  "not here",
			attempts: 1,
		},
		{
			name:     "server error retried",
			status:   http.StatusBadGateway,
			body:     "",
			code:     "Bad Gateway",
			attempts: 3,
		},
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

			client, _ := newClient(t, server.URL, 2)

			err := client.GetJSON(context.Background(), "/x", nil, nil)
			require.Error(t, err)

			var apiErr *models.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "test", apiErr.Service)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.attempts, attempts)
		})
	}
}

func TestHTTPClientRateLimited(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := newClient(t, server.URL, 1)

	start := time.Now()
	require.NoError(t, client.PostJSON(context.Background(), "/x", nil, nil))
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestHTTPClientCookieJar(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("wr_skey")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"skey":"` + c.Value + `"}`))
	}))
	defer server.Close()

	client, _ := newClient(t, server.URL, 0)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, _ := url.Parse(server.URL)
	jar.SetCookies(u, []*http.Cookie{{Name: "wr_skey", Value: "abc"}})
	client.SetJar(jar)

	var resp map[string]string
	require.NoError(t, client.GetJSON(context.Background(), "/", nil, &resp))
	assert.Equal(t, "abc", resp["skey"])
}

func TestHTTPClientContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := newClient(t, server.URL, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.GetJSON(ctx, "/", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClientDoesNotLogBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"response-secret"}`))
	}))
	defer server.Close()

	client, buf := newClient(t, server.URL, 0)
	client.SetToken("bearer-secret")

	require.NoError(t, client.PostJSON(context.Background(), "/x", map[string]string{"password": "payload-secret"}, nil))

	logs := buf.String()
	assert.Contains(t, logs, "Sending request")
	assert.NotContains(t, logs, "payload-secret")
	assert.NotContains(t, logs, "response-secret")
	assert.NotContains(t, logs, "bearer-secret")
}

func TestMockTransport(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.On(http.MethodPost, "/pages", map[string]string{"id": "page-1"})
	mock.Fail(http.MethodPatch, "/pages/x", &models.APIError{StatusCode: 404})
	mock.Sequences["POST /databases/db/query"] = []interface{}{
		`{"results":[1],"has_more":true}`,
		`{"results":[2],"has_more":false}`,
	}

	ctx := context.Background()

	var page map[string]string
	require.NoError(t, mock.PostJSON(ctx, "/pages", map[string]string{"a": "b"}, &page))
	assert.Equal(t, "page-1", page["id"])

	err := mock.PatchJSON(ctx, "/pages/x", nil, nil)
	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)

	var q struct {
		Results []int `json:"results"`
		HasMore bool  `json:"has_more"`
	}
	require.NoError(t, mock.PostJSON(ctx, "/databases/db/query", nil, &q))
	assert.True(t, q.HasMore)
	require.NoError(t, mock.PostJSON(ctx, "/databases/db/query", nil, &q))
	assert.False(t, q.HasMore)
	assert.Equal(t, []int{2}, q.Results)

	assert.Error(t, mock.GetJSON(ctx, "/unknown", nil, nil))
	assert.Len(t, mock.RequestsFor(http.MethodPost, "/pages"), 1)
	assert.Len(t, mock.Requests, 5)

	mock.SetToken("tok")
	assert.Equal(t, "tok", mock.GetToken())
	require.NoError(t, mock.Close())
	assert.Error(t, mock.PostJSON(ctx, "/pages", nil, nil))
}
