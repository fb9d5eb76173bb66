// Package cookiesync retrieves the encrypted cookie export from a
// CookieCloud-compatible sync server.
package cookiesync

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/transport"
)

// payloadField is the response member carrying the base64 ciphertext.
const payloadField = "encrypted"

// Client fetches the encrypted export. It never retries; the server is
// expected to be local or reachable, and a failed run is simply rerun.
type Client struct {
	http   *transport.HTTPClient
	server string
	uuid   string
	logger *events.Logger
}

// NewClient creates a cookie-sync client.
func NewClient(cfg *config.CookieSyncConfig, insecure bool, logger *events.Logger) *Client {
	server := strings.TrimRight(cfg.Server, "/")
	return &Client{
		http: transport.NewHTTPClient(transport.Options{
			Service:            "cookiesync",
			BaseURL:            server,
			Timeout:            cfg.Timeout,
			MaxRetries:         0,
			InsecureSkipVerify: insecure,
		}, logger),
		server: server,
		uuid:   cfg.UUID,
		logger: logger.WithField("component", "cookiesync"),
	}
}

// Fetch returns the base64 payload. Every failure is a *models.FetchError.
func (c *Client) Fetch(ctx context.Context) (string, error) {
	path := "/get/" + url.PathEscape(c.uuid)
	target := c.server + path

	var raw []byte
	if err := c.http.GetJSON(ctx, path, nil, &raw); err != nil {
		fetchErr := &models.FetchError{URL: target, Err: err}
		var apiErr *models.APIError
		if errors.As(err, &apiErr) {
			fetchErr.StatusCode = apiErr.StatusCode
			fetchErr.Reason = "unexpected status"
			fetchErr.Err = nil
		}
		return "", fetchErr
	}

	if !gjson.ValidBytes(raw) {
		return "", &models.FetchError{URL: target, Reason: "response is not valid JSON"}
	}

	payload := gjson.GetBytes(raw, payloadField)
	if !payload.Exists() {
		return "", &models.FetchError{URL: target, Reason: "response has no " + payloadField + " member"}
	}
	if payload.Type != gjson.String || payload.Str == "" {
		return "", &models.FetchError{URL: target, Reason: payloadField + " member is not a non-empty string"}
	}

	c.logger.WithField("size", len(payload.Str)).Debug("Fetched encrypted cookie export")
	return payload.Str, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}
