package transport

import (
	"context"
	"net/url"
)

// Transport is the JSON request surface the API clients depend on.
type Transport interface {
	GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error
	PostJSON(ctx context.Context, path string, payload, out interface{}) error
	PatchJSON(ctx context.Context, path string, payload, out interface{}) error

	// Authentication
	SetToken(token string)
	GetToken() string

	// Lifecycle
	Close() error
}

var (
	_ Transport = (*HTTPClient)(nil)
	_ Transport = (*MockTransport)(nil)
)
