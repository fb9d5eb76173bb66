package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

// MockTransport provides a mock implementation for testing. Responses and
// errors are keyed by "METHOD path", e.g. "POST /pages".
type MockTransport struct {
	mu sync.Mutex

	// Response configuration
	Responses map[string]interface{}
	// Sequences return successive responses for repeated calls; the last
	// element repeats once exhausted.
	Sequences map[string][]interface{}

	// Error injection
	Errors map[string]error
	Err    error

	// Request tracking
	Requests []Request

	token  string
	calls  map[string]int
	closed bool
}

// Request tracks one call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Payload interface{}
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Responses: make(map[string]interface{}),
		Sequences: make(map[string][]interface{}),
		Errors:    make(map[string]error),
		Requests:  []Request{},
		calls:     make(map[string]int),
	}
}

// On registers a response for method and path.
func (m *MockTransport) On(method, path string, resp interface{}) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[method+" "+path] = resp
	return m
}

// Fail registers an error for method and path.
func (m *MockTransport) Fail(method, path string, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[method+" "+path] = err
	return m
}

// GetJSON mocks HTTP GET.
func (m *MockTransport) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return m.handle(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// PostJSON mocks HTTP POST.
func (m *MockTransport) PostJSON(ctx context.Context, path string, payload, out interface{}) error {
	return m.handle(ctx, Request{Method: http.MethodPost, Path: path, Payload: payload}, out)
}

// PatchJSON mocks HTTP PATCH.
func (m *MockTransport) PatchJSON(ctx context.Context, path string, payload, out interface{}) error {
	return m.handle(ctx, Request{Method: http.MethodPatch, Path: path, Payload: payload}, out)
}

func (m *MockTransport) handle(ctx context.Context, req Request, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return fmt.Errorf("transport closed")
	}

	key := req.Method + " " + req.Path
	if err, ok := m.Errors[key]; ok {
		return err
	}
	if m.Err != nil {
		return m.Err
	}

	var resp interface{}
	if seq, ok := m.Sequences[key]; ok && len(seq) > 0 {
		i := m.calls[key]
		if i >= len(seq) {
			i = len(seq) - 1
		}
		resp = seq[i]
		m.calls[key]++
	} else if r, ok := m.Responses[key]; ok {
		resp = r
	} else {
		return fmt.Errorf("no mock response for %s", key)
	}

	if out == nil || resp == nil {
		return nil
	}

	var data []byte
	switch v := resp.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return fmt.Errorf("marshal mock response: %w", err)
		}
	}
	return json.Unmarshal(data, out)
}

// RequestsFor returns tracked requests for method and path.
func (m *MockTransport) RequestsFor(method, path string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Request
	for _, r := range m.Requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// SetToken sets the auth token.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the auth token.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Close marks the transport as closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reset clears tracked requests.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = []Request{}
	m.calls = make(map[string]int)
}
