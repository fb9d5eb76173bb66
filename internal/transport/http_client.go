package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/net/http2"

	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
)

// maxErrorBody caps how much of an error response is kept in APIError.
const maxErrorBody = 512

// Options configures an HTTPClient.
type Options struct {
	Service            string // name used in logs and APIError
	BaseURL            string
	Timeout            time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	UserAgent          string
	Headers            map[string]string // sent with every request
	Jar                http.CookieJar
	InsecureSkipVerify bool
}

// HTTPClient handles JSON communication with one remote API.
type HTTPClient struct {
	client    *http.Client
	service   string
	baseURL   string
	userAgent string
	headers   map[string]string
	token     string
	logger    *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(opts Options, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos:         []string{"h2", "http/1.1"},
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
	}

	// Configure HTTP/2
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			Jar:       opts.Jar,
		},
		service:    opts.Service,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		headers:    headers,
		maxRetries: opts.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithFields(map[string]interface{}{"component": "http_client", "service": opts.Service}),
	}
}

// SetToken sets the bearer token.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// GetToken returns the current bearer token.
func (c *HTTPClient) GetToken() string {
	return c.token
}

// SetJar replaces the cookie jar used for subsequent requests.
func (c *HTTPClient) SetJar(jar http.CookieJar) {
	c.client.Jar = jar
}

// BaseURL returns the URL every request path is resolved against.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// GetJSON sends a GET request and decodes the JSON response into out.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON sends a JSON POST request and decodes the response into out.
func (c *HTTPClient) PostJSON(ctx context.Context, path string, payload, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, payload, out)
}

// PatchJSON sends a JSON PATCH request and decodes the response into out.
func (c *HTTPClient) PatchJSON(ctx context.Context, path string, payload, out interface{}) error {
	return c.doJSON(ctx, http.MethodPatch, path, nil, payload, out)
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	respBody, err := c.Do(ctx, method, path, query, payload)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if raw, ok := out.(*[]byte); ok {
		*raw = respBody
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse %s response: %w", c.service, err)
	}
	return nil
}

// Do executes a request with retries and returns the body of a 2xx response.
// Other statuses are returned as *models.APIError.
func (c *HTTPClient) Do(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	target := c.resolve(path, query)

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	logger := c.logger.WithFields(map[string]interface{}{
		"method": method,
		"path":   path,
	})
	logger.WithField("size", len(body)).Debug("Sending request")

	var respBody []byte
	start := time.Now()

	err := c.retry(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		c.setHeaders(req, body != nil)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return c.apiError(resp, data)
		}

		respBody = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"size":     len(respBody),
		"duration": time.Since(start).String(),
	}).Debug("Received response")

	return respBody, nil
}

func (c *HTTPClient) resolve(path string, query url.Values) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return target
}

func (c *HTTPClient) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// apiError builds an APIError from an error response. Both {code, message}
// and {errcode, errmsg} bodies are understood.
func (c *HTTPClient) apiError(resp *http.Response, body []byte) error {
	apiErr := &models.APIError{
		Service:    c.service,
		StatusCode: resp.StatusCode,
		Code:       http.StatusText(resp.StatusCode),
	}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if code := firstString(parsed, "code", "errcode", "error"); code != "" {
			apiErr.Code = code
		}
		apiErr.Message = firstString(parsed, "message", "errmsg", "error_description")
		apiErr.RequestID = parsed.Get("request_id").String()
	}
	if apiErr.Message == "" {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		apiErr.Message = msg
	}

	if apiErr.StatusCode == http.StatusTooManyRequests {
		if wait := retryAfter(resp.Header.Get("Retry-After")); wait > 0 {
			return &retryAfterError{APIError: apiErr, wait: wait}
		}
	}

	return apiErr
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.JSON {
			return v.String()
		}
	}
	return ""
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// retryAfterError carries a server-requested delay alongside the APIError.
type retryAfterError struct {
	*models.APIError
	wait time.Duration
}

func (e *retryAfterError) Unwrap() error {
	return e.APIError
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			var ra *retryAfterError
			if errors.As(lastErr, &ra) && ra.wait > wait {
				wait = ra.wait
			}

			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   wait.String(),
			}).Debug("Retrying request")

			select {
			case <-time.After(wait):
				delay *= 2 // Exponential backoff
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if !c.isRetryableError(ctx, err) {
			return unwrapRetryAfter(err)
		}
	}

	if c.maxRetries == 0 {
		return unwrapRetryAfter(lastErr)
	}
	return fmt.Errorf("max retries exceeded: %w", unwrapRetryAfter(lastErr))
}

func unwrapRetryAfter(err error) error {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.APIError
	}
	return err
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable. Network failures and
// 429/5xx responses are; other API errors and cancellation are not.
func (c *HTTPClient) isRetryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return c.isRetryable(apiErr.StatusCode)
	}

	return true
}
