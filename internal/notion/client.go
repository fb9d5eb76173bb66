// Package notion is a small client for the Notion pages and databases API.
package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/transport"
)

// Client talks to Notion.
type Client struct {
	transport transport.Transport
	logger    *events.Logger
}

// NewClient creates a client from configuration.
func NewClient(cfg *config.Config, logger *events.Logger) *Client {
	httpClient := transport.NewHTTPClient(transport.Options{
		Service:    "notion",
		BaseURL:    cfg.Notion.BaseURL,
		Timeout:    cfg.Notion.Timeout,
		MaxRetries: cfg.Notion.MaxRetries,
		RetryDelay: cfg.Sync.RetryDelay,
		UserAgent:  "readsync",
		Headers: map[string]string{
			"Notion-Version": cfg.Notion.Version,
		},
		InsecureSkipVerify: cfg.Dev.InsecureSkipVerify,
	}, logger)
	httpClient.SetToken(cfg.Notion.Token)

	return NewClientWithTransport(httpClient, logger)
}

// NewClientWithTransport creates a client over an existing transport.
func NewClientWithTransport(t transport.Transport, logger *events.Logger) *Client {
	return &Client{
		transport: t,
		logger:    logger.WithField("component", "notion"),
	}
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Page is a database row as returned by queries.
type Page struct {
	ID         string          `json:"id"`
	Properties json.RawMessage `json:"properties"`
}

// Number returns a number property, or 0 when unset.
func (p Page) Number(property string) float64 {
	return gjson.GetBytes(p.Properties, gjson.Escape(property)+".number").Float()
}

type pageResponse struct {
	ID string `json:"id"`
}

// CreatePage creates a page in a database and returns its ID. The first
// MaxBlocksPerRequest blocks are sent inline and the rest are appended.
func (c *Client) CreatePage(ctx context.Context, databaseID string, props Properties, blocks []Block) (string, error) {
	inline := blocks
	var rest []Block
	if len(blocks) > MaxBlocksPerRequest {
		inline, rest = blocks[:MaxBlocksPerRequest], blocks[MaxBlocksPerRequest:]
	}

	payload := map[string]interface{}{
		"parent":     map[string]string{"database_id": databaseID},
		"properties": props,
	}
	if len(inline) > 0 {
		payload["children"] = inline
	}

	var resp pageResponse
	if err := c.transport.PostJSON(ctx, "/pages", payload, &resp); err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create page: response has no id")
	}

	c.logger.WithFields(map[string]interface{}{
		"page_id": resp.ID,
		"blocks":  len(inline),
	}).Debug("Created page")

	if len(rest) > 0 {
		if err := c.AppendBlocks(ctx, resp.ID, rest); err != nil {
			return resp.ID, err
		}
	}
	return resp.ID, nil
}

// UpdatePage replaces the given properties of a page.
func (c *Client) UpdatePage(ctx context.Context, pageID string, props Properties) error {
	payload := map[string]interface{}{"properties": props}
	if err := c.transport.PatchJSON(ctx, "/pages/"+url.PathEscape(pageID), payload, nil); err != nil {
		return fmt.Errorf("update page %s: %w", pageID, err)
	}
	return nil
}

// ArchivePage moves a page to the trash.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	payload := map[string]interface{}{"archived": true}
	if err := c.transport.PatchJSON(ctx, "/pages/"+url.PathEscape(pageID), payload, nil); err != nil {
		return fmt.Errorf("archive page %s: %w", pageID, err)
	}
	return nil
}

// AppendBlocks appends children to a page in requests of at most
// MaxBlocksPerRequest blocks.
func (c *Client) AppendBlocks(ctx context.Context, pageID string, blocks []Block) error {
	path := "/blocks/" + url.PathEscape(pageID) + "/children"

	for start := 0; start < len(blocks); start += MaxBlocksPerRequest {
		end := start + MaxBlocksPerRequest
		if end > len(blocks) {
			end = len(blocks)
		}

		payload := map[string]interface{}{"children": blocks[start:end]}
		if err := c.transport.PatchJSON(ctx, path, payload, nil); err != nil {
			return fmt.Errorf("append blocks to %s: %w", pageID, err)
		}

		c.logger.WithFields(map[string]interface{}{
			"page_id": pageID,
			"blocks":  end - start,
		}).Debug("Appended blocks")
	}
	return nil
}

// Query selects database rows.
type Query struct {
	Filter      map[string]interface{}   `json:"filter,omitempty"`
	Sorts       []map[string]interface{} `json:"sorts,omitempty"`
	PageSize    int                      `json:"page_size,omitempty"`
	StartCursor string                   `json:"start_cursor,omitempty"`
}

// QueryResult is one page of query results.
type QueryResult struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// QueryDatabase runs one query request.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q Query) (*QueryResult, error) {
	var resp QueryResult
	path := "/databases/" + url.PathEscape(databaseID) + "/query"
	if err := c.transport.PostJSON(ctx, path, q, &resp); err != nil {
		return nil, fmt.Errorf("query database %s: %w", databaseID, err)
	}
	return &resp, nil
}

// TextEquals filters on a rich_text property.
func TextEquals(property, value string) map[string]interface{} {
	return map[string]interface{}{
		"property":  property,
		"rich_text": map[string]interface{}{"equals": value},
	}
}

// FindPage returns the ID of the first row whose rich_text property equals
// value, or "" when none does.
func (c *Client) FindPage(ctx context.Context, databaseID, property, value string) (string, error) {
	resp, err := c.QueryDatabase(ctx, databaseID, Query{
		Filter:   TextEquals(property, value),
		PageSize: 1,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].ID, nil
}

// MaxNumber returns the largest value of a number property, or 0 for an
// empty database.
func (c *Client) MaxNumber(ctx context.Context, databaseID, property string) (float64, error) {
	resp, err := c.QueryDatabase(ctx, databaseID, Query{
		Sorts:    []map[string]interface{}{{"property": property, "direction": "descending"}},
		PageSize: 1,
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Results) == 0 {
		return 0, nil
	}
	return resp.Results[0].Number(property), nil
}
