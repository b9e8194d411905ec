package admincli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/datasite/connector/internal/server/models"
)

// Client is a thin HTTP client for the server's admin endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type IssueTokenResult struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Client) Ingest(ctx context.Context, name string, content []byte, contentType, description string, tags []string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/admin/content", map[string]any{
		"name":         name,
		"content":      content,
		"content_type": contentType,
		"description":  description,
		"tags":         tags,
	}, &resp)
	return resp.ID, err
}

func (c *Client) List(ctx context.Context) ([]models.ContentMeta, error) {
	var resp struct {
		Datasets []models.ContentMeta `json:"datasets"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/admin/content", nil, &resp)
	return resp.Datasets, err
}

func (c *Client) Remove(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/admin/content/"+name, nil, nil)
}

func (c *Client) IssueToken(ctx context.Context, subject string, datasets, permissions []string, ttl time.Duration) (*IssueTokenResult, error) {
	resp := &IssueTokenResult{}
	err := c.do(ctx, http.MethodPost, "/v1/admin/tokens", map[string]any{
		"subject":     subject,
		"datasets":    datasets,
		"permissions": permissions,
		"ttl_seconds": int(ttl.Seconds()),
	}, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RevokeToken(ctx context.Context, tokenID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/admin/tokens/"+tokenID, nil, nil)
}

func (c *Client) Audit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	var resp struct {
		Entries []models.AuditEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/admin/audit?limit=%d", limit), nil, &resp)
	return resp.Entries, err
}

// do sends an optional JSON body and decodes the JSON response into out.
// Non-2xx statuses are returned as errors carrying the server's error text.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error != "" {
			return fmt.Errorf("server: %s (%s)", errResp.Error, resp.Status)
		}
		return fmt.Errorf("server: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
