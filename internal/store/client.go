package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dmelnik/readmark/internal/highlight"
)

// Client is a remote highlight.Store over a JSON HTTP API, for deployments
// where highlights live in a shared backend rather than a local file.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) List(ctx context.Context, documentID, sectionID string) ([]highlight.Record, error) {
	u := fmt.Sprintf("%s/highlights?document_id=%s&section_id=%s",
		c.baseURL, url.QueryEscape(documentID), url.QueryEscape(sectionID))
	return c.list(ctx, u)
}

func (c *Client) ListDocument(ctx context.Context, documentID string) ([]highlight.Record, error) {
	u := fmt.Sprintf("%s/highlights?document_id=%s", c.baseURL, url.QueryEscape(documentID))
	return c.list(ctx, u)
}

func (c *Client) list(ctx context.Context, u string) ([]highlight.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list highlights", resp)
	}

	var result struct {
		Highlights []highlight.Record `json:"highlights"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode highlights: %w", err)
	}
	return result.Highlights, nil
}

func (c *Client) Create(ctx context.Context, rec highlight.Record) (highlight.Record, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return highlight.Record{}, fmt.Errorf("marshal highlight: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/highlights", bytes.NewReader(body))
	if err != nil {
		return highlight.Record{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return highlight.Record{}, fmt.Errorf("create highlight: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return highlight.Record{}, statusError("create highlight", resp)
	}

	var created highlight.Record
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return highlight.Record{}, fmt.Errorf("decode highlight: %w", err)
	}
	return created, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/highlights/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete highlight: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError("delete highlight", resp)
	}
	return nil
}

func (c *Client) UpdateColor(ctx context.Context, id, color string) error {
	body, err := json.Marshal(map[string]string{"color": color})
	if err != nil {
		return fmt.Errorf("marshal color update: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.baseURL+"/highlights/"+url.PathEscape(id)+"/color", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update highlight color: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError("update highlight color", resp)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(body))
}
