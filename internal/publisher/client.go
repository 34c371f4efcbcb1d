// Package publisher is the HTTP client for the external platform-publishing
// service.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type publishRequest struct {
	ContentID int64 `json:"content_id"`
	AccountID int64 `json:"account_id"`
	Draft     bool  `json:"draft"`
}

type publishResponse struct {
	MediaID string `json:"media_id"`
}

// Publish sends one content to the platform and returns the media id the
// platform assigned.
func (c *Client) Publish(ctx context.Context, contentID, accountID int64, draft bool) (string, error) {
	body, err := json.Marshal(publishRequest{ContentID: contentID, AccountID: accountID, Draft: draft})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/publish", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("publisher request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("publisher returned %d: %s", resp.StatusCode, string(snippet))
	}

	var result publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("publisher response decode: %w", err)
	}
	if result.MediaID == "" {
		return "", fmt.Errorf("publisher response missing media_id")
	}
	return result.MediaID, nil
}
