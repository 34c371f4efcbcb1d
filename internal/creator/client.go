// Package creator is the HTTP client for the external content-generation
// service. The service is opaque: it either returns a structured draft or
// fails, and the caller decides what that means for the task.
package creator

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
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type GenerateRequest struct {
	AccountID    int64  `json:"account_id"`
	Topic        string `json:"topic"`
	Keywords     string `json:"keywords,omitempty"`
	Category     string `json:"category,omitempty"`
	Requirements string `json:"requirements,omitempty"`
	Tone         string `json:"tone,omitempty"`
}

type GenerateResult struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Images     []string `json:"images,omitempty"`
	CoverImage string   `json:"cover_image,omitempty"`
	WordCount  int      `json:"word_count"`
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("creator request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("creator returned %d: %s", resp.StatusCode, string(snippet))
	}

	var result GenerateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("creator response decode: %w", err)
	}
	if result.Title == "" || result.Content == "" {
		return nil, fmt.Errorf("creator response missing title or content")
	}
	return &result, nil
}
