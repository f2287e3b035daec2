// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package batch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/tierflow/tierflow/internal/config"
)

const anthropicVersion = "2023-06-01"

// Client talks to a Message Batches style downstream API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a batch API client from the batch configuration.
func NewClient(cfg config.BatchConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeoutDuration()},
	}
}

// Wire types for the downstream batch API.

type batchCreateRequest struct {
	Requests []batchRequestEntry `json:"requests"`
}

type batchRequestEntry struct {
	CustomID string        `json:"custom_id"`
	Params   messageParams `json:"params"`
}

type messageParams struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []messageParam `json:"messages"`
}

type messageParam struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type batchResponse struct {
	ID               string        `json:"id"`
	ProcessingStatus string        `json:"processing_status"`
	RequestCounts    requestCounts `json:"request_counts"`
	CreatedAt        time.Time     `json:"created_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
}

type requestCounts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

type batchResultLine struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    string `json:"type"`
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			Usage Usage `json:"usage"`
		} `json:"message"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"result"`
}

const defaultMaxTokens = 4096

// Create submits the given requests as one batch and returns its status.
func (c *Client) Create(ctx context.Context, requests []*Request) (*Status, error) {
	payload := batchCreateRequest{Requests: make([]batchRequestEntry, 0, len(requests))}
	for _, req := range requests {
		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		payload.Requests = append(payload.Requests, batchRequestEntry{
			CustomID: req.ID,
			Params: messageParams{
				Model:     req.Model,
				MaxTokens: maxTokens,
				System:    req.SystemPrompt,
				Messages: []messageParam{
					{Role: "user", Content: req.UserMessage},
				},
			},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	var resp batchResponse
	if err := c.do(ctx, "POST", "/v1/messages/batches", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}

	return normalizeStatus(&resp), nil
}

// GetStatus fetches the current processing state of a batch.
func (c *Client) GetStatus(ctx context.Context, batchID string) (*Status, error) {
	var resp batchResponse
	path := fmt.Sprintf("/v1/messages/batches/%s", batchID)
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return normalizeStatus(&resp), nil
}

// GetResults streams the per-request results of a completed batch. The
// downstream returns them as newline-delimited JSON in arbitrary order.
func (c *Client) GetResults(ctx context.Context, batchID string) ([]*Result, error) {
	path := fmt.Sprintf("/v1/messages/batches/%s/results", batchID)
	req, err := c.newRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp)
	}

	var results []*Result
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry batchResultLine
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode result line: %w", err)
		}
		results = append(results, convertResult(&entry))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch results: %w", err)
	}

	return results, nil
}

// Cancel asks the downstream to stop processing a batch. Cancellation is
// best effort; requests already processed still produce results.
func (c *Client) Cancel(ctx context.Context, batchID string) (*Status, error) {
	var resp batchResponse
	path := fmt.Sprintf("/v1/messages/batches/%s/cancel", batchID)
	if err := c.do(ctx, "POST", path, nil, &resp); err != nil {
		return nil, err
	}
	return normalizeStatus(&resp), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("batch API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstreamError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode batch API response: %w", err)
	}
	return nil
}

// upstreamError extracts the error message from a non-2xx response body
// without assuming the downstream's exact error envelope.
func upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "message").String()
	}
	return &UpstreamError{StatusCode: resp.StatusCode, Message: msg}
}

// normalizeStatus maps the downstream processing state onto our status
// vocabulary. A batch that ended with only errors counts as failed, and one
// that ended with only cancellations as canceled.
func normalizeStatus(resp *batchResponse) *Status {
	counts := resp.RequestCounts
	total := counts.Processing + counts.Succeeded + counts.Errored + counts.Canceled + counts.Expired

	status := StatusInProgress
	switch resp.ProcessingStatus {
	case "ended":
		switch {
		case counts.Succeeded == 0 && counts.Canceled > 0 && counts.Errored == 0:
			status = StatusCanceled
		case counts.Succeeded == 0 && (counts.Errored > 0 || counts.Expired > 0):
			status = StatusFailed
		default:
			status = StatusCompleted
		}
	case "canceling", "in_progress":
		status = StatusInProgress
	case "":
		status = StatusPending
	}

	return &Status{
		BatchID:           resp.ID,
		Status:            status,
		TotalRequests:     total,
		CompletedRequests: counts.Succeeded,
		FailedRequests:    counts.Errored + counts.Canceled + counts.Expired,
		CreatedAt:         resp.CreatedAt,
		ExpiresAt:         resp.ExpiresAt,
	}
}

func convertResult(entry *batchResultLine) *Result {
	result := &Result{RequestID: entry.CustomID}

	switch entry.Result.Type {
	case "succeeded":
		result.Success = true
		var text strings.Builder
		for _, block := range entry.Result.Message.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		result.Content = text.String()
		result.Usage = entry.Result.Message.Usage
	case "errored":
		result.Error = entry.Result.Error.Message
		if result.Error == "" {
			result.Error = entry.Result.Error.Type
		}
	default:
		result.Error = fmt.Sprintf("request %s", entry.Result.Type)
	}

	return result
}
