// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierflow/tierflow/internal/config"
)

func testBatchConfig(baseURL string) config.BatchConfig {
	return config.BatchConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		MaxQueueSize:   100,
		AutoFlush:      false,
		PollInterval:   "10ms",
		PollTimeout:    "500ms",
		RequestTimeout: "2s",
	}
}

func TestClient_CreateSendsBatchShape(t *testing.T) {
	var gotBody string
	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/v1/messages/batches", r.URL.Path)
		gotHeaders = r.Header
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		fmt.Fprint(w, `{"id":"msgbatch_01","processing_status":"in_progress","request_counts":{"processing":2}}`)
	}))
	defer server.Close()

	client := NewClient(testBatchConfig(server.URL))
	status, err := client.Create(context.Background(), []*Request{
		{ID: "req-1", Model: "claude-3-5-haiku", UserMessage: "ping", MaxTokens: 16},
		{ID: "req-2", Model: "claude-sonnet-4", UserMessage: "summarize", SystemPrompt: "be brief"},
	})
	require.NoError(t, err)

	assert.Equal(t, "msgbatch_01", status.BatchID)
	assert.Equal(t, StatusInProgress, status.Status)
	assert.Equal(t, 2, status.TotalRequests)

	assert.Equal(t, "test-key", gotHeaders.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, gotHeaders.Get("anthropic-version"))

	assert.Contains(t, gotBody, `"custom_id":"req-1"`)
	assert.Contains(t, gotBody, `"custom_id":"req-2"`)
	assert.Contains(t, gotBody, `"system":"be brief"`)
	// Requests without an explicit limit get the default.
	assert.Contains(t, gotBody, fmt.Sprintf(`"max_tokens":%d`, defaultMaxTokens))
}

func TestClient_GetResultsParsesNDJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages/batches/msgbatch_01/results", r.URL.Path)
		fmt.Fprintln(w, `{"custom_id":"req-2","result":{"type":"succeeded","message":{"content":[{"type":"text","text":"world"}],"usage":{"input_tokens":3,"output_tokens":5}}}}`)
		fmt.Fprintln(w, `{"custom_id":"req-1","result":{"type":"errored","error":{"type":"invalid_request","message":"too long"}}}`)
		fmt.Fprintln(w, `{"custom_id":"req-3","result":{"type":"expired"}}`)
	}))
	defer server.Close()

	client := NewClient(testBatchConfig(server.URL))
	results, err := client.GetResults(context.Background(), "msgbatch_01")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.Equal(t, "req-2", results[0].RequestID)
	assert.Equal(t, "world", results[0].Content)
	assert.Equal(t, Usage{InputTokens: 3, OutputTokens: 5}, results[0].Usage)

	assert.False(t, results[1].Success)
	assert.Equal(t, "too long", results[1].Error)

	assert.False(t, results[2].Success)
	assert.Equal(t, "request expired", results[2].Error)
}

func TestClient_UpstreamErrorExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer server.Close()

	client := NewClient(testBatchConfig(server.URL))
	_, err := client.GetStatus(context.Background(), "msgbatch_01")
	require.Error(t, err)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
	assert.Equal(t, "slow down", upstream.Message)
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		name       string
		processing string
		counts     requestCounts
		want       string
	}{
		{"in flight", "in_progress", requestCounts{Processing: 3}, StatusInProgress},
		{"canceling counts as in flight", "canceling", requestCounts{Processing: 1}, StatusInProgress},
		{"ended with successes", "ended", requestCounts{Succeeded: 2, Errored: 1}, StatusCompleted},
		{"ended with only errors", "ended", requestCounts{Errored: 3}, StatusFailed},
		{"ended with only expirations", "ended", requestCounts{Expired: 2}, StatusFailed},
		{"ended with only cancellations", "ended", requestCounts{Canceled: 2}, StatusCanceled},
		{"unknown state", "", requestCounts{}, StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := normalizeStatus(&batchResponse{
				ID:               "msgbatch_01",
				ProcessingStatus: tt.processing,
				RequestCounts:    tt.counts,
			})
			assert.Equal(t, tt.want, status.Status)
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, (&Status{Status: StatusPending}).Terminal())
	assert.False(t, (&Status{Status: StatusInProgress}).Terminal())
	assert.True(t, (&Status{Status: StatusCompleted}).Terminal())
	assert.True(t, (&Status{Status: StatusFailed}).Terminal())
	assert.True(t, (&Status{Status: StatusCanceled}).Terminal())
}
