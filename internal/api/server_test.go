// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tierflow/tierflow/internal/batch"
	"github.com/tierflow/tierflow/internal/breaker"
	"github.com/tierflow/tierflow/internal/config"
	"github.com/tierflow/tierflow/internal/registry"
	"github.com/tierflow/tierflow/internal/router"
	"github.com/tierflow/tierflow/internal/tracker"
)

// apiTracker satisfies the router's tracker interface without a database.
type apiTracker struct{}

func (apiTracker) GetPerformanceStats(ctx context.Context, tier string) (*tracker.PerformanceStats, error) {
	return &tracker.PerformanceStats{Tier: tier}, nil
}

func (apiTracker) Record(ctx context.Context, record *tracker.OutcomeRecord) error { return nil }

// apiBatchClient fakes the downstream batch API for handler tests.
type apiBatchClient struct {
	status  *batch.Status
	results []*batch.Result
}

func (c *apiBatchClient) Create(ctx context.Context, reqs []*batch.Request) (*batch.Status, error) {
	return &batch.Status{BatchID: "msgbatch_01", Status: batch.StatusInProgress, TotalRequests: len(reqs)}, nil
}

func (c *apiBatchClient) GetStatus(ctx context.Context, id string) (*batch.Status, error) {
	if c.status != nil {
		return c.status, nil
	}
	return &batch.Status{BatchID: id, Status: batch.StatusCompleted}, nil
}

func (c *apiBatchClient) GetResults(ctx context.Context, id string) ([]*batch.Result, error) {
	return c.results, nil
}

func (c *apiBatchClient) Cancel(ctx context.Context, id string) (*batch.Status, error) {
	return &batch.Status{BatchID: id, Status: batch.StatusCanceled}, nil
}

func newTestServer(client batch.APIClient) *Server {
	gin.SetMode(gin.TestMode)

	reg := registry.NewTierRegistry()
	reg.Register(&registry.TierInfo{ID: "haiku", Class: registry.ClassEconomy, ContextLength: 200000, CostPerMTok: 1.0})
	reg.Register(&registry.TierInfo{ID: "sonnet", Class: registry.ClassStandard, ContextLength: 200000, CostPerMTok: 6.0})
	reg.Register(&registry.TierInfo{ID: "opus", Class: registry.ClassPremium, ContextLength: 200000, CostPerMTok: 30.0})

	routerCfg := config.RouterConfig{
		Epsilon:             0,
		LearningRate:        0.1,
		LargeContextChars:   600000,
		CheapTierCategories: []string{"heartbeat"},
		MinCapableClass:     registry.ClassStandard,
	}
	rt := router.New(routerCfg, reg, apiTracker{}, breaker.AlwaysClosed{}, &router.MemoryStore{})

	batchCfg := config.BatchConfig{
		MaxQueueSize: 100,
		PollInterval: "5ms",
		PollTimeout:  "500ms",
	}
	q := batch.NewQueue(batchCfg, client)

	return NewServer(rt, q, reg)
}

func doJSON(server *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&apiBatchClient{})

	w := doJSON(server, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", gjson.GetBytes(w.Body.Bytes(), "status").String())
	assert.Equal(t, int64(3), gjson.GetBytes(w.Body.Bytes(), "tiers").Int())
}

func TestScoreEndpoint(t *testing.T) {
	server := newTestServer(&apiBatchClient{})

	w := doJSON(server, "POST", "/v1/score", `{
		"complexity": "critical",
		"stakes": 10,
		"quality_priority": 10,
		"historical_performance": 10,
		"category": "analysis"
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.Bytes()
	assert.GreaterOrEqual(t, gjson.GetBytes(body, "score").Float(), 90.0)
	assert.Equal(t, "opus", gjson.GetBytes(body, "recommended_tier").String())
	assert.True(t, gjson.GetBytes(body, "reasoning").IsArray())
}

func TestScoreEndpoint_Validation(t *testing.T) {
	server := newTestServer(&apiBatchClient{})

	w := doJSON(server, "POST", "/v1/score", `{"stakes": 5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(server, "POST", "/v1/score", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOutcomeEndpoint_DefaultsQuality(t *testing.T) {
	server := newTestServer(&apiBatchClient{})

	w := doJSON(server, "POST", "/v1/outcome", `{
		"category": "chat",
		"tier": "haiku",
		"success": true
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	// Quality defaulted to 1.0: a perfect outcome moves Q by alpha * 14.
	assert.InDelta(t, 1.4, server.router.Learner().Q("chat", "haiku"), 1e-9)
}

func TestOutcomeEndpoint_RejectsBadQuality(t *testing.T) {
	server := newTestServer(&apiBatchClient{})

	w := doJSON(server, "POST", "/v1/outcome", `{
		"category": "chat",
		"tier": "haiku",
		"success": true,
		"quality_score": 1.5
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(server, "POST", "/v1/outcome", `{"success": true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchEndpoints_QueueFlushResults(t *testing.T) {
	client := &apiBatchClient{}
	server := newTestServer(client)

	w := doJSON(server, "POST", "/v1/batch/queue", `{
		"model": "claude-3-5-haiku",
		"user_message": "summarize this"
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	requestID := gjson.GetBytes(w.Body.Bytes(), "request_id").String()
	require.NotEmpty(t, requestID)
	assert.Equal(t, int64(1), gjson.GetBytes(w.Body.Bytes(), "queue_size").Int())

	w = doJSON(server, "GET", "/v1/batch/queue/size", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.GetBytes(w.Body.Bytes(), "queue_size").Int())

	w = doJSON(server, "POST", "/v1/batch/flush", "")
	require.Equal(t, http.StatusOK, w.Code)
	batchID := gjson.GetBytes(w.Body.Bytes(), "batch_id").String()
	require.Equal(t, "msgbatch_01", batchID)

	client.results = []*batch.Result{{RequestID: requestID, Success: true, Content: "done"}}

	w = doJSON(server, "GET", "/v1/batch/"+batchID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(server, "GET", "/v1/batch/"+batchID+"/results", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "done", gjson.GetBytes(w.Body.Bytes(), "results.0.content").String())
}

func TestBatchEndpoints_EmptyFlushConflicts(t *testing.T) {
	server := newTestServer(&apiBatchClient{})

	w := doJSON(server, "POST", "/v1/batch/flush", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBatchEndpoints_UnknownBatch(t *testing.T) {
	server := newTestServer(&apiBatchClient{})

	w := doJSON(server, "GET", "/v1/batch/msgbatch_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(server, "GET", "/v1/batch/msgbatch_missing/results", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(server, "POST", "/v1/batch/msgbatch_missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchEndpoints_FailedBatch(t *testing.T) {
	client := &apiBatchClient{status: &batch.Status{BatchID: "msgbatch_01", Status: batch.StatusFailed, FailedRequests: 1}}
	server := newTestServer(client)

	w := doJSON(server, "POST", "/v1/batch/queue", `{"model":"claude-3-5-haiku","user_message":"x"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	w = doJSON(server, "POST", "/v1/batch/flush", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(server, "GET", "/v1/batch/msgbatch_01/results", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestBatchEndpoints_Cancel(t *testing.T) {
	server := newTestServer(&apiBatchClient{})

	doJSON(server, "POST", "/v1/batch/queue", `{"model":"claude-3-5-haiku","user_message":"x"}`)
	w := doJSON(server, "POST", "/v1/batch/flush", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(server, "POST", "/v1/batch/msgbatch_01/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.GetBytes(w.Body.Bytes(), "canceled").Bool())
}

func TestTiersEndpoint(t *testing.T) {
	server := newTestServer(&apiBatchClient{})

	w := doJSON(server, "GET", "/v1/tiers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), int64(len(gjson.GetBytes(w.Body.Bytes(), "tiers").Array())))
}
