// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tierflow/tierflow/internal/batch"
)

// QueueRequestBody is the payload for enqueueing one batch request.
type QueueRequestBody struct {
	Model        string            `json:"model"`
	UserMessage  string            `json:"user_message"`
	SystemPrompt string            `json:"system_prompt"`
	MaxTokens    int               `json:"max_tokens"`
	Priority     string            `json:"priority"`
	Metadata     map[string]string `json:"metadata"`
}

func (s *Server) handleBatchQueue(c *gin.Context) {
	var body QueueRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue request: " + err.Error()})
		return
	}

	id, err := s.queue.QueueRequest(c.Request.Context(), &batch.Request{
		Model:        body.Model,
		UserMessage:  body.UserMessage,
		SystemPrompt: body.SystemPrompt,
		MaxTokens:    body.MaxTokens,
		Priority:     body.Priority,
		Metadata:     body.Metadata,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id": id,
		"queue_size": s.queue.Size(),
	})
}

func (s *Server) handleBatchQueueSize(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queue_size": s.queue.Size()})
}

func (s *Server) handleBatchFlush(c *gin.Context) {
	batchID, err := s.queue.Flush(c.Request.Context())
	if err != nil {
		if errors.Is(err, batch.ErrEmptyQueue) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch_id": batchID})
}

func (s *Server) handleBatchStatus(c *gin.Context) {
	status, err := s.queue.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.batchError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleBatchResults(c *gin.Context) {
	results, err := s.queue.GetResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.batchError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleBatchCancel(c *gin.Context) {
	canceled, err := s.queue.CancelBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.batchError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": canceled})
}

// batchError maps queue errors onto HTTP statuses.
func (s *Server) batchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, batch.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, batch.ErrBatchFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, batch.ErrPollTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
