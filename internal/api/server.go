// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the router and batch queue over HTTP.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tierflow/tierflow/internal/batch"
	"github.com/tierflow/tierflow/internal/buildinfo"
	"github.com/tierflow/tierflow/internal/registry"
	"github.com/tierflow/tierflow/internal/router"
)

// Server wires the HTTP routes to the routing and batching components.
type Server struct {
	router   *router.Router
	queue    *batch.Queue
	registry *registry.TierRegistry
	engine   *gin.Engine
}

// NewServer builds the gin engine with all routes registered.
func NewServer(r *router.Router, q *batch.Queue, reg *registry.TierRegistry) *Server {
	s := &Server{
		router:   r,
		queue:    q,
		registry: reg,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine for serving and for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run starts the HTTP server on the given host and port.
func (s *Server) Run(host string, port int) error {
	return s.engine.Run(fmt.Sprintf("%s:%d", host, port))
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/score", s.handleScore)
		v1.POST("/outcome", s.handleOutcome)
		v1.GET("/tiers", s.handleTiers)

		b := v1.Group("/batch")
		{
			b.POST("/queue", s.handleBatchQueue)
			b.GET("/queue/size", s.handleBatchQueueSize)
			b.POST("/flush", s.handleBatchFlush)
			b.GET("/:id", s.handleBatchStatus)
			b.GET("/:id/results", s.handleBatchResults)
			b.POST("/:id/cancel", s.handleBatchCancel)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"version":    buildinfo.Version,
		"tiers":      len(s.registry.ListTiers(registry.Filter{})),
		"queue_size": s.queue.Size(),
	})
}
