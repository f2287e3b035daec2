// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tierflow/tierflow/internal/registry"
	"github.com/tierflow/tierflow/internal/router"
)

// ScoreRequest is the scoring request body.
type ScoreRequest struct {
	Complexity            string  `json:"complexity"`
	Stakes                float64 `json:"stakes"`
	QualityPriority       float64 `json:"quality_priority"`
	BudgetPressure        float64 `json:"budget_pressure"`
	HistoricalPerformance float64 `json:"historical_performance"`
	Category              string  `json:"category"`
	Agent                 string  `json:"agent"`
	ContentLength         int     `json:"content_length"`
	SecuritySensitive     bool    `json:"security_sensitive"`
	BudgetLevel           string  `json:"budget_level"`
}

// OutcomeRequest reports how a routed task actually went.
type OutcomeRequest struct {
	Category     string   `json:"category"`
	Tier         string   `json:"tier"`
	Success      bool     `json:"success"`
	DurationMs   int64    `json:"duration_ms"`
	CostUSD      float64  `json:"cost_usd"`
	QualityScore *float64 `json:"quality_score"`
}

func (s *Server) handleScore(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid score request: " + err.Error()})
		return
	}
	if req.Category == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category is required"})
		return
	}

	level := router.BudgetLevel(req.BudgetLevel)
	if req.BudgetLevel == "" {
		level = router.BudgetNormal
	}

	result := s.router.Score(c.Request.Context(), router.ScoreInput{
		Complexity:            router.Complexity(req.Complexity),
		Stakes:                req.Stakes,
		QualityPriority:       req.QualityPriority,
		BudgetPressure:        req.BudgetPressure,
		HistoricalPerformance: req.HistoricalPerformance,
		Category:              req.Category,
		Agent:                 req.Agent,
		ContentLength:         req.ContentLength,
		SecuritySensitive:     req.SecuritySensitive,
	}, level)

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleOutcome(c *gin.Context) {
	var req OutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid outcome request: " + err.Error()})
		return
	}
	if req.Category == "" || req.Tier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category and tier are required"})
		return
	}

	// A success with no reported quality counts as fully satisfactory.
	quality := 1.0
	if req.QualityScore != nil {
		quality = *req.QualityScore
	}
	if quality < 0 || quality > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quality_score must be within [0, 1]"})
		return
	}

	s.router.RecordOutcome(c.Request.Context(), router.Outcome{
		Category:     req.Category,
		Tier:         req.Tier,
		Success:      req.Success,
		DurationMs:   req.DurationMs,
		CostUSD:      req.CostUSD,
		QualityScore: quality,
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

func (s *Server) handleTiers(c *gin.Context) {
	tiers := []*registry.TierInfo{}
	for _, id := range s.registry.ListTiers(registry.Filter{}) {
		if info := s.registry.Get(id); info != nil {
			tiers = append(tiers, info)
		}
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}
