// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router implements adaptive model tier selection. It scores a task's
// value and urgency, maps the score plus live budget pressure to the best
// available tier, and refines that mapping over time with a per-category
// bandit learner fed by observed outcomes.
package router

import (
	"time"
)

// Complexity buckets a task's intrinsic difficulty.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// Points maps a complexity bucket to its numeric contribution.
// Unknown values fall back to standard.
func (c Complexity) Points() float64 {
	switch c {
	case ComplexityTrivial:
		return 0
	case ComplexitySimple:
		return 2
	case ComplexityStandard:
		return 4
	case ComplexityComplex:
		return 6
	case ComplexityCritical:
		return 8
	default:
		return 4
	}
}

// BudgetLevel is the coarse spend-pressure signal supplied by the caller's
// budget subsystem.
type BudgetLevel string

const (
	BudgetNormal  BudgetLevel = "normal"
	BudgetWarning BudgetLevel = "warning"
	BudgetReduce  BudgetLevel = "reduce"
	BudgetPause   BudgetLevel = "pause"
)

// Weights is the quality/cost/speed weight triple active for a budget state.
type Weights struct {
	Quality float64 `json:"quality"`
	Cost    float64 `json:"cost"`
	Speed   float64 `json:"speed"`
}

var budgetWeights = map[BudgetLevel]Weights{
	BudgetNormal:  {Quality: 0.40, Cost: 0.20, Speed: 0.15},
	BudgetWarning: {Quality: 0.35, Cost: 0.30, Speed: 0.10},
	BudgetReduce:  {Quality: 0.25, Cost: 0.40, Speed: 0.10},
	BudgetPause:   {Quality: 0.15, Cost: 0.50, Speed: 0.10},
}

// WeightsFor returns the weight triple for a budget level.
// Unknown levels are treated as normal.
func WeightsFor(level BudgetLevel) Weights {
	if w, ok := budgetWeights[level]; ok {
		return w
	}
	return budgetWeights[BudgetNormal]
}

// ScoreInput describes a task to be routed. It is constructed per task by the
// caller and not retained.
type ScoreInput struct {
	// Complexity is the task's difficulty bucket.
	Complexity Complexity `json:"complexity"`
	// Stakes expresses the cost of getting this task wrong (0-10).
	Stakes float64 `json:"stakes"`
	// QualityPriority expresses how much output quality matters (0-10).
	QualityPriority float64 `json:"quality_priority"`
	// BudgetPressure is the current spend pressure (0-10, inverse-weighted).
	BudgetPressure float64 `json:"budget_pressure"`
	// HistoricalPerformance is the caller's own prior-success signal (0-10).
	HistoricalPerformance float64 `json:"historical_performance"`
	// Category names the task type, e.g. "chat", "security", "heartbeat".
	Category string `json:"category"`
	// SecuritySensitive tasks never route to the cheapest tier.
	SecuritySensitive bool `json:"security_sensitive"`
	// Agent identifies the caller. Informational only.
	Agent string `json:"agent"`
	// ContentLength is the task content size in characters; large values
	// trigger the high-context override.
	ContentLength int `json:"content_length"`
}

// ScoreResult is the router's answer for one task.
type ScoreResult struct {
	// Score is the task's value score, always in [0,100].
	Score float64 `json:"score"`
	// RecommendedTier is the chosen tier, always one known to the registry.
	RecommendedTier string `json:"recommended_tier"`
	// Weights is the weight triple active for the current budget state.
	Weights Weights `json:"weights"`
	// Reasoning lists the rules that fired, in order. Diagnostic only.
	Reasoning []string `json:"reasoning"`
}

// Outcome reports how a routed task went. Fed back into the learner.
type Outcome struct {
	Category     string  `json:"category"`
	Tier         string  `json:"tier"`
	Success      bool    `json:"success"`
	DurationMs   int64   `json:"duration_ms"`
	CostUSD      float64 `json:"cost_usd"`
	QualityScore float64 `json:"quality_score"`
}

// FallbackNotice describes one circuit-breaker substitution. Published to the
// event bus whenever the preferred tier is stepped down.
type FallbackNotice struct {
	OriginalTier string    `json:"original_tier"`
	FallbackTier string    `json:"fallback_tier"`
	Reason       string    `json:"reason"`
	Category     string    `json:"category"`
	Timestamp    time.Time `json:"timestamp"`
}
