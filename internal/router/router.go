// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tierflow/tierflow/internal/breaker"
	"github.com/tierflow/tierflow/internal/config"
	"github.com/tierflow/tierflow/internal/events"
	"github.com/tierflow/tierflow/internal/tracker"
)

// Reward shaping reference scales: a call at or above these costs nothing
// toward the efficiency bonuses.
const (
	costReferenceUSD   = 0.05
	speedReferenceMs   = 10000
	minStatSampleSize  = 5
	highScoreBand      = 85.0
	midScoreBandLow    = 60.0
	lowScoreBand       = 50.0
	pauseEscapeScore   = 80.0
	heuristicBonusHit  = 5.0
	qWeight            = 0.6
	perfWeight         = 0.2
	heuristicWeightFac = 0.2
)

// Router maps tasks to model tiers and learns from their outcomes.
type Router struct {
	registry TierRegistry
	tracker  PerformanceTracker
	breaker  breaker.Breaker
	learner  *Learner
	bus      *events.Bus

	mu  sync.RWMutex
	cfg config.RouterConfig

	randMu sync.Mutex
	rng    *rand.Rand
}

// Option customizes Router construction.
type Option func(*Router)

// WithEventBus attaches a telemetry bus for fallback and outcome events.
func WithEventBus(bus *events.Bus) Option {
	return func(r *Router) { r.bus = bus }
}

// WithRandSource injects a deterministic random source, making exploration
// branches reproducible in tests.
func WithRandSource(src rand.Source) Option {
	return func(r *Router) { r.rng = rand.New(src) }
}

// New constructs a Router. The learner state is loaded from store best-effort;
// a missing or corrupt snapshot starts an empty table, never a fatal error.
func New(cfg config.RouterConfig, reg TierRegistry, trk PerformanceTracker, brk breaker.Breaker, store Store, opts ...Option) *Router {
	r := &Router{
		registry: reg,
		tracker:  trk,
		breaker:  brk,
		learner:  NewLearner(store, cfg.LearningRate),
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpdateConfig swaps the router tunables. Called from the config watcher.
func (r *Router) UpdateConfig(cfg config.RouterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	log.Infof("Router config updated (epsilon=%.2f, large-context=%d chars)", cfg.Epsilon, cfg.LargeContextChars)
}

func (r *Router) configSnapshot() config.RouterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Learner exposes the bandit table for inspection endpoints.
func (r *Router) Learner() *Learner {
	return r.learner
}

// Score rates a task and recommends the tier that should handle it.
// It never fails for well-typed input: with no tiers available it degrades to
// the cheapest known tier and says so in the reasoning trace.
func (r *Router) Score(ctx context.Context, in ScoreInput, level BudgetLevel) ScoreResult {
	cfg := r.configSnapshot()

	raw := rawScore(in)
	score := normalizeScore(raw)

	reasons := []string{
		fmt.Sprintf("complexity=%s (%.0f pts)", in.Complexity, in.Complexity.Points()),
		fmt.Sprintf("stakes=%.1f quality-priority=%.1f", in.Stakes, in.QualityPriority),
		fmt.Sprintf("budget=%s pressure=%.1f", level, in.BudgetPressure),
	}

	tier := r.selectTier(ctx, cfg, score, in, level, &reasons)
	tier = r.applyFallback(tier, in.Category, &reasons)

	reasons = append(reasons, fmt.Sprintf("final score=%.1f tier=%s", score, tier))

	return ScoreResult{
		Score:           score,
		RecommendedTier: tier,
		Weights:         WeightsFor(level),
		Reasoning:       reasons,
	}
}

// RecordOutcome feeds a task result back into the learner and the outcome
// store. It never returns an error: persistence problems are logged and the
// state degrades to its last good snapshot.
func (r *Router) RecordOutcome(ctx context.Context, out Outcome) {
	reward := -10.0
	if out.Success {
		reward = out.QualityScore * 10
		costEfficiency := clamp(1-out.CostUSD/costReferenceUSD, 0, 1)
		speedEfficiency := clamp(1-float64(out.DurationMs)/speedReferenceMs, 0, 1)
		reward += costEfficiency*2 + speedEfficiency*2
	}

	r.learner.Update(out.Category, out.Tier, reward)

	if r.tracker != nil {
		rec := &tracker.OutcomeRecord{
			Timestamp:    time.Now(),
			Tier:         out.Tier,
			Category:     out.Category,
			Success:      out.Success,
			QualityScore: out.QualityScore,
			LatencyMs:    out.DurationMs,
			CostUSD:      out.CostUSD,
		}
		if err := r.tracker.Record(ctx, rec); err != nil {
			log.Warnf("Failed to record outcome for %s/%s: %v", out.Category, out.Tier, err)
		}
	}

	if r.bus != nil {
		r.bus.PublishAsync(&events.Event{
			Type:      events.EventOutcomeRecorded,
			Timestamp: time.Now(),
			Tier:      out.Tier,
			Category:  out.Category,
			Data: map[string]interface{}{
				"success": out.Success,
				"reward":  reward,
			},
		})
	}
}

// epsilonRoll returns true when this selection should explore.
func (r *Router) epsilonRoll(epsilon float64) bool {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rng.Float64() < epsilon
}

func (r *Router) randIndex(n int) int {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rng.Intn(n)
}
