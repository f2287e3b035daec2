// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tierflow/tierflow/internal/config"
	"github.com/tierflow/tierflow/internal/events"
	"github.com/tierflow/tierflow/internal/registry"
)

// selectTier applies the ordered routing policy. Each rule short-circuits the
// rest; the epsilon-greedy learner is the default path.
func (r *Router) selectTier(ctx context.Context, cfg config.RouterConfig, score float64, in ScoreInput, level BudgetLevel, reasons *[]string) string {
	// Rule 1: context-window override. Tasks too large for ordinary tiers
	// go to the highest-context tier that can hold them.
	if cfg.LargeContextChars > 0 && in.ContentLength > cfg.LargeContextChars {
		needTokens := in.ContentLength / largeContextDenom
		for _, id := range r.registry.ListByContextDesc() {
			info := r.registry.Get(id)
			if info != nil && info.ContextLength >= needTokens {
				*reasons = append(*reasons, fmt.Sprintf("context override: %d chars → %s", in.ContentLength, id))
				return id
			}
		}
		// No registered tier can hold it: fall through.
		*reasons = append(*reasons, fmt.Sprintf("context override: %d chars but no high-context tier available", in.ContentLength))
	}

	// Rule 2: fixed cheap-tier categories, e.g. heartbeats.
	for _, category := range cfg.CheapTierCategories {
		if in.Category == category {
			tier := r.cheapestOrEmpty(reasons)
			*reasons = append(*reasons, fmt.Sprintf("category override: %s → cheapest tier", in.Category))
			return tier
		}
	}

	// Rule 3: security-sensitive tasks bypass the learner entirely and never
	// get the cheapest tier, not even by exploration or budget pause.
	if in.SecuritySensitive {
		tier := r.minCapableTier(cfg)
		*reasons = append(*reasons, fmt.Sprintf("security override → %s", tier))
		return tier
	}

	// Rule 4: budget pause routes cheap, except genuinely high-value work
	// which still gets a minimally capable tier.
	if level == BudgetPause {
		if score >= pauseEscapeScore {
			tier := r.minCapableTier(cfg)
			*reasons = append(*reasons, fmt.Sprintf("budget pause with score %.1f → min capable tier %s", score, tier))
			return tier
		}
		tier := r.cheapestOrEmpty(reasons)
		*reasons = append(*reasons, "budget pause → cheapest tier")
		return tier
	}

	// Rule 5: epsilon-greedy selection over the available tiers.
	available := r.registry.ListTiers(registry.Filter{})
	if len(available) == 0 {
		return r.cheapestOrEmpty(reasons)
	}

	if r.epsilonRoll(cfg.Epsilon) {
		tier := available[r.randIndex(len(available))]
		*reasons = append(*reasons, fmt.Sprintf("rl exploration → %s", tier))
		return tier
	}

	best := available[0]
	bestValue := r.tierValue(ctx, available[0], in.Category, score)
	for _, id := range available[1:] {
		if v := r.tierValue(ctx, id, in.Category, score); v > bestValue {
			best, bestValue = id, v
		}
	}
	*reasons = append(*reasons, fmt.Sprintf("rl exploitation → %s (value %.2f)", best, bestValue))
	return best
}

// tierValue combines the learned action value, tracked performance and a
// score-band heuristic into one comparable number.
func (r *Router) tierValue(ctx context.Context, tierID, category string, score float64) float64 {
	q := r.learner.Q(category, tierID)
	perf := r.performanceWeight(ctx, tierID, category)
	bonus := r.heuristicBonus(tierID, score)
	return q*qWeight + perf*5*perfWeight + bonus*heuristicWeightFac
}

// performanceWeight folds tracked quality, error rate and latency into a
// multiplier. Pairs with thin history stay neutral at 1.0 so new tiers are
// not penalized before they have had a chance.
func (r *Router) performanceWeight(ctx context.Context, tierID, category string) float64 {
	if r.tracker == nil {
		return 1.0
	}

	stats, err := r.tracker.GetPerformanceStats(ctx, tierID)
	if err != nil {
		log.Debugf("Performance stats unavailable for %s: %v", tierID, err)
		return 1.0
	}

	for _, cs := range stats.Categories {
		if cs.Category != category {
			continue
		}
		if cs.TotalCalls < minStatSampleSize {
			return 1.0
		}
		qualityNorm := clamp(cs.AvgQuality, 0, 1)
		latencyNorm := clamp(1-cs.AvgLatencyMs/speedReferenceMs, 0, 1)
		return 0.5 + (qualityNorm*0.4 + (1-cs.ErrorRate)*0.3 + latencyNorm*0.3)
	}
	return 1.0
}

// heuristicBonus rewards tiers whose capability class matches the score band.
func (r *Router) heuristicBonus(tierID string, score float64) float64 {
	info := r.registry.Get(tierID)
	if info == nil {
		return 0
	}

	switch {
	case score >= highScoreBand:
		if info.Class == registry.ClassPremium {
			return heuristicBonusHit
		}
	case score >= midScoreBandLow:
		if info.Class == registry.ClassStandard {
			return heuristicBonusHit
		}
	case score < lowScoreBand:
		if info.Class == registry.ClassEconomy {
			return heuristicBonusHit
		}
	}
	return 0
}

// minCapableTier returns the cheapest available tier meeting the configured
// minimum capability class, degrading to the cheapest known tier when none
// qualifies.
func (r *Router) minCapableTier(cfg config.RouterConfig) string {
	candidates := r.registry.ListTiers(registry.Filter{MinClass: cfg.MinCapableClass})
	if len(candidates) > 0 {
		return candidates[0]
	}
	return r.registry.CheapestTier()
}

func (r *Router) cheapestOrEmpty(reasons *[]string) string {
	tier := r.registry.CheapestTier()
	if tier == "" {
		*reasons = append(*reasons, "no tiers known to registry")
	}
	return tier
}

// applyFallback walks the chosen tier through the circuit breaker, stepping
// down the cheapest-to-most-capable ladder one rung at a time. The bottom
// rung is returned as a last resort even when the breaker rejects it too, so
// the walk always terminates. Each substitution is published to the bus.
func (r *Router) applyFallback(tierID, category string, reasons *[]string) string {
	if tierID == "" || r.breaker == nil || r.breaker.CanExecute(tierID) {
		return tierID
	}

	ladder := r.registry.FallbackLadder()
	pos := indexOf(ladder, tierID)

	current := tierID
	for pos > 0 {
		pos--
		candidate := ladder[pos]
		r.notifyFallback(current, candidate, "circuit breaker open", category)
		*reasons = append(*reasons, fmt.Sprintf("fallback: %s → %s (breaker open)", current, candidate))
		current = candidate
		if r.breaker.CanExecute(current) {
			return current
		}
	}
	return current
}

func (r *Router) notifyFallback(original, fallback, reason, category string) {
	log.Warnf("Tier fallback %s → %s: %s", original, fallback, reason)
	if r.bus == nil {
		return
	}

	notice := FallbackNotice{
		OriginalTier: original,
		FallbackTier: fallback,
		Reason:       reason,
		Category:     category,
		Timestamp:    time.Now(),
	}
	r.bus.PublishAsync(&events.Event{
		Type:      events.EventModelFallback,
		Timestamp: notice.Timestamp,
		Tier:      fallback,
		Category:  category,
		Data: map[string]interface{}{
			"original_tier": notice.OriginalTier,
			"fallback_tier": notice.FallbackTier,
			"reason":        notice.Reason,
		},
	})
}

func indexOf(list []string, target string) int {
	for i, v := range list {
		if v == target {
			return i
		}
	}
	return -1
}
