// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"context"

	"github.com/tierflow/tierflow/internal/registry"
	"github.com/tierflow/tierflow/internal/tracker"
)

// TierRegistry is the router's view of available model tiers.
// *registry.TierRegistry satisfies it.
type TierRegistry interface {
	ListTiers(filter registry.Filter) []string
	ListByContextDesc() []string
	CheapestTier() string
	FallbackLadder() []string
	Get(tierID string) *registry.TierInfo
	Available(tierID string) bool
}

// PerformanceTracker supplies historical outcome statistics per tier.
// *tracker.Store satisfies it.
type PerformanceTracker interface {
	GetPerformanceStats(ctx context.Context, tier string) (*tracker.PerformanceStats, error)
	Record(ctx context.Context, record *tracker.OutcomeRecord) error
}

// Store persists the learner state between processes. Implementations must
// tolerate a missing or corrupt snapshot by returning an empty state.
type Store interface {
	Load() (*State, error)
	Save(state *State) error
}
