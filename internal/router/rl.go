// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
)

// State is the learner's persisted snapshot: per-category, per-tier action
// values and visit counts. Unseen (category, tier) pairs implicitly have a
// value of 0.
type State struct {
	QTable map[string]map[string]float64 `json:"q_table"`
	Visits map[string]map[string]int     `json:"visits"`
}

// NewState returns an empty learner state.
func NewState() *State {
	return &State{
		QTable: make(map[string]map[string]float64),
		Visits: make(map[string]map[string]int),
	}
}

// sanitize drops non-finite action values left behind by a bad snapshot.
func (s *State) sanitize() {
	if s.QTable == nil {
		s.QTable = make(map[string]map[string]float64)
	}
	if s.Visits == nil {
		s.Visits = make(map[string]map[string]int)
	}
	for category, tiers := range s.QTable {
		for tier, q := range tiers {
			if math.IsNaN(q) || math.IsInf(q, 0) {
				log.Warnf("Dropping non-finite action value for %s/%s", category, tier)
				delete(tiers, tier)
			}
		}
		if len(tiers) == 0 {
			delete(s.QTable, category)
		}
	}
}

// Learner maintains the bandit table. All methods are safe for concurrent
// use; the read-modify-write-persist sequence in Update is serialized under
// a single mutex.
type Learner struct {
	mu    sync.Mutex
	state *State
	alpha float64
	store Store
}

// NewLearner loads the learner state from the store. Load failures are not
// fatal: the learner starts empty and heals the snapshot on the next save.
func NewLearner(store Store, alpha float64) *Learner {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}

	state := NewState()
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			log.Warnf("Failed to load learner state, starting empty: %v", err)
		} else if loaded != nil {
			state = loaded
		}
	}
	state.sanitize()

	return &Learner{
		state: state,
		alpha: alpha,
		store: store,
	}
}

// Q returns the current action value for a (category, tier) pair.
func (l *Learner) Q(category, tier string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tiers, ok := l.state.QTable[category]; ok {
		return tiers[tier]
	}
	return 0
}

// VisitCount returns how many outcomes have been applied to a pair.
func (l *Learner) VisitCount(category, tier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tiers, ok := l.state.Visits[category]; ok {
		return tiers[tier]
	}
	return 0
}

// Update applies the single-step bandit nudge Q += alpha*(reward-Q),
// increments the visit counter and persists the full state. Persistence
// failures are logged, never propagated: losing one nudge is recoverable,
// crashing the caller is not.
func (l *Learner) Update(category, tier string, reward float64) {
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		log.Warnf("Ignoring non-finite reward for %s/%s", category, tier)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tiers, ok := l.state.QTable[category]
	if !ok {
		tiers = make(map[string]float64)
		l.state.QTable[category] = tiers
	}
	visits, ok := l.state.Visits[category]
	if !ok {
		visits = make(map[string]int)
		l.state.Visits[category] = visits
	}

	q := tiers[tier]
	tiers[tier] = q + l.alpha*(reward-q)
	visits[tier]++

	if l.store != nil {
		if err := l.store.Save(l.state); err != nil {
			log.Warnf("Failed to persist learner state: %v", err)
		}
	}
}

// Snapshot returns a deep copy of the learner state for inspection.
func (l *Learner) Snapshot() *State {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := NewState()
	for category, tiers := range l.state.QTable {
		copied := make(map[string]float64, len(tiers))
		for tier, q := range tiers {
			copied[tier] = q
		}
		out.QTable[category] = copied
	}
	for category, tiers := range l.state.Visits {
		copied := make(map[string]int, len(tiers))
		for tier, n := range tiers {
			copied[tier] = n
		}
		out.Visits[category] = copied
	}
	return out
}
