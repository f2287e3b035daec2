// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry provides centralized management of the model tiers available
// for routing. It implements a dynamic tier registry with reference counting to
// track active providers and automatically hide tiers when no providers are
// available or a tier has been suspended.
package registry

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Capability classes, ordered from cheapest to most capable.
const (
	ClassEconomy  = "economy"
	ClassStandard = "standard"
	ClassPremium  = "premium"
)

// ClassRank returns the ordering rank of a capability class. Unknown classes
// rank below economy so they never satisfy a minimum-class filter.
func ClassRank(class string) int {
	switch class {
	case ClassEconomy:
		return 0
	case ClassStandard:
		return 1
	case ClassPremium:
		return 2
	default:
		return -1
	}
}

// TierInfo describes a model tier available for routing.
type TierInfo struct {
	// ID is the tier identifier, also the model name sent downstream.
	ID string `json:"id"`
	// Class is the capability class: economy, standard or premium.
	Class string `json:"class"`
	// ContextLength is the tier's context window in tokens.
	ContextLength int `json:"context_length"`
	// CostPerMTok is the blended per-million-token cost in USD.
	CostPerMTok float64 `json:"cost_per_mtok"`
}

// tierRegistration tracks a tier's availability.
type tierRegistration struct {
	info *TierInfo
	// count is the number of active providers that can serve this tier
	count       int
	suspended   string
	lastUpdated time.Time
}

// Filter narrows the tier list returned by ListTiers.
type Filter struct {
	// MinClass, when non-empty, keeps only tiers of at least this capability class.
	MinClass string
	// MinContext, when positive, keeps only tiers with at least this context window.
	MinContext int
}

// TierRegistry manages the registry of available model tiers.
type TierRegistry struct {
	tiers map[string]*tierRegistration
	mu    sync.RWMutex
}

// NewTierRegistry creates a new, empty tier registry.
func NewTierRegistry() *TierRegistry {
	return &TierRegistry{
		tiers: make(map[string]*tierRegistration),
	}
}

// Register adds a tier definition and marks one provider for it as active.
// Registering an already-known tier increments its provider count.
func (r *TierRegistry) Register(info *TierInfo) {
	if info == nil || info.ID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.tiers[info.ID]
	if !ok {
		reg = &tierRegistration{info: cloneTierInfo(info)}
		r.tiers[info.ID] = reg
	}
	reg.count++
	reg.lastUpdated = time.Now()
	log.Debugf("Registered tier %s (class=%s, providers=%d)", info.ID, info.Class, reg.count)
}

// Unregister decrements a tier's provider count. The tier definition is kept
// so it can be re-registered, but it stops being listed once the count is zero.
func (r *TierRegistry) Unregister(tierID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.tiers[tierID]
	if !ok {
		return
	}
	if reg.count > 0 {
		reg.count--
	}
	reg.lastUpdated = time.Now()
	if reg.count == 0 {
		log.Infof("Tier %s has no remaining providers", tierID)
	}
}

// Suspend temporarily removes a tier from listings, e.g. while its provider
// is cooling down from quota exhaustion.
func (r *TierRegistry) Suspend(tierID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.tiers[tierID]; ok {
		reg.suspended = reason
		reg.lastUpdated = time.Now()
		log.Warnf("Tier %s suspended: %s", tierID, reason)
	}
}

// Resume lifts a suspension.
func (r *TierRegistry) Resume(tierID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.tiers[tierID]; ok && reg.suspended != "" {
		reg.suspended = ""
		reg.lastUpdated = time.Now()
		log.Infof("Tier %s resumed", tierID)
	}
}

// Available reports whether a tier is currently listable.
func (r *TierRegistry) Available(tierID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.tiers[tierID]
	return ok && reg.count > 0 && reg.suspended == ""
}

// Get returns a copy of the tier definition, or nil when unknown.
func (r *TierRegistry) Get(tierID string) *TierInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reg, ok := r.tiers[tierID]; ok {
		return cloneTierInfo(reg.info)
	}
	return nil
}

// ListTiers returns the currently available tier IDs matching the filter,
// ordered cheapest first. The ordering is stable so tie-breaks during tier
// selection are deterministic.
func (r *TierRegistry) ListTiers(filter Filter) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []*TierInfo
	for _, reg := range r.tiers {
		if reg.count == 0 || reg.suspended != "" {
			continue
		}
		if filter.MinClass != "" && ClassRank(reg.info.Class) < ClassRank(filter.MinClass) {
			continue
		}
		if filter.MinContext > 0 && reg.info.ContextLength < filter.MinContext {
			continue
		}
		infos = append(infos, reg.info)
	}

	sortByCost(infos)

	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	return ids
}

// ListByContextDesc returns available tier IDs ordered by context window,
// largest first. Cost breaks ties so the cheaper high-context tier wins.
func (r *TierRegistry) ListByContextDesc() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []*TierInfo
	for _, reg := range r.tiers {
		if reg.count == 0 || reg.suspended != "" {
			continue
		}
		infos = append(infos, reg.info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ContextLength != infos[j].ContextLength {
			return infos[i].ContextLength > infos[j].ContextLength
		}
		return infos[i].CostPerMTok < infos[j].CostPerMTok
	})

	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	return ids
}

// CheapestTier returns the cheapest available tier, falling back to the
// cheapest known tier when nothing is currently available. The empty string
// means the registry has never seen a tier.
func (r *TierRegistry) CheapestTier() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var available, known []*TierInfo
	for _, reg := range r.tiers {
		known = append(known, reg.info)
		if reg.count > 0 && reg.suspended == "" {
			available = append(available, reg.info)
		}
	}

	pick := available
	if len(pick) == 0 {
		pick = known
	}
	if len(pick) == 0 {
		return ""
	}
	sortByCost(pick)
	return pick[0].ID
}

// FallbackLadder returns all known tier IDs ordered cheapest to most capable.
// This is the total order the router walks when stepping down from an
// unhealthy tier; suspended and provider-less tiers are included because the
// ladder's bottom rung must always exist.
func (r *TierRegistry) FallbackLadder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*TierInfo, 0, len(r.tiers))
	for _, reg := range r.tiers {
		infos = append(infos, reg.info)
	}
	sortByCost(infos)

	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	return ids
}

func sortByCost(infos []*TierInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CostPerMTok != infos[j].CostPerMTok {
			return infos[i].CostPerMTok < infos[j].CostPerMTok
		}
		if ci, cj := ClassRank(infos[i].Class), ClassRank(infos[j].Class); ci != cj {
			return ci < cj
		}
		return infos[i].ID < infos[j].ID
	})
}

func cloneTierInfo(info *TierInfo) *TierInfo {
	clone := *info
	return &clone
}
