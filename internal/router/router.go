// Package router picks a platform for a task based on cost tiers and quota state.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/quantlab/dispatch/internal/domain/task"
	"github.com/quantlab/dispatch/internal/quota"
)

// ErrQuotasExhausted is returned when no platform has quota headroom left.
var ErrQuotasExhausted = errors.New("no platforms available: all quotas exhausted")

// Tier priorities, cheapest first.
const (
	PriorityFree         = 1
	PrioritySubscription = 2
	PriorityPaid         = 3
)

// CostTier binds a platform to its quota key and cost class.
type CostTier struct {
	Platform   task.Platform `json:"platform"`
	QuotaKey   string        `json:"quota_key"`
	Priority   int           `json:"priority"`
	CostPerReq float64       `json:"cost_per_req"`
}

// DefaultCostTiers returns the static tier table, ascending by priority.
func DefaultCostTiers() []CostTier {
	return []CostTier{
		{Platform: task.PlatformGemini, QuotaKey: "gemini_free", Priority: PriorityFree},
		{Platform: task.PlatformClaudeCode, QuotaKey: "claude_subscription", Priority: PrioritySubscription},
		{Platform: task.PlatformChatGPT, QuotaKey: "openai_api", Priority: PriorityPaid, CostPerReq: 0.02},
	}
}

// Router selects platforms cost-first. The tier table is fixed at
// construction; within equal priority, declaration order is the tie-break.
type Router struct {
	tiers []CostTier
}

// New creates a router over the given tiers, or the default table when none
// are given.
func New(tiers ...CostTier) *Router {
	if len(tiers) == 0 {
		tiers = DefaultCostTiers()
	}
	ordered := make([]CostTier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return &Router{tiers: ordered}
}

// Tiers returns the ordered tier table.
func (r *Router) Tiers() []CostTier {
	out := make([]CostTier, len(r.tiers))
	copy(out, r.tiers)
	return out
}

// TierFor returns the tier configured for the given platform.
func (r *Router) TierFor(p task.Platform) (CostTier, bool) {
	for _, tier := range r.tiers {
		if tier.Platform == p {
			return tier, true
		}
	}
	return CostTier{}, false
}

// RouteCostOptimized picks a platform for the task. An admissible platform
// hint bypasses tier order but never quota checks; otherwise the cheapest
// admissible tier wins. ErrQuotasExhausted is returned when nothing admits.
func (r *Router) RouteCostOptimized(t *task.Task, tracker *quota.Tracker) (task.Platform, error) {
	if t.Platform != "" {
		if tier, ok := r.TierFor(t.Platform); ok {
			if tracker.CanUse(tier.QuotaKey) {
				return tier.Platform, nil
			}
			slog.Debug("hinted platform quota exhausted, falling back to tier order",
				"platform", t.Platform, "quota_key", tier.QuotaKey)
		}
	}

	for _, tier := range r.tiers {
		if tracker.CanUse(tier.QuotaKey) {
			return tier.Platform, nil
		}
	}

	return "", ErrQuotasExhausted
}

// WarnQuotaThreshold returns one human-readable warning per finite-limit
// quota whose usage percentage is at or above the threshold. Keys without a
// limit are never warned about.
func (r *Router) WarnQuotaThreshold(tracker *quota.Tracker, thresholdPct float64) []string {
	status := tracker.GetStatus()

	keys := make([]string, 0, len(status))
	for key := range status {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var warnings []string
	for _, key := range keys {
		st := status[key]
		if st.Limit == nil {
			continue
		}
		if st.Percentage >= thresholdPct {
			warnings = append(warnings, fmt.Sprintf(
				"quota %s at %.0f%% (%d/%d used)", key, st.Percentage, st.Used, *st.Limit))
		}
	}
	return warnings
}
