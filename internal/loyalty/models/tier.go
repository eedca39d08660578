package models

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// RewardTier is one band of the referral reward table, keyed by how many
// completed referrals the referrer already has. Higher bands pay more per
// completion.
type RewardTier struct {
	Name         string `yaml:"name" json:"name"`
	MinReferrals int    `yaml:"min_referrals" json:"min_referrals"`
	BasePoints   int64  `yaml:"base_points" json:"base_points"`
	BonusPercent int    `yaml:"bonus_percent" json:"bonus_percent"`
}

// Points returns the per-completion reward for this tier.
func (t RewardTier) Points() int64 {
	return t.BasePoints + t.BasePoints*int64(t.BonusPercent)/100
}

// RewardTable is an ordered set of tiers. The zero band must start at zero
// completed referrals so every referrer lands in some tier.
type RewardTable []RewardTier

// DefaultRewardTable mirrors the shop's long-standing progression: 20 base
// points, +25% from 5 completions, +50% from 10, +100% from 20.
func DefaultRewardTable() RewardTable {
	return RewardTable{
		{Name: "AMICO", MinReferrals: 0, BasePoints: 20, BonusPercent: 0},
		{Name: "ESPERTO", MinReferrals: 5, BasePoints: 20, BonusPercent: 25},
		{Name: "MAESTRO", MinReferrals: 10, BasePoints: 20, BonusPercent: 50},
		{Name: "LEGGENDA", MinReferrals: 20, BasePoints: 20, BonusPercent: 100},
	}
}

// TierFor selects the highest band whose threshold is at or below the
// referrer's completed count. The count is taken BEFORE the completion being
// rewarded, so the fifth completion is still paid at the previous band.
func (rt RewardTable) TierFor(completedReferrals int) RewardTier {
	sorted := make(RewardTable, len(rt))
	copy(sorted, rt)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinReferrals < sorted[j].MinReferrals
	})

	best := RewardTier{Name: "AMICO", BasePoints: 20}
	for _, tier := range sorted {
		if completedReferrals >= tier.MinReferrals {
			best = tier
		}
	}
	return best
}

// Validate rejects tables that would leave some referrer without a band or
// pay nothing.
func (rt RewardTable) Validate() error {
	if len(rt) == 0 {
		return fmt.Errorf("reward table must not be empty")
	}
	hasZero := false
	for _, tier := range rt {
		if tier.MinReferrals == 0 {
			hasZero = true
		}
		if tier.BasePoints <= 0 {
			return fmt.Errorf("reward tier %q must pay a positive base", tier.Name)
		}
		if tier.BonusPercent < 0 {
			return fmt.Errorf("reward tier %q has a negative bonus percent", tier.Name)
		}
	}
	if !hasZero {
		return fmt.Errorf("reward table needs a band starting at zero referrals")
	}
	return nil
}

// LoadRewardTable reads a YAML tier file. Used when the deployment overrides
// the built-in progression.
func LoadRewardTable(path string) (RewardTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reward table: %w", err)
	}
	var doc struct {
		Tiers RewardTable `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse reward table: %w", err)
	}
	if err := doc.Tiers.Validate(); err != nil {
		return nil, err
	}
	return doc.Tiers, nil
}

// PromoWindow is a time-boxed promotional period that doubles referral
// completion bonuses. The zero value is never active.
type PromoWindow struct {
	Start time.Time
	End   time.Time
}

// Active reports whether now falls inside the window.
func (w PromoWindow) Active(now time.Time) bool {
	if w.Start.IsZero() || w.End.IsZero() {
		return false
	}
	return !now.Before(w.Start) && now.Before(w.End)
}
