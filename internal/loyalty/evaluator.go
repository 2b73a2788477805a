// Package loyalty computes and records loyalty rewards at the point of sale.
package loyalty

import (
	"math"

	"github.com/tidepoint/marketplace/internal/domain"
)

// Reward is the benefit earned by one purchase.
type Reward struct {
	Points   int64   `json:"points"`
	Cashback float64 `json:"cashback"`
}

// IsZero reports whether the reward carries no benefit.
func (r Reward) IsZero() bool {
	return r.Points == 0 && r.Cashback == 0
}

// Evaluate maps a purchase amount and a set of rules to the reward earned.
// Every active rule applies: points rules add floor(amount × value) and
// cashback rules add amount × value. Rules are additive with no cap and no
// precedence. Cashback is not rounded here; use RoundCurrency when presenting.
func Evaluate(amount float64, rules []*domain.LoyaltyRule) Reward {
	var out Reward
	for _, rule := range rules {
		if rule == nil || !rule.IsActive {
			continue
		}
		switch rule.RuleType {
		case domain.RulePointsPerPurchase:
			out.Points += int64(math.Floor(amount * rule.Value))
		case domain.RuleCashbackPercentage:
			out.Cashback += amount * rule.Value
		}
	}
	return out
}

// EvaluateCheckIn returns the points earned for one visit.
func EvaluateCheckIn(rules []*domain.LoyaltyRule) int64 {
	var points int64
	for _, rule := range rules {
		if rule == nil || !rule.IsActive || rule.RuleType != domain.RulePointsPerCheckIn {
			continue
		}
		points += int64(math.Floor(rule.Value))
	}
	return points
}

// RoundCurrency rounds v to cents.
func RoundCurrency(v float64) float64 {
	return math.Round(v*100) / 100
}
