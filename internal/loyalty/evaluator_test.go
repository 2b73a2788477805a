package loyalty

import (
	"math"
	"testing"

	"github.com/tidepoint/marketplace/internal/domain"
)

func rule(t domain.RuleType, value float64) *domain.LoyaltyRule {
	return &domain.LoyaltyRule{ID: string(t), RuleType: t, Value: value, IsActive: true}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name         string
		amount       float64
		rules        []*domain.LoyaltyRule
		wantPoints   int64
		wantCashback float64
	}{
		{
			name:   "PointsAndCashback",
			amount: 100,
			rules: []*domain.LoyaltyRule{
				rule(domain.RulePointsPerPurchase, 1),
				rule(domain.RuleCashbackPercentage, 0.1),
			},
			wantPoints:   100,
			wantCashback: 10,
		},
		{
			name:       "PointsFloorExact",
			amount:     33,
			rules:      []*domain.LoyaltyRule{rule(domain.RulePointsPerPurchase, 2)},
			wantPoints: 66,
		},
		{
			name:       "PointsFloorFraction",
			amount:     33.7,
			rules:      []*domain.LoyaltyRule{rule(domain.RulePointsPerPurchase, 2)},
			wantPoints: 67,
		},
		{
			name:   "RulesAreAdditive",
			amount: 10,
			rules: []*domain.LoyaltyRule{
				rule(domain.RulePointsPerPurchase, 1),
				rule(domain.RulePointsPerPurchase, 1.5),
				rule(domain.RuleCashbackPercentage, 0.05),
				rule(domain.RuleCashbackPercentage, 0.05),
			},
			wantPoints:   25,
			wantCashback: 1,
		},
		{
			name:   "InactiveIgnored",
			amount: 100,
			rules: []*domain.LoyaltyRule{
				{RuleType: domain.RulePointsPerPurchase, Value: 5, IsActive: false},
				rule(domain.RuleCashbackPercentage, 0.02),
			},
			wantCashback: 2,
		},
		{
			name:   "CheckInRulesIgnored",
			amount: 100,
			rules:  []*domain.LoyaltyRule{rule(domain.RulePointsPerCheckIn, 50)},
		},
		{
			name:   "NoRules",
			amount: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.amount, tt.rules)
			if got.Points != tt.wantPoints {
				t.Errorf("expected %d points, got %d", tt.wantPoints, got.Points)
			}
			if math.Abs(got.Cashback-tt.wantCashback) > 1e-9 {
				t.Errorf("expected cashback %.4f, got %.4f", tt.wantCashback, got.Cashback)
			}
		})
	}
}

func TestEvaluateCashbackUnrounded(t *testing.T) {
	got := Evaluate(33.33, []*domain.LoyaltyRule{rule(domain.RuleCashbackPercentage, 0.1)})
	if math.Abs(got.Cashback-3.333) > 1e-9 {
		t.Errorf("expected unrounded cashback 3.333, got %v", got.Cashback)
	}
	if RoundCurrency(got.Cashback) != 3.33 {
		t.Errorf("expected rounded cashback 3.33, got %v", RoundCurrency(got.Cashback))
	}
}

func TestEvaluateCheckIn(t *testing.T) {
	rules := []*domain.LoyaltyRule{
		rule(domain.RulePointsPerCheckIn, 10),
		rule(domain.RulePointsPerCheckIn, 2.9),
		rule(domain.RulePointsPerPurchase, 100),
		{RuleType: domain.RulePointsPerCheckIn, Value: 40, IsActive: false},
	}

	if got := EvaluateCheckIn(rules); got != 12 {
		t.Errorf("expected 12 check-in points, got %d", got)
	}
}

func TestConditions(t *testing.T) {
	c, err := NewConditions(nil)
	if err != nil {
		t.Fatalf("failed to create conditions: %v", err)
	}

	t.Run("Validate", func(t *testing.T) {
		if err := c.Validate(""); err != nil {
			t.Errorf("empty condition should be valid: %v", err)
		}
		if err := c.Validate(`amount >= 50.0 && currency == "EUR"`); err != nil {
			t.Errorf("expected valid condition: %v", err)
		}
		if err := c.Validate("this is not valid CEL !!!"); err == nil {
			t.Error("expected compile error")
		}
		if err := c.Validate("amount * 2.0"); err == nil {
			t.Error("expected error for non-bool condition")
		}
	})

	t.Run("ApplyFiltersByCondition", func(t *testing.T) {
		big := rule(domain.RuleCashbackPercentage, 0.1)
		big.Condition = "amount >= 50.0"
		always := rule(domain.RulePointsPerPurchase, 1)

		rules := []*domain.LoyaltyRule{big, always}

		small := c.Apply(Purchase{Amount: 20}, rules)
		if small.Points != 20 || small.Cashback != 0 {
			t.Errorf("expected only points for small purchase, got %+v", small)
		}

		large := c.Apply(Purchase{Amount: 80}, rules)
		if large.Points != 80 || math.Abs(large.Cashback-8) > 1e-9 {
			t.Errorf("expected points and cashback for large purchase, got %+v", large)
		}
	})

	t.Run("BrokenConditionSkipsRule", func(t *testing.T) {
		broken := rule(domain.RulePointsPerPurchase, 1)
		broken.Condition = "nope("

		if got := c.Apply(Purchase{Amount: 10}, []*domain.LoyaltyRule{broken}); !got.IsZero() {
			t.Errorf("expected broken rule to be skipped, got %+v", got)
		}
	})

	t.Run("MatchesByBusiness", func(t *testing.T) {
		r := rule(domain.RulePointsPerPurchase, 1)
		r.Condition = `business_id == "biz-1" && tourist_id != ""`

		if !c.Matches(r, Purchase{BusinessID: "biz-1", TouristID: "t-1"}) {
			t.Error("expected match for biz-1")
		}
		if c.Matches(r, Purchase{BusinessID: "biz-2", TouristID: "t-1"}) {
			t.Error("expected no match for biz-2")
		}
	})
}
