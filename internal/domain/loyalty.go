package domain

import (
	"context"
	"time"
)

// RuleType selects how a loyalty rule turns activity into rewards.
type RuleType string

const (
	// RuleCashbackPercentage pays amount × value back as cashback. Value is a fraction.
	RuleCashbackPercentage RuleType = "cashback_percentage"

	// RulePointsPerPurchase awards floor(amount × value) points.
	RulePointsPerPurchase RuleType = "points_per_purchase"

	// RulePointsPerCheckIn awards floor(value) points for each visit.
	RulePointsPerCheckIn RuleType = "points_per_checkin"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleCashbackPercentage, RulePointsPerPurchase, RulePointsPerCheckIn:
		return true
	}
	return false
}

// LoyaltyRule is a reward rule configured by one business.
type LoyaltyRule struct {
	ID          string   `json:"id"`
	BusinessID  string   `json:"business_id"`
	RuleType    RuleType `json:"rule_type"`
	Value       float64  `json:"value"`
	IsActive    bool     `json:"is_active"`
	Description string   `json:"description"`

	// Condition is an optional CEL expression that must evaluate to true
	// for the rule to apply to a purchase.
	Condition string `json:"condition,omitempty"`

	CreatedAt time.Time `json:"created_date"`
	UpdatedAt time.Time `json:"updated_date"`
}

// TransactionType tags a ledger entry.
type TransactionType string

const (
	TxEarnPoints     TransactionType = "earn_points"
	TxEarnCashback   TransactionType = "earn_cashback"
	TxCheckIn        TransactionType = "checkin"
	TxRedeemPoints   TransactionType = "redeem_points"
	TxRedeemCashback TransactionType = "redeem_cashback"
)

// BusinessTransaction is an immutable ledger entry for one tourist at one business.
// Redemptions carry negative amounts.
type BusinessTransaction struct {
	ID              string          `json:"id"`
	BusinessID      string          `json:"business_id"`
	TouristID       string          `json:"tourist_id"`
	TransactionType TransactionType `json:"transaction_type"`
	PointsAmount    int64           `json:"points_amount"`
	CashbackAmount  float64         `json:"cashback_amount"`
	Description     string          `json:"description"`

	// Reference is an optional caller-supplied idempotency key, unique per business.
	Reference string `json:"reference,omitempty"`

	CreatedAt time.Time `json:"created_date"`
}

// Tourist holds the running loyalty balances of a visitor.
type Tourist struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name"`
	PointsBalance   int64     `json:"points_balance"`
	CashbackBalance float64   `json:"cashback_balance"`
	CreatedAt       time.Time `json:"created_date"`
	UpdatedAt       time.Time `json:"updated_date"`
}

// BalanceDelta is the change applied to a tourist's balances together with ledger rows.
type BalanceDelta struct {
	Points   int64
	Cashback float64
}

// LoyaltyStore persists loyalty rules, the transaction ledger and tourist balances.
type LoyaltyStore interface {
	SaveLoyaltyRule(ctx context.Context, rule *LoyaltyRule) error
	GetLoyaltyRule(ctx context.Context, businessID, ruleID string) (*LoyaltyRule, error)
	ListLoyaltyRules(ctx context.Context, businessID string, activeOnly bool) ([]*LoyaltyRule, error)
	DeleteLoyaltyRule(ctx context.Context, businessID, ruleID string) error

	SaveTourist(ctx context.Context, tourist *Tourist) error
	GetTourist(ctx context.Context, touristID string) (*Tourist, error)

	// RecordTransactions inserts every ledger row and applies delta to the
	// tourist's balances in one atomic unit. Either all writes land or none do.
	RecordTransactions(ctx context.Context, touristID string, txs []*BusinessTransaction, delta BalanceDelta) (*Tourist, error)
	ListTransactionsByTourist(ctx context.Context, touristID string, limit int) ([]*BusinessTransaction, error)
}
