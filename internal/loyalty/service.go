package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tidepoint/marketplace/internal/domain"
)

var tracer = otel.Tracer("tidepoint-loyalty")

// ErrInvalidRequest is returned for malformed purchases, redemptions and rules.
var ErrInvalidRequest = errors.New("invalid loyalty request")

// Receipt is the outcome of a checkout, check-in or redemption.
type Receipt struct {
	Reward       Reward                        `json:"reward"`
	Transactions []*domain.BusinessTransaction `json:"transactions"`
	Tourist      *domain.Tourist               `json:"tourist"`
}

// Redemption spends part of a tourist's balances at a business.
type Redemption struct {
	BusinessID  string  `json:"business_id"`
	TouristID   string  `json:"tourist_id"`
	Points      int64   `json:"points"`
	Cashback    float64 `json:"cashback"`
	Description string  `json:"description,omitempty"`
	Reference   string  `json:"reference,omitempty"`
}

// RecordedEvent is published after ledger rows are committed.
type RecordedEvent struct {
	BusinessID   string                        `json:"business_id"`
	TouristID    string                        `json:"tourist_id"`
	Transactions []*domain.BusinessTransaction `json:"transactions"`
	RecordedAt   time.Time                     `json:"recorded_at"`
}

// Service runs the point-of-sale flows and manages loyalty rules.
type Service struct {
	store      domain.LoyaltyStore
	conditions *Conditions
	bus        domain.EventBus
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a loyalty service. bus may be nil.
func NewService(store domain.LoyaltyStore, conditions *Conditions, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		conditions: conditions,
		bus:        bus,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Checkout evaluates the business's active rules for a purchase and records
// one ledger row per non-zero benefit together with the balance change.
func (s *Service) Checkout(ctx context.Context, p Purchase) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "loyalty.Checkout")
	defer span.End()

	span.SetAttributes(
		attribute.String("business.id", p.BusinessID),
		attribute.String("tourist.id", p.TouristID),
		attribute.Float64("purchase.amount", p.Amount),
	)

	if p.BusinessID == "" || p.TouristID == "" {
		return nil, fmt.Errorf("%w: business_id and tourist_id are required", ErrInvalidRequest)
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	rules, err := s.store.ListLoyaltyRules(ctx, p.BusinessID, true)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to load loyalty rules: %w", err))
	}

	reward := s.conditions.Apply(p, rules)
	now := s.now()

	var txs []*domain.BusinessTransaction
	if reward.Points > 0 {
		txs = append(txs, &domain.BusinessTransaction{
			ID:              uuid.New().String(),
			BusinessID:      p.BusinessID,
			TouristID:       p.TouristID,
			TransactionType: domain.TxEarnPoints,
			PointsAmount:    reward.Points,
			Description:     describe(p.Description, "Purchase of %.2f", p.Amount),
			Reference:       p.Reference,
			CreatedAt:       now,
		})
	}
	if reward.Cashback > 0 {
		txs = append(txs, &domain.BusinessTransaction{
			ID:              uuid.New().String(),
			BusinessID:      p.BusinessID,
			TouristID:       p.TouristID,
			TransactionType: domain.TxEarnCashback,
			CashbackAmount:  reward.Cashback,
			Description:     describe(p.Description, "Cashback on purchase of %.2f", p.Amount),
			Reference:       suffixReference(p.Reference, "cashback"),
			CreatedAt:       now,
		})
	}

	if len(txs) == 0 {
		tourist, err := s.store.GetTourist(ctx, p.TouristID)
		if err != nil {
			return nil, s.fail(span, err)
		}
		return &Receipt{Reward: reward, Tourist: tourist}, nil
	}

	tourist, err := s.store.RecordTransactions(ctx, p.TouristID, txs, domain.BalanceDelta{
		Points:   reward.Points,
		Cashback: reward.Cashback,
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	span.SetAttributes(
		attribute.Int64("reward.points", reward.Points),
		attribute.Float64("reward.cashback", reward.Cashback),
	)

	s.publish(ctx, p.BusinessID, p.TouristID, txs)

	return &Receipt{Reward: reward, Transactions: txs, Tourist: tourist}, nil
}

// CheckIn records a visit and awards the business's check-in points.
// A visit is recorded even when no check-in rule is active.
func (s *Service) CheckIn(ctx context.Context, businessID, touristID, reference string) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "loyalty.CheckIn")
	defer span.End()

	if businessID == "" || touristID == "" {
		return nil, fmt.Errorf("%w: business_id and tourist_id are required", ErrInvalidRequest)
	}

	rules, err := s.store.ListLoyaltyRules(ctx, businessID, true)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to load loyalty rules: %w", err))
	}

	points := EvaluateCheckIn(rules)
	txs := []*domain.BusinessTransaction{{
		ID:              uuid.New().String(),
		BusinessID:      businessID,
		TouristID:       touristID,
		TransactionType: domain.TxCheckIn,
		PointsAmount:    points,
		Description:     "Check-in",
		Reference:       reference,
		CreatedAt:       s.now(),
	}}

	tourist, err := s.store.RecordTransactions(ctx, touristID, txs, domain.BalanceDelta{Points: points})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.publish(ctx, businessID, touristID, txs)

	return &Receipt{Reward: Reward{Points: points}, Transactions: txs, Tourist: tourist}, nil
}

// Redeem spends points and/or cashback. Nothing is written when either
// balance would go negative.
func (s *Service) Redeem(ctx context.Context, r Redemption) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "loyalty.Redeem")
	defer span.End()

	if r.BusinessID == "" || r.TouristID == "" {
		return nil, fmt.Errorf("%w: business_id and tourist_id are required", ErrInvalidRequest)
	}
	if r.Points < 0 || r.Cashback < 0 || (r.Points == 0 && r.Cashback == 0) {
		return nil, fmt.Errorf("%w: redemption must spend a positive amount", ErrInvalidRequest)
	}

	now := s.now()

	var txs []*domain.BusinessTransaction
	if r.Points > 0 {
		txs = append(txs, &domain.BusinessTransaction{
			ID:              uuid.New().String(),
			BusinessID:      r.BusinessID,
			TouristID:       r.TouristID,
			TransactionType: domain.TxRedeemPoints,
			PointsAmount:    -r.Points,
			Description:     describe(r.Description, "Redeemed %d points", r.Points),
			Reference:       r.Reference,
			CreatedAt:       now,
		})
	}
	if r.Cashback > 0 {
		txs = append(txs, &domain.BusinessTransaction{
			ID:              uuid.New().String(),
			BusinessID:      r.BusinessID,
			TouristID:       r.TouristID,
			TransactionType: domain.TxRedeemCashback,
			CashbackAmount:  -r.Cashback,
			Description:     describe(r.Description, "Redeemed %.2f cashback", r.Cashback),
			Reference:       suffixReference(r.Reference, "cashback"),
			CreatedAt:       now,
		})
	}

	tourist, err := s.store.RecordTransactions(ctx, r.TouristID, txs, domain.BalanceDelta{
		Points:   -r.Points,
		Cashback: -r.Cashback,
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.publish(ctx, r.BusinessID, r.TouristID, txs)

	return &Receipt{Reward: Reward{Points: -r.Points, Cashback: -r.Cashback}, Transactions: txs, Tourist: tourist}, nil
}

// CreateRule validates and stores a new rule for businessID.
func (s *Service) CreateRule(ctx context.Context, businessID string, rule *domain.LoyaltyRule) (*domain.LoyaltyRule, error) {
	rule.ID = uuid.New().String()
	rule.BusinessID = businessID
	rule.CreatedAt = time.Time{}

	if err := s.validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.store.SaveLoyaltyRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save loyalty rule: %w", err)
	}

	s.logger.Info("loyalty rule created",
		"business_id", businessID,
		"rule_id", rule.ID,
		"rule_type", rule.RuleType,
	)
	return rule, nil
}

// UpdateRule replaces an existing rule. Edits apply to later purchases only.
func (s *Service) UpdateRule(ctx context.Context, businessID, ruleID string, rule *domain.LoyaltyRule) (*domain.LoyaltyRule, error) {
	existing, err := s.store.GetLoyaltyRule(ctx, businessID, ruleID)
	if err != nil {
		return nil, err
	}

	rule.ID = existing.ID
	rule.BusinessID = existing.BusinessID
	rule.CreatedAt = existing.CreatedAt

	if err := s.validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.store.SaveLoyaltyRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save loyalty rule: %w", err)
	}
	return rule, nil
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, businessID, ruleID string) error {
	return s.store.DeleteLoyaltyRule(ctx, businessID, ruleID)
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, businessID, ruleID string) (*domain.LoyaltyRule, error) {
	return s.store.GetLoyaltyRule(ctx, businessID, ruleID)
}

// ListRules returns a business's rules.
func (s *Service) ListRules(ctx context.Context, businessID string, activeOnly bool) ([]*domain.LoyaltyRule, error) {
	return s.store.ListLoyaltyRules(ctx, businessID, activeOnly)
}

// RegisterTourist creates a tourist with zero balances.
func (s *Service) RegisterTourist(ctx context.Context, email, fullName string) (*domain.Tourist, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidRequest)
	}

	tourist := &domain.Tourist{
		ID:       uuid.New().String(),
		Email:    email,
		FullName: fullName,
	}
	if err := s.store.SaveTourist(ctx, tourist); err != nil {
		return nil, fmt.Errorf("failed to save tourist: %w", err)
	}
	return tourist, nil
}

// GetTourist returns a tourist with current balances.
func (s *Service) GetTourist(ctx context.Context, touristID string) (*domain.Tourist, error) {
	return s.store.GetTourist(ctx, touristID)
}

// ListTransactions returns a tourist's ledger, newest first.
func (s *Service) ListTransactions(ctx context.Context, touristID string, limit int) ([]*domain.BusinessTransaction, error) {
	return s.store.ListTransactionsByTourist(ctx, touristID, limit)
}

func (s *Service) validateRule(rule *domain.LoyaltyRule) error {
	if !rule.RuleType.Valid() {
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidRequest, rule.RuleType)
	}
	if rule.Value < 0 {
		return fmt.Errorf("%w: value must not be negative", ErrInvalidRequest)
	}
	if rule.RuleType == domain.RuleCashbackPercentage && rule.Value > 1 {
		return fmt.Errorf("%w: cashback percentage is a fraction between 0 and 1", ErrInvalidRequest)
	}
	if err := s.conditions.Validate(rule.Condition); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// publish announces committed ledger rows. Failures are logged only.
func (s *Service) publish(ctx context.Context, businessID, touristID string, txs []*domain.BusinessTransaction) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(RecordedEvent{
		BusinessID:   businessID,
		TouristID:    touristID,
		Transactions: txs,
		RecordedAt:   s.now(),
	})
	if err != nil {
		s.logger.Error("failed to encode loyalty event", "error", err)
		return
	}

	if err := s.bus.Publish(ctx, domain.TopicLoyaltyRecorded, payload); err != nil {
		s.logger.Warn("failed to publish loyalty event",
			"business_id", businessID,
			"tourist_id", touristID,
			"error", err,
		)
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func describe(custom, format string, args ...any) string {
	if custom != "" {
		return custom
	}
	return fmt.Sprintf(format, args...)
}

func suffixReference(ref, suffix string) string {
	if ref == "" {
		return ""
	}
	return ref + ":" + suffix
}
