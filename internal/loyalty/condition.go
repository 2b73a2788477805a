package loyalty

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/tidepoint/marketplace/internal/domain"
)

// Purchase is a single sale at a business.
type Purchase struct {
	BusinessID  string  `json:"business_id"`
	TouristID   string  `json:"tourist_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	Description string  `json:"description,omitempty"`

	// Reference is an optional idempotency key, unique per business.
	Reference string `json:"reference,omitempty"`
}

// Conditions compiles and evaluates optional CEL conditions attached to rules.
// Programs are cached by expression text.
type Conditions struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
	logger   *slog.Logger
}

// NewConditions creates a condition evaluator.
func NewConditions(logger *slog.Logger) (*Conditions, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("business_id", cel.StringType),
		cel.Variable("tourist_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Conditions{
		env:      env,
		programs: make(map[string]cel.Program),
		logger:   logger,
	}, nil
}

// Validate compiles expr and checks that it yields a bool.
// An empty expression is always valid.
func (c *Conditions) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := c.program(expr)
	return err
}

// Matches reports whether rule applies to p. Rules without a condition
// always match. A condition that fails to evaluate does not match.
func (c *Conditions) Matches(rule *domain.LoyaltyRule, p Purchase) bool {
	if rule.Condition == "" {
		return true
	}

	prg, err := c.program(rule.Condition)
	if err != nil {
		c.logger.Warn("loyalty rule condition invalid", "rule_id", rule.ID, "error", err)
		return false
	}

	out, _, err := prg.Eval(map[string]any{
		"amount":      p.Amount,
		"currency":    p.Currency,
		"business_id": p.BusinessID,
		"tourist_id":  p.TouristID,
	})
	if err != nil {
		c.logger.Warn("loyalty rule condition failed", "rule_id", rule.ID, "error", err)
		return false
	}

	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// Filter returns the active rules whose conditions match p.
func (c *Conditions) Filter(rules []*domain.LoyaltyRule, p Purchase) []*domain.LoyaltyRule {
	out := make([]*domain.LoyaltyRule, 0, len(rules))
	for _, rule := range rules {
		if rule == nil || !rule.IsActive {
			continue
		}
		if c.Matches(rule, p) {
			out = append(out, rule)
		}
	}
	return out
}

// Apply filters rules by condition and evaluates the purchase.
func (c *Conditions) Apply(p Purchase, rules []*domain.LoyaltyRule) Reward {
	return Evaluate(p.Amount, c.Filter(rules, p))
}

func (c *Conditions) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	c.mu.Lock()
	c.programs[expr] = prg
	c.mu.Unlock()

	return prg, nil
}
