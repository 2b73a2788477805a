package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidepoint/marketplace/internal/domain"
)

const defaultTransactionLimit = 50

// SaveLoyaltyRule inserts or updates a loyalty rule.
func (r *SQLRepository) SaveLoyaltyRule(ctx context.Context, rule *domain.LoyaltyRule) error {
	if rule.ID == "" || rule.BusinessID == "" {
		return fmt.Errorf("%w: rule id and business id are required", ErrInvalidInput)
	}
	if !rule.RuleType.Valid() {
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidInput, rule.RuleType)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO loyalty_rules (
			id, business_id, rule_type, value, is_active, description, condition_expr, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rule_type = excluded.rule_type,
			value = excluded.value,
			is_active = excluded.is_active,
			description = excluded.description,
			condition_expr = excluded.condition_expr,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.BusinessID, string(rule.RuleType), rule.Value,
		boolToInt(rule.IsActive), rule.Description, rule.Condition,
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetLoyaltyRule retrieves a rule owned by businessID.
func (r *SQLRepository) GetLoyaltyRule(ctx context.Context, businessID, ruleID string) (*domain.LoyaltyRule, error) {
	query := `
		SELECT id, business_id, rule_type, value, is_active, description, condition_expr, created_at, updated_at
		FROM loyalty_rules
		WHERE business_id = ? AND id = ?
	`

	rule, err := scanLoyaltyRule(r.db.QueryRowContext(ctx, r.rebind(query), businessID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListLoyaltyRules lists a business's rules in creation order.
func (r *SQLRepository) ListLoyaltyRules(ctx context.Context, businessID string, activeOnly bool) ([]*domain.LoyaltyRule, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, business_id, rule_type, value, is_active, description, condition_expr, created_at, updated_at
		FROM loyalty_rules
		WHERE business_id = ?
	`
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY created_at, id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.LoyaltyRule
	for rows.Next() {
		rule, err := scanLoyaltyRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteLoyaltyRule removes a rule owned by businessID.
func (r *SQLRepository) DeleteLoyaltyRule(ctx context.Context, businessID, ruleID string) error {
	query := `DELETE FROM loyalty_rules WHERE business_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), businessID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveTourist inserts a tourist or updates their profile.
// Balances are only set on insert; afterwards they change through RecordTransactions.
func (r *SQLRepository) SaveTourist(ctx context.Context, tourist *domain.Tourist) error {
	if tourist.ID == "" || tourist.Email == "" {
		return fmt.Errorf("%w: tourist id and email are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if tourist.CreatedAt.IsZero() {
		tourist.CreatedAt = now
	}
	tourist.UpdatedAt = now

	query := `
		INSERT INTO tourists (
			id, email, full_name, points_balance, cashback_balance, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			full_name = excluded.full_name,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tourist.ID, tourist.Email, tourist.FullName,
		tourist.PointsBalance, tourist.CashbackBalance,
		tourist.CreatedAt, tourist.UpdatedAt,
	)
	return err
}

// GetTourist retrieves a tourist with current balances.
func (r *SQLRepository) GetTourist(ctx context.Context, touristID string) (*domain.Tourist, error) {
	return getTourist(ctx, r.db, r.rebind, touristID)
}

// RecordTransactions writes ledger rows and the matching balance change in a
// single database transaction. A negative delta that would take a balance
// below zero fails with ErrInsufficientBalance, and a reused reference fails
// with ErrDuplicateTransaction. On any error nothing is written.
func (r *SQLRepository) RecordTransactions(ctx context.Context, touristID string, txs []*domain.BusinessTransaction, delta domain.BalanceDelta) (*domain.Tourist, error) {
	if touristID == "" {
		return nil, fmt.Errorf("%w: tourist id is required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	now := time.Now().UTC()

	update := `
		UPDATE tourists
		SET points_balance = points_balance + ?,
			cashback_balance = cashback_balance + ?,
			updated_at = ?
		WHERE id = ?
		  AND points_balance + ? >= 0
		  AND cashback_balance + ? >= 0
	`

	result, err := dbTx.ExecContext(ctx, r.rebind(update),
		delta.Points, delta.Cashback, now, touristID, delta.Points, delta.Cashback,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update balances: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := getTourist(ctx, dbTx, r.rebind, touristID); err != nil {
			return nil, err
		}
		return nil, ErrInsufficientBalance
	}

	for _, tx := range txs {
		if tx.TouristID != touristID {
			return nil, fmt.Errorf("%w: transaction %s belongs to another tourist", ErrInvalidInput, tx.ID)
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}

		if tx.Reference != "" {
			var exists int
			err := dbTx.QueryRowContext(ctx,
				r.rebind(`SELECT 1 FROM business_transactions WHERE business_id = ? AND reference = ?`),
				tx.BusinessID, tx.Reference,
			).Scan(&exists)
			if err == nil {
				return nil, ErrDuplicateTransaction
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
		}

		insert := `
			INSERT INTO business_transactions (
				id, business_id, tourist_id, transaction_type,
				points_amount, cashback_amount, description, reference, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err := dbTx.ExecContext(ctx, r.rebind(insert),
			tx.ID, tx.BusinessID, tx.TouristID, string(tx.TransactionType),
			tx.PointsAmount, tx.CashbackAmount, tx.Description, tx.Reference, tx.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrDuplicateTransaction
			}
			return nil, fmt.Errorf("failed to insert transaction: %w", err)
		}
	}

	tourist, err := getTourist(ctx, dbTx, r.rebind, touristID)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return tourist, nil
}

// ListTransactionsByTourist returns a tourist's ledger, newest first.
func (r *SQLRepository) ListTransactionsByTourist(ctx context.Context, touristID string, limit int) ([]*domain.BusinessTransaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}

	query := `
		SELECT id, business_id, tourist_id, transaction_type,
			   points_amount, cashback_amount, description, reference, created_at
		FROM business_transactions
		WHERE tourist_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), touristID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.BusinessTransaction
	for rows.Next() {
		var tx domain.BusinessTransaction
		var txType string
		var description sql.NullString

		if err := rows.Scan(
			&tx.ID, &tx.BusinessID, &tx.TouristID, &txType,
			&tx.PointsAmount, &tx.CashbackAmount, &description, &tx.Reference, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}

		tx.TransactionType = domain.TransactionType(txType)
		tx.Description = description.String
		txs = append(txs, &tx)
	}

	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanLoyaltyRule(row rowScanner) (*domain.LoyaltyRule, error) {
	var rule domain.LoyaltyRule
	var ruleType string
	var active int
	var description, condition sql.NullString

	if err := row.Scan(
		&rule.ID, &rule.BusinessID, &ruleType, &rule.Value, &active,
		&description, &condition, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.RuleType = domain.RuleType(ruleType)
	rule.IsActive = active == 1
	rule.Description = description.String
	rule.Condition = condition.String
	return &rule, nil
}

func getTourist(ctx context.Context, q queryRower, rebind func(string) string, touristID string) (*domain.Tourist, error) {
	query := `
		SELECT id, email, full_name, points_balance, cashback_balance, created_at, updated_at
		FROM tourists
		WHERE id = ?
	`

	var t domain.Tourist
	var fullName sql.NullString

	err := q.QueryRowContext(ctx, rebind(query), touristID).Scan(
		&t.ID, &t.Email, &fullName, &t.PointsBalance, &t.CashbackBalance, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.FullName = fullName.String
	return &t, nil
}
