package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/tidepoint/marketplace/internal/domain"
)

func newTestRepository(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "tidepoint-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	t.Cleanup(func() {
		repo.Close()
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndListLoyaltyRules", func(t *testing.T) {
		rules := []*domain.LoyaltyRule{
			{ID: "rule-001", BusinessID: "biz-001", RuleType: domain.RulePointsPerPurchase, Value: 1, IsActive: true},
			{ID: "rule-002", BusinessID: "biz-001", RuleType: domain.RuleCashbackPercentage, Value: 0.05, IsActive: false},
			{ID: "rule-003", BusinessID: "biz-002", RuleType: domain.RulePointsPerCheckIn, Value: 10, IsActive: true, Condition: "amount > 0.0"},
		}
		for _, rule := range rules {
			if err := repo.SaveLoyaltyRule(ctx, rule); err != nil {
				t.Fatalf("SaveLoyaltyRule failed: %v", err)
			}
		}

		all, err := repo.ListLoyaltyRules(ctx, "biz-001", false)
		if err != nil {
			t.Fatalf("ListLoyaltyRules failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 rules, got %d", len(all))
		}

		active, err := repo.ListLoyaltyRules(ctx, "biz-001", true)
		if err != nil {
			t.Fatalf("ListLoyaltyRules failed: %v", err)
		}
		if len(active) != 1 || active[0].ID != "rule-001" {
			t.Errorf("expected only rule-001 active, got %v", active)
		}

		got, err := repo.GetLoyaltyRule(ctx, "biz-002", "rule-003")
		if err != nil {
			t.Fatalf("GetLoyaltyRule failed: %v", err)
		}
		if got.Condition != "amount > 0.0" || got.Value != 10 || !got.IsActive {
			t.Errorf("unexpected rule: %+v", got)
		}
	})

	t.Run("RuleOwnership", func(t *testing.T) {
		_, err := repo.GetLoyaltyRule(ctx, "biz-002", "rule-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other business, got: %v", err)
		}

		if err := repo.DeleteLoyaltyRule(ctx, "biz-002", "rule-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting other business rule, got: %v", err)
		}
	})

	t.Run("UpdateAndDeleteRule", func(t *testing.T) {
		rule, _ := repo.GetLoyaltyRule(ctx, "biz-001", "rule-002")
		rule.IsActive = true
		rule.Value = 0.1
		if err := repo.SaveLoyaltyRule(ctx, rule); err != nil {
			t.Fatalf("SaveLoyaltyRule failed: %v", err)
		}

		updated, _ := repo.GetLoyaltyRule(ctx, "biz-001", "rule-002")
		if !updated.IsActive || updated.Value != 0.1 {
			t.Errorf("expected update to persist, got %+v", updated)
		}

		if err := repo.DeleteLoyaltyRule(ctx, "biz-001", "rule-002"); err != nil {
			t.Fatalf("DeleteLoyaltyRule failed: %v", err)
		}
		if _, err := repo.GetLoyaltyRule(ctx, "biz-001", "rule-002"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
	})

	t.Run("InvalidRule", func(t *testing.T) {
		err := repo.SaveLoyaltyRule(ctx, &domain.LoyaltyRule{ID: "r", BusinessID: "b", RuleType: "double_points"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetTourist(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetUser(ctx, "nonexistent", "nobody@example.com"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetRolePermissions(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestRecordTransactions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	tourist := &domain.Tourist{ID: "tourist-001", Email: "ana@example.com", FullName: "Ana"}
	if err := repo.SaveTourist(ctx, tourist); err != nil {
		t.Fatalf("SaveTourist failed: %v", err)
	}

	t.Run("AppliesLedgerAndBalance", func(t *testing.T) {
		txs := []*domain.BusinessTransaction{
			{ID: "tx-001", BusinessID: "biz-001", TouristID: tourist.ID, TransactionType: domain.TxEarnPoints, PointsAmount: 100, Reference: "order-1"},
			{ID: "tx-002", BusinessID: "biz-001", TouristID: tourist.ID, TransactionType: domain.TxEarnCashback, CashbackAmount: 5, Reference: "order-1-cashback"},
		}

		updated, err := repo.RecordTransactions(ctx, tourist.ID, txs, domain.BalanceDelta{Points: 100, Cashback: 5})
		if err != nil {
			t.Fatalf("RecordTransactions failed: %v", err)
		}
		if updated.PointsBalance != 100 || updated.CashbackBalance != 5 {
			t.Errorf("expected balances 100/5, got %d/%.2f", updated.PointsBalance, updated.CashbackBalance)
		}

		ledger, err := repo.ListTransactionsByTourist(ctx, tourist.ID, 0)
		if err != nil {
			t.Fatalf("ListTransactionsByTourist failed: %v", err)
		}
		if len(ledger) != 2 {
			t.Errorf("expected 2 ledger rows, got %d", len(ledger))
		}
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		txs := []*domain.BusinessTransaction{
			{ID: "tx-003", BusinessID: "biz-001", TouristID: tourist.ID, TransactionType: domain.TxEarnPoints, PointsAmount: 100, Reference: "order-1"},
		}

		_, err := repo.RecordTransactions(ctx, tourist.ID, txs, domain.BalanceDelta{Points: 100})
		if !errors.Is(err, ErrDuplicateTransaction) {
			t.Fatalf("expected ErrDuplicateTransaction, got: %v", err)
		}

		current, _ := repo.GetTourist(ctx, tourist.ID)
		if current.PointsBalance != 100 {
			t.Errorf("expected balance unchanged at 100, got %d", current.PointsBalance)
		}
	})

	t.Run("SameReferenceOtherBusiness", func(t *testing.T) {
		txs := []*domain.BusinessTransaction{
			{ID: "tx-004", BusinessID: "biz-002", TouristID: tourist.ID, TransactionType: domain.TxCheckIn, PointsAmount: 10, Reference: "order-1"},
		}
		if _, err := repo.RecordTransactions(ctx, tourist.ID, txs, domain.BalanceDelta{Points: 10}); err != nil {
			t.Errorf("expected reference to be scoped per business, got: %v", err)
		}
	})

	t.Run("InsufficientBalanceWritesNothing", func(t *testing.T) {
		before, _ := repo.ListTransactionsByTourist(ctx, tourist.ID, 100)

		txs := []*domain.BusinessTransaction{
			{ID: "tx-005", BusinessID: "biz-001", TouristID: tourist.ID, TransactionType: domain.TxRedeemPoints, PointsAmount: -1000},
		}
		_, err := repo.RecordTransactions(ctx, tourist.ID, txs, domain.BalanceDelta{Points: -1000})
		if !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
		}

		after, _ := repo.ListTransactionsByTourist(ctx, tourist.ID, 100)
		if len(after) != len(before) {
			t.Errorf("expected no ledger rows written, had %d now %d", len(before), len(after))
		}
	})

	t.Run("UnknownTourist", func(t *testing.T) {
		_, err := repo.RecordTransactions(ctx, "ghost", nil, domain.BalanceDelta{Points: 1})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("ProfileUpdateKeepsBalance", func(t *testing.T) {
		if err := repo.SaveTourist(ctx, &domain.Tourist{ID: tourist.ID, Email: "ana@example.org", FullName: "Ana Silva"}); err != nil {
			t.Fatalf("SaveTourist failed: %v", err)
		}
		current, _ := repo.GetTourist(ctx, tourist.ID)
		if current.PointsBalance != 110 || current.Email != "ana@example.org" {
			t.Errorf("unexpected tourist after profile update: %+v", current)
		}
	})
}

func TestPermissionStore(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	user := &domain.User{ID: "user-001", Email: "owner@example.com", FullName: "Owner"}
	if err := repo.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	t.Run("GetUserByIDThenEmail", func(t *testing.T) {
		byID, err := repo.GetUser(ctx, "user-001", "")
		if err != nil || byID.Email != user.Email {
			t.Fatalf("expected user by id, got %v, %v", byID, err)
		}

		byEmail, err := repo.GetUser(ctx, "stale-id", "owner@example.com")
		if err != nil || byEmail.ID != user.ID {
			t.Fatalf("expected email fallback, got %v, %v", byEmail, err)
		}
		if byEmail.Role != "user" {
			t.Errorf("expected default role user, got %s", byEmail.Role)
		}
	})

	t.Run("RolesAndPermissions", func(t *testing.T) {
		role := &domain.Role{
			ID:          "business-owner",
			Name:        "Business Owner",
			Permissions: []string{"loyalty_rules:edit", "loyalty_rules:view", "loyalty_rules:view"},
		}
		if err := repo.SaveRole(ctx, role); err != nil {
			t.Fatalf("SaveRole failed: %v", err)
		}
		if err := repo.AssignRole(ctx, user.ID, role.ID); err != nil {
			t.Fatalf("AssignRole failed: %v", err)
		}
		if err := repo.AssignRole(ctx, user.ID, role.ID); err != nil {
			t.Fatalf("second AssignRole failed: %v", err)
		}

		roles, err := repo.ListUserRoles(ctx, user.ID)
		if err != nil {
			t.Fatalf("ListUserRoles failed: %v", err)
		}
		if len(roles) != 1 || roles[0] != "business-owner" {
			t.Errorf("expected single role, got %v", roles)
		}

		perms, err := repo.GetRolePermissions(ctx, role.ID)
		if err != nil {
			t.Fatalf("GetRolePermissions failed: %v", err)
		}
		if len(perms) != 2 {
			t.Errorf("expected 2 distinct permissions, got %v", perms)
		}

		role.Permissions = []string{"cities:view"}
		if err := repo.SaveRole(ctx, role); err != nil {
			t.Fatalf("SaveRole update failed: %v", err)
		}
		perms, _ = repo.GetRolePermissions(ctx, role.ID)
		if len(perms) != 1 || perms[0] != "cities:view" {
			t.Errorf("expected permissions to be replaced, got %v", perms)
		}
	})

	t.Run("EmptyRoleHasNoPermissions", func(t *testing.T) {
		if err := repo.SaveRole(ctx, &domain.Role{ID: "guest", Name: "Guest"}); err != nil {
			t.Fatalf("SaveRole failed: %v", err)
		}
		perms, err := repo.GetRolePermissions(ctx, "guest")
		if err != nil {
			t.Fatalf("GetRolePermissions failed: %v", err)
		}
		if len(perms) != 0 {
			t.Errorf("expected no permissions, got %v", perms)
		}
	})
}

func TestKVStore(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Set(ctx, "entity_cache_beaches", `[{"id":"b-1"}]`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	_ = repo.Set(ctx, "entity_cache_timestamp_beaches", "1700000000000")
	_ = repo.Set(ctx, "entityXcacheXother", "x")
	_ = repo.Set(ctx, "ENTITY_CACHE_upper", "x")

	value, ok, err := repo.Get(ctx, "entity_cache_beaches")
	if err != nil || !ok || value != `[{"id":"b-1"}]` {
		t.Errorf("unexpected Get result: %q, %v, %v", value, ok, err)
	}

	if err := repo.Set(ctx, "entity_cache_beaches", "[]"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	value, _, _ = repo.Get(ctx, "entity_cache_beaches")
	if value != "[]" {
		t.Errorf("expected overwritten value, got %q", value)
	}

	keys, err := repo.Keys(ctx, "entity_cache_")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected underscore to match literally, got %v", keys)
	}

	if err := repo.Remove(ctx, "entity_cache_beaches"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, "entity_cache_beaches"); ok {
		t.Error("expected key removed")
	}
	if err := repo.Remove(ctx, "missing"); err != nil {
		t.Errorf("removing a missing key should not fail: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/var/lib/tidepoint/ledger.db")
	if !strings.HasPrefix(dsn, "file:/var/lib/tidepoint/ledger.db?") {
		t.Errorf("unexpected prefix: %s", dsn)
	}
	for _, p := range sqlitePragmas {
		if !strings.Contains(dsn, "_pragma="+p) {
			t.Errorf("expected pragma %s in %s", p, dsn)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		dsn, err := postgresDSN(domain.RepositoryConfig{PostgresUser: "ledger"})
		if err != nil {
			t.Fatalf("postgresDSN failed: %v", err)
		}
		want := "application_name=tidepoint dbname=tidepoint host=localhost port=5432 sslmode=disable user=ledger"
		if dsn != want {
			t.Errorf("postgresDSN = %q, want %q", dsn, want)
		}
	})

	t.Run("QuotesPassword", func(t *testing.T) {
		dsn, err := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db.internal",
			PostgresPort:     6432,
			PostgresUser:     "ledger",
			PostgresPassword: `it's a secret`,
		})
		if err != nil {
			t.Fatalf("postgresDSN failed: %v", err)
		}
		if !strings.Contains(dsn, `password='it\'s a secret'`) {
			t.Errorf("expected quoted password in %q", dsn)
		}
		if !strings.Contains(dsn, "port=6432") || !strings.Contains(dsn, "host=db.internal") {
			t.Errorf("expected host and port in %q", dsn)
		}
	})

	t.Run("URL", func(t *testing.T) {
		dsn, err := postgresDSN(domain.RepositoryConfig{
			PostgresHost: "ignored",
			PostgresURL:  "postgres://ledger:pw@db.internal:6432/loyalty?sslmode=require",
		})
		if err != nil {
			t.Fatalf("postgresDSN failed: %v", err)
		}
		for _, part := range []string{"dbname=loyalty", "host=db.internal", "port=6432", "sslmode=require", "user=ledger"} {
			if !strings.Contains(dsn, part) {
				t.Errorf("expected %s in %q", part, dsn)
			}
		}
	})

	t.Run("InvalidURL", func(t *testing.T) {
		_, err := postgresDSN(domain.RepositoryConfig{PostgresURL: "mysql://nope"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
