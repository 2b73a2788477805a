package repository

// Schema definitions for the marketplace database.
// Compatible with both SQLite and PostgreSQL.

const schemaLoyaltyRules = `
CREATE TABLE IF NOT EXISTS loyalty_rules (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    value REAL NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    description TEXT,
    condition_expr TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_loyalty_rules_business ON loyalty_rules(business_id, is_active);
`

const schemaTourists = `
CREATE TABLE IF NOT EXISTS tourists (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    full_name TEXT,
    points_balance INTEGER NOT NULL DEFAULT 0,
    cashback_balance REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tourists_email ON tourists(email);
`

// schemaBusinessTransactions defines the append-only loyalty ledger.
// A non-empty reference is unique per business and acts as an idempotency key.
const schemaBusinessTransactions = `
CREATE TABLE IF NOT EXISTS business_transactions (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    tourist_id TEXT NOT NULL REFERENCES tourists(id),
    transaction_type TEXT NOT NULL,
    points_amount INTEGER NOT NULL DEFAULT 0,
    cashback_amount REAL NOT NULL DEFAULT 0,
    description TEXT,
    reference TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_business_transactions_tourist ON business_transactions(tourist_id, created_at);
CREATE INDEX IF NOT EXISTS idx_business_transactions_business ON business_transactions(business_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_business_transactions_reference
    ON business_transactions(business_id, reference) WHERE reference <> '';
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    full_name TEXT,
    role TEXT NOT NULL DEFAULT 'user',
    created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

const schemaRoles = `
CREATE TABLE IF NOT EXISTS roles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT
);

CREATE TABLE IF NOT EXISTS role_permissions (
    role_id TEXT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    permission TEXT NOT NULL,
    PRIMARY KEY (role_id, permission)
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_id TEXT NOT NULL,
    role_id TEXT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, role_id)
);
`

// schemaKVStore backs the durable tier of the entity cache.
const schemaKVStore = `
CREATE TABLE IF NOT EXISTS kv_store (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLoyaltyRules,
		schemaTourists,
		schemaBusinessTransactions,
		schemaUsers,
		schemaRoles,
		schemaKVStore,
	}
}
