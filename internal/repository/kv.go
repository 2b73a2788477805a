package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// The kv_store table implements domain.Storage so the entity cache can use
// the application database as its durable tier.

// Get retrieves a value.
func (r *SQLRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT value FROM kv_store WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores a value.
func (r *SQLRepository) Set(ctx context.Context, key string, value string) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), key, value, time.Now().UTC())
	return err
}

// Remove deletes a value.
func (r *SQLRepository) Remove(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM kv_store WHERE key = ?`), key)
	return err
}

// Keys lists keys starting with prefix.
func (r *SQLRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT key FROM kv_store WHERE key LIKE ? ESCAPE '\' ORDER BY key`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		// SQLite's LIKE ignores ASCII case.
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	return keys, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
