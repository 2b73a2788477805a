package repository

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/tidepoint/marketplace/internal/domain"
)

// openPostgres opens a PostgreSQL connection through lib/pq. A configured
// URL takes precedence over the individual settings.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// postgresDSN builds a key/value connection string. Values are quoted so
// passwords with spaces or quotes survive.
func postgresDSN(cfg domain.RepositoryConfig) (string, error) {
	if cfg.PostgresURL != "" {
		dsn, err := pq.ParseURL(cfg.PostgresURL)
		if err != nil {
			return "", fmt.Errorf("%w: postgres url: %v", ErrInvalidInput, err)
		}
		return dsn, nil
	}

	params := map[string]string{
		"host":             orDefault(cfg.PostgresHost, "localhost"),
		"port":             strconv.Itoa(cfg.PostgresPort),
		"user":             cfg.PostgresUser,
		"password":         cfg.PostgresPassword,
		"dbname":           orDefault(cfg.PostgresDB, "tidepoint"),
		"sslmode":          orDefault(cfg.PostgresSSLMode, "disable"),
		"application_name": "tidepoint",
	}
	if cfg.PostgresPort == 0 {
		params["port"] = "5432"
	}

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quoteDSNValue(params[k]))
	}
	return strings.Join(parts, " "), nil
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
