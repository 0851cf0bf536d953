package credentials

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by a "<schema>.<table>(login TEXT PRIMARY KEY, secret TEXT)" table.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	table  string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the credentials table (default: "vecavg").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !isValidPGIdent(schema) {
			return fmt.Errorf("credentials: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// WithTable sets the credentials table name (default: "credentials").
func WithTable(table string) PostgresOption {
	return func(s *PostgresStore) error {
		table = strings.TrimSpace(table)
		if !isValidPGIdent(table) {
			return fmt.Errorf("credentials: invalid table identifier %q", table)
		}
		s.table = table
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "vecavg",
		table:  "credentials",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("credentials: nil pool")
	}
	return st, nil
}

// Lookup returns the secret for login or ErrNotFound.
func (s *PostgresStore) Lookup(ctx context.Context, login string) (string, error) {
	var secret string
	err := s.pool.QueryRow(ctx,
		`SELECT secret FROM `+pgIdent(s.schema, s.table)+` WHERE login = $1`,
		login,
	).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credentials: postgres lookup: %w", err)
	}
	return secret, nil
}

// Count returns the number of rows in the credentials table.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+pgIdent(s.schema, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("credentials: postgres count: %w", err)
	}
	return n, nil
}

// Ping checks that a connection can be acquired.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
