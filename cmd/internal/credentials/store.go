// Package credentials holds the read-only login -> secret store consulted by the handshake.
//
// Backends:
//   - file (MemoryStore loaded once from a flat text file)
//   - Postgres (PostgresStore, pool owned by the caller)
//   - Redis (RedisStore, one hash of login -> secret)
//
// None of the backends is ever written by the server. Lookups are safe for concurrent use.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrNotFound is returned by Lookup when the login has no record.
	ErrNotFound = errors.New("credentials: login not found")

	// ErrUnsupportedDSN is returned by Open for a DSN whose scheme has no backend.
	ErrUnsupportedDSN = errors.New("credentials: unsupported dsn scheme")
)

// Credential is one login/secret record.
type Credential struct {
	Login  string
	Secret string
}

// Store resolves a login to its shared secret.
type Store interface {
	Lookup(ctx context.Context, login string) (string, error)
	Close() error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter is implemented by backends that can report how many records they hold.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Backend names a credential store implementation.
type Backend string

const (
	BackendFile     Backend = "file"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// BackendForDSN maps a DSN URL scheme to its backend.
func BackendForDSN(dsn string) (Backend, error) {
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedDSN, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return BackendPostgres, nil
	case "redis", "rediss":
		return BackendRedis, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDSN, u.Scheme)
}
