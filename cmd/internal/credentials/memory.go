package credentials

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// MemoryStore is an immutable map-backed Store, normally loaded from a credential file.
type MemoryStore struct {
	secrets    map[string]string
	duplicates []string
}

// NewMemoryStore builds a store from creds. Later records win over earlier ones with the same login.
func NewMemoryStore(creds []Credential) *MemoryStore {
	s := &MemoryStore{secrets: make(map[string]string, len(creds))}
	for _, c := range creds {
		if _, ok := s.secrets[c.Login]; ok {
			s.duplicates = append(s.duplicates, c.Login)
		}
		s.secrets[c.Login] = c.Secret
	}
	return s
}

// LoadFile reads and parses a credential file.
func LoadFile(path string) (*MemoryStore, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied path.
	if err != nil {
		return nil, fmt.Errorf("credentials: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	creds, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("credentials: %s: %w", path, err)
	}
	return NewMemoryStore(creds), nil
}

// ParseError reports a malformed line in a credential file.
type ParseError struct {
	Line int
	Msg  string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse reads "<login> <secret>" records, one per line.
// Blank lines and lines starting with '#' are skipped.
func Parse(r io.Reader) ([]Credential, error) {
	var out []Credential

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if line == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		switch {
		case len(fields) < 2:
			return nil, ParseError{Line: line, Msg: "missing secret"}
		case len(fields) > 2:
			return nil, ParseError{Line: line, Msg: fmt.Sprintf("expected 2 fields, got %d", len(fields))}
		}
		out = append(out, Credential{Login: fields[0], Secret: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup returns the secret for login or ErrNotFound.
func (s *MemoryStore) Lookup(ctx context.Context, login string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	secret, ok := s.secrets[login]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

// Count returns the number of distinct logins.
func (s *MemoryStore) Count(_ context.Context) (int, error) { return len(s.secrets), nil }

// Len is Count without a context.
func (s *MemoryStore) Len() int { return len(s.secrets) }

// Duplicates lists logins that appeared more than once, in file order.
func (s *MemoryStore) Duplicates() []string {
	return append([]string(nil), s.duplicates...)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
