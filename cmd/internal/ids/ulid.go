// Package ids provides the ULID identifiers used to correlate log lines of one session.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a new ULID string (26 chars) stamped with now.
// Session IDs sort by accept time, which keeps sequential sessions ordered in logs.
func NewSessionID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustSessionID is NewSessionID that falls back to ulid.Make on failure, which stamps the
// current time instead of now.
func MustSessionID(now time.Time) string {
	id, err := NewSessionID(now)
	if err != nil {
		return ulid.Make().String()
	}
	return id
}
