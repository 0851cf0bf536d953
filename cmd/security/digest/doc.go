// Package digest provides the salted digest used by the vecavg handshake.
//
// It is the single source of truth for how a client proves knowledge of its secret:
//
//	hex(H(salt ++ secret))
//
// where salt is the 16-character hex salt exactly as sent on the wire and H is the
// algorithm selected at startup. Every supported algorithm yields a 32-byte digest,
// so the wire form is always 64 hex characters.
//
// Supported algorithms:
//   - sha256 (default)
//   - sha3-256
//   - blake3
package digest
