package session

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by Session.Run wraps exactly one of these kinds.
var (
	ErrMalformedHandshake = errors.New("malformed handshake")
	ErrUnknownLogin       = errors.New("unknown login")
	ErrHashMismatch       = errors.New("hash mismatch")
	ErrCredentialBackend  = errors.New("credential backend failure")
	ErrBatchBounds        = errors.New("batch bounds violation")
	ErrTransport          = errors.New("transport failure")
	ErrInvalidTransition  = errors.New("invalid state transition")
)

// ProtocolError is a typed failure with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel kinds above; Err is the underlying cause, if any.
type ProtocolError struct {
	Op   string
	Kind error
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func protoErr(op string, kind, cause error) error {
	return &ProtocolError{Op: op, Kind: kind, Err: cause}
}

// Outcome maps a Run result to a stable, low-cardinality label for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrMalformedHandshake):
		return "malformed_handshake"
	case errors.Is(err, ErrUnknownLogin):
		return "unknown_login"
	case errors.Is(err, ErrHashMismatch):
		return "hash_mismatch"
	case errors.Is(err, ErrCredentialBackend):
		return "backend_error"
	case errors.Is(err, ErrBatchBounds):
		return "batch_bounds"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "internal"
	}
}

// Rejected reports whether err is a handshake rejection (answered with "ERR").
func Rejected(err error) bool {
	return errors.Is(err, ErrMalformedHandshake) ||
		errors.Is(err, ErrUnknownLogin) ||
		errors.Is(err, ErrHashMismatch) ||
		errors.Is(err, ErrCredentialBackend)
}
