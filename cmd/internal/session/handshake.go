package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vecavg/cmd/internal/credentials"
	"vecavg/cmd/security/digest"
)

// Handshake limits and responses.
const (
	MaxHandshakeBytes = 1023
	MaxLoginLength    = 49
	SaltHexLength     = 16

	ResponseOK  = "OK"
	ResponseERR = "ERR"
)

// HandshakeRequest is the parsed client handshake message.
type HandshakeRequest struct {
	Login string
	Salt  string
	Hash  string
}

// ParseHandshake splits msg into exactly three whitespace-delimited tokens and validates
// their shape. It never consults the credential store.
func ParseHandshake(msg []byte) (HandshakeRequest, error) {
	fields := strings.Fields(string(msg))
	if len(fields) != 3 {
		return HandshakeRequest{}, fmt.Errorf("%w: want 3 tokens, got %d", ErrMalformedHandshake, len(fields))
	}

	req := HandshakeRequest{Login: fields[0], Salt: fields[1], Hash: fields[2]}

	if len(req.Login) > MaxLoginLength {
		return HandshakeRequest{}, fmt.Errorf("%w: login longer than %d bytes", ErrMalformedHandshake, MaxLoginLength)
	}
	if len(req.Salt) != SaltHexLength || !digest.IsHex(req.Salt) {
		return HandshakeRequest{}, fmt.Errorf("%w: salt must be %d hex chars", ErrMalformedHandshake, SaltHexLength)
	}
	if len(req.Hash) != digest.HexSize || !digest.IsHex(req.Hash) {
		return HandshakeRequest{}, fmt.Errorf("%w: hash must be %d hex chars", ErrMalformedHandshake, digest.HexSize)
	}
	return req, nil
}

// Authenticator checks handshake requests against a credential store.
type Authenticator struct {
	store credentials.Store
	alg   digest.Algorithm
}

// NewAuthenticator binds a store to one digest algorithm.
func NewAuthenticator(store credentials.Store, alg digest.Algorithm) *Authenticator {
	if alg == "" {
		alg = digest.Default
	}
	return &Authenticator{store: store, alg: alg}
}

// Algorithm returns the digest in use.
func (a *Authenticator) Algorithm() digest.Algorithm { return a.alg }

// Verify returns nil when req proves knowledge of the login's secret.
// Failures wrap ErrUnknownLogin, ErrHashMismatch, ErrMalformedHandshake or ErrCredentialBackend.
func (a *Authenticator) Verify(ctx context.Context, req HandshakeRequest) error {
	secret, err := a.store.Lookup(ctx, req.Login)
	if errors.Is(err, credentials.ErrNotFound) {
		return ErrUnknownLogin
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCredentialBackend, err)
	}

	ok, err := a.alg.Verify(req.Salt, secret, req.Hash)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedHandshake, err)
	}
	if !ok {
		return ErrHashMismatch
	}
	return nil
}
