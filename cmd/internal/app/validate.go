package app

import (
	"errors"
	"fmt"
	"time"

	"vecavg/cmd/internal/credentials"
	"vecavg/cmd/security/digest"
)

var (
	ErrNoCredentialSource    = errors.New("no credential source configured")
	ErrConflictingSources    = errors.New("--credentials and --credentials-dsn are mutually exclusive")
	ErrInvalidPort           = errors.New("port must be in 1..65535")
	ErrWebSocketNeedsOpsAddr = errors.New("--ws requires --ops-addr")
)

// MaxSessionsLimit caps --max-sessions.
const MaxSessionsLimit = 1024

// ValidateConfig rejects configurations that cannot start. It fails fast rather than
// falling back to a default the operator did not choose.
func ValidateConfig(cfg Config) error {
	switch {
	case cfg.CredentialsPath == "" && cfg.CredentialsDSN == "":
		return ErrNoCredentialSource
	case cfg.CredentialsPath != "" && cfg.CredentialsDSN != "":
		return ErrConflictingSources
	}
	if cfg.CredentialsDSN != "" {
		if _, err := credentials.BackendForDSN(cfg.CredentialsDSN); err != nil {
			return err
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, cfg.Port)
	}
	if _, err := digest.ParseAlgorithm(cfg.HashAlgorithm); err != nil {
		return err
	}
	if cfg.IOTimeout < 0 || cfg.ShutdownTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if cfg.IOTimeout > 0 && cfg.IOTimeout < time.Millisecond {
		return fmt.Errorf("io timeout %v is below 1ms", cfg.IOTimeout)
	}
	if cfg.MaxSessions < 1 || cfg.MaxSessions > MaxSessionsLimit {
		return fmt.Errorf("max sessions must be in 1..%d, got %d", MaxSessionsLimit, cfg.MaxSessions)
	}
	if cfg.AuthFailureLimit < 0 {
		return errors.New("auth failure limit must not be negative")
	}
	if cfg.AuthFailureLimit > 0 && cfg.AuthFailureWindow <= 0 {
		return errors.New("auth failure window must be positive when a limit is set")
	}
	if cfg.WSEnabled && cfg.OpsAddr == "" {
		return ErrWebSocketNeedsOpsAddr
	}
	return nil
}
