package digest

import "errors"

// Public, stable errors for callers.
var (
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
	ErrInvalidHex       = errors.New("invalid hex digest")
)
