package sanitize

import "errors"

var (
	// ErrInvalidPattern indicates a detection rule failed to compile.
	ErrInvalidPattern = errors.New("invalid detection pattern")

	// ErrInvalidStrategy indicates an unknown or malformed strategy string.
	ErrInvalidStrategy = errors.New("invalid sanitization strategy")

	// ErrInvalidPolicy indicates a policy file could not be read or decoded.
	ErrInvalidPolicy = errors.New("invalid sanitization policy")
)
