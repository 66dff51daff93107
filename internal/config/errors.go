package config

import "errors"

// Configuration errors are deployment mistakes: fatal at startup, never
// retried.
var (
	ErrMissingVariable   = errors.New("config: unresolved environment placeholder")
	ErrMissingCredential = errors.New("config: missing provider credential")
	ErrInvalidTopology   = errors.New("config: invalid topology")
)
