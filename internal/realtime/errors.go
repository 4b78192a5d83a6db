package realtime

import "errors"

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrValidation             = errors.New("invalid event")
	ErrPersistence            = errors.New("persistence failed")
	ErrInvariantViolation     = errors.New("invariant violation")
	ErrIllegalTransition      = errors.New("illegal lifecycle transition")
)
