package domain

import "errors"

// Cross-cutting error kinds. Adapters wrap these with detail; the API
// layer maps them onto HTTP statuses with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrForbidden       = errors.New("forbidden")
	ErrBadState        = errors.New("bad state")
	ErrPayloadTooLarge = errors.New("payload too large")
)
