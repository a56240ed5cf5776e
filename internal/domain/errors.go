package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every layer. Handlers translate these
// into HTTP statuses or websocket error events with errors.Is.
var (
	ErrValidation = errors.New("invalid input")
	ErrAuth       = errors.New("unknown credential")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflicting state")
	ErrForbidden  = errors.New("forbidden")
	ErrTimeout    = errors.New("timed out")

	ErrDisplayNameEmpty   = fmt.Errorf("%w: display name empty", ErrValidation)
	ErrDisplayNameTooLong = fmt.Errorf("%w: display name too long", ErrValidation)
)
