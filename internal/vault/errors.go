package vault

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("conflict")
	ErrInvalidPIN          = errors.New("invalid pin code")
	ErrLocked              = errors.New("message locked")
	ErrExpired             = errors.New("message access expired")
	ErrConfigKeyNotAllowed = errors.New("config key not allowed")
)

// LockedError is returned when a delivered message is still inside its
// unlock delay.
type LockedError struct {
	UnlockAt time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("message locked until %s", e.UnlockAt.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}
