package catalog

import (
	"errors"
	"fmt"
)

// Error kinds reported to the immediate caller. Match them with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyResolved   = errors.New("proposal already resolved")
	ErrCascadeBlocked    = errors.New("cascade blocked")
	ErrUnauthorized      = errors.New("unauthorized")
)

// CascadeBlockedError is returned when a revocation would also revoke
// dependants and the caller did not allow the cascade.
type CascadeBlockedError struct {
	VersionID      uint
	DependantCount int
}

func (e *CascadeBlockedError) Error() string {
	return fmt.Sprintf("revoking mod version %d would revoke %d dependant(s)", e.VersionID, e.DependantCount)
}

func (e *CascadeBlockedError) Unwrap() error { return ErrCascadeBlocked }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
