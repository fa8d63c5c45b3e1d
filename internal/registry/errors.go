package registry

import (
	"errors"
	"fmt"
)

// Store errors. Implementations must return exactly these (possibly wrapped)
// so the registry can tell a lost race from a real failure.
var (
	ErrNotFound     = errors.New("domain mapping not found")
	ErrNameConflict = errors.New("domain name already mapped")
	ErrCodeConflict = errors.New("domain code already taken")
)

// ValidationError reports unusable input such as an empty hostname.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a hostname whose restricted code still collides with
// another hostname. It needs operator attention and is never retried.
type ConflictError struct {
	Name string
	Code string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("domain conflict: %q and another host both reduce to code %q", e.Name, e.Code)
}

func (e *ConflictError) Unwrap() error {
	return ErrCodeConflict
}
