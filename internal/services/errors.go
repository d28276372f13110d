package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Command errors. The session layer uses errors.Is on these to decide
// between replying and disconnecting.
var (
	// ErrNotFound means a command referenced a missing entity
	ErrNotFound = errors.New("not found")
	// ErrIntegrity means an entity is still referenced by another one
	ErrIntegrity = errors.New("entity is still referenced")
	// ErrForbidden means the session may not perform the command
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid means the payload failed validation
	ErrInvalid = errors.New("invalid request")
)

func notFound(entity string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}

func referenced(entity string, id uuid.UUID, by string) error {
	return fmt.Errorf("%s %s is used by %s: %w", entity, id, by, ErrIntegrity)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalid)
}
