package fleet

import (
	"errors"
	"fmt"

	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/database"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

//storeError maps datastore sentinels onto the fleet taxonomy. Anything else is an internal failure.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, database.ErrAlreadyExists):
		return fmt.Errorf("%w: %s", ErrConflict, what)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
