package handlers

import (
	"errors"

	domainerrors "gatewayd.backend/internal/domain/errors"
)

// mapStoreErr translates the Store's sentinel errors into the AppError the
// admin API is expected to return; anything else is an internal error.
func mapStoreErr(err error, resource string) error {
	switch {
	case errors.Is(err, domainerrors.ErrNotFound):
		return domainerrors.NotFound(resource + " not found")
	case errors.Is(err, domainerrors.ErrDuplicateID):
		return domainerrors.Conflict(resource + " already exists")
	default:
		return domainerrors.InternalError(err)
	}
}
