package httpadapter

import (
	"net/http"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrStoreUnavailable),
		domain.IsKind(err, domain.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal detail behind the status text for 500s.
func errorMessage(status int, err error) string {
	if status == http.StatusInternalServerError || err == nil {
		return http.StatusText(status)
	}
	return err.Error()
}
