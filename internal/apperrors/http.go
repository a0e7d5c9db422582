package apperrors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidAttribute),
		errors.Is(err, ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTemplate),
		errors.Is(err, ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrAlreadyActive),
		errors.Is(err, ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, ErrAlreadyReaped):
		return http.StatusGone
	case errors.Is(err, ErrTimeoutExpired):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrNotActive):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether err is worth retrying against the scheduler.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection)
}
