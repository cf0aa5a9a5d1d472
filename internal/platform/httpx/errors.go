// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate entry")
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("conflict")
	ErrUnprocessable = errors.New("unprocessable")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
)

// MetaError is implemented by errors carrying details for the problem body.
type MetaError interface {
	error
	ProblemMeta() map[string]any
}

// Mapping binds a domain error to a status code and problem title.
type Mapping struct {
	Err    error
	Status int
	Title  string
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error, mappings ...Mapping) {
	meta := metaOf(err)
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			ProblemWithMeta(w, m.Status, m.Title, err.Error(), meta)
			return
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		ProblemWithMeta(w, http.StatusNotFound, "Not Found", err.Error(), meta)
	case errors.Is(err, ErrDuplicate):
		ProblemWithMeta(w, http.StatusConflict, "Duplicate", err.Error(), meta)
	case errors.Is(err, ErrConflict):
		ProblemWithMeta(w, http.StatusConflict, "Conflict", err.Error(), meta)
	case errors.Is(err, ErrValidation):
		ProblemWithMeta(w, http.StatusBadRequest, "Validation Failed", err.Error(), meta)
	case errors.Is(err, ErrUnprocessable):
		ProblemWithMeta(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error(), meta)
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func metaOf(err error) map[string]any {
	var me MetaError
	if errors.As(err, &me) {
		return me.ProblemMeta()
	}
	return nil
}
