package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors handlers wrap or return to select a problem status.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

type problemClass struct {
	status int
	title  string
}

var problemClasses = []struct {
	sentinel error
	class    problemClass
}{
	{ErrNotFound, problemClass{http.StatusNotFound, "Not Found"}},
	{ErrDuplicate, problemClass{http.StatusConflict, "Duplicate"}},
	{ErrValidation, problemClass{http.StatusBadRequest, "Validation Failed"}},
	{ErrForbidden, problemClass{http.StatusForbidden, "Forbidden"}},
	{ErrUnauthorized, problemClass{http.StatusUnauthorized, "Unauthorized"}},
}

// RespondError maps a handler error onto a problem response. Anything that
// is not one of the sentinels collapses to an opaque 500 so internal detail
// never reaches a client.
func RespondError(w http.ResponseWriter, err error) {
	for _, pc := range problemClasses {
		if errors.Is(err, pc.sentinel) {
			Problem(w, pc.class.status, pc.class.title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
