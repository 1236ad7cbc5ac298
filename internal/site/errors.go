package site

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError carries an HTTP status code from the upstream service through
// the engine, so callers can distinguish permission errors (abort the scan)
// from missing users (condition does not apply) and transient failures.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("site: status %d", e.Code)
	}
	return fmt.Sprintf("site: status %d: %s", e.Code, e.Msg)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// IsForbidden reports whether err is a 403 (permissions) from the service.
func IsForbidden(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusForbidden
}
