package livingapps

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned for every non-2xx response. Body carries the raw
// response text.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("livingapps: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("livingapps: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
