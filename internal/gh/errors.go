package gh

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err is a 429 from the API.
func IsRateLimited(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err should be retried on a later pass:
// rate limits, server errors, and anything that never produced an HTTP
// status (timeouts, connection resets).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if !errors.As(err, &ae) {
		// No HTTP status means the request itself failed.
		return true
	}
	return ae.StatusCode == http.StatusTooManyRequests || ae.StatusCode >= 500
}

// IsFatal reports whether err indicates bad credentials or missing
// permissions, which no amount of retrying will fix.
func IsFatal(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden
}
