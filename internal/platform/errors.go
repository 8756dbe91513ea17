package platform

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Platform JSON error codes. These arrive in the response body and are
// distinct from the HTTP status; several share a status but demand different
// handling during migration.
const (
	CodeUnknownChannel     = 10003
	CodeUnknownMessage     = 10008
	CodeMissingAccess      = 50001
	CodeEmptyMessage       = 50006
	CodeMissingPermissions = 50013
	CodeSystemMessage      = 50021
	CodeArchivedThread     = 50083
	CodeLockedThread       = 160005
)

// APIError is a non-rate-limit error response from the platform.
type APIError struct {
	Status  int // HTTP status
	Code    int // platform JSON error code, 0 when absent
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("platform: %s (status %d, code %d)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("platform: %s (status %d)", e.Message, e.Status)
}

// RateLimitError carries the server-advised delay from a 429 response.
type RateLimitError struct {
	RetryAfter time.Duration
	Bucket     string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("platform: rate limited, retry after %s", e.RetryAfter)
}

// CodeOf extracts the platform JSON error code, or 0.
func CodeOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return 0
}

// RetryAfterOf extracts the advisory delay from a rate-limit error.
func RetryAfterOf(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsRateLimited reports whether err is a rate-limit response.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsUnreachable reports whether the target of the call is permanently out of
// reach: deleted, never existed, or forbidden. Retrying cannot help.
func IsUnreachable(err error) bool {
	switch CodeOf(err) {
	case CodeUnknownChannel, CodeUnknownMessage, CodeMissingAccess, CodeMissingPermissions:
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		switch ae.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}

// IsTransient reports whether a retry with backoff is worthwhile: server
// errors and transport-level failures. Rate limits are handled separately
// because they carry an advisory delay.
func IsTransient(err error) bool {
	if err == nil || IsRateLimited(err) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status >= 500
	}
	// Transport errors (connection reset, timeout) surface as plain errors.
	return !IsUnreachable(err)
}
