package api

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx response from the remote. The status code decides
// how the sync engine treats the failure: transient codes leave the queue
// entry retryable, permanent codes reject it for good.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	// Message is the server's error detail, when it sent one.
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsPermanent reports whether err is a server verdict that retrying the same
// request can never change: the resource is gone, conflicted, or invalid.
func IsPermanent(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	switch he.StatusCode {
	case http.StatusNotFound, http.StatusConflict, http.StatusGone, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// IsRetryable reports whether err is worth another attempt later: network
// failures, server-side errors, and throttling. Permanent verdicts and
// authentication failures are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		// No HTTP status at all: the request never completed.
		return true
	}
	return he.StatusCode >= 500 || he.StatusCode == http.StatusTooManyRequests
}

// IsAuth reports whether err means the session is no longer valid. The
// engine aborts the whole run on these instead of failing entries one by
// one.
func IsAuth(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	return he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden
}
