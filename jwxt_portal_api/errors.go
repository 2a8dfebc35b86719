package jwxt_portal_api

import (
	"fmt"
	"strconv"
)

// InvalidUrlError reports an unparseable portal base URL.
type InvalidUrlError string

func (e InvalidUrlError) Error() string {
	return "invalid URL " + strconv.Quote(string(e)) + " in base_url"
}

// HttpError reports a transport-level failure (dial, timeout, broken stream).
type HttpError string

func (e HttpError) Error() string {
	return "http error " + strconv.Quote(string(e))
}

// NotAuthenticatedError is returned when an authenticated call is attempted
// without a live session. It is never retried; the caller must log in first.
type NotAuthenticatedError struct{}

func (NotAuthenticatedError) Error() string {
	return "not authenticated: no portal session"
}

// SessionExpiredError is returned when the portal silently rejected the
// current cookies, either by redirecting to its login page or by answering
// a JSON request with the login page body. The session has already been
// invalidated when this error is returned; resolution is always a fresh
// interactive or restored login.
type SessionExpiredError struct{}

func (SessionExpiredError) Error() string {
	return "portal session expired"
}

// RequestFailedError reports a non-2xx portal response, or a 2xx response
// whose body did not have the expected shape.
type RequestFailedError struct {
	Status  int
	Message string
}

func (e RequestFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("portal request failed: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("portal request failed: status %d", e.Status)
}
