package jwxt_portal_api

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// alertPattern matches the script-alert payload the portal embeds in a
// login response body when credentials are rejected.
var alertPattern = regexp.MustCompile(`alert\('([^']*)'\)`)

// extractAlertMessage returns the human-readable failure message embedded in
// body, or "" when no alert marker is present.
func extractAlertMessage(body []byte) string {
	m := alertPattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// isLoginPage reports whether body looks like the portal's login page.
// A bare "is it HTML" check misfires on unrelated server error pages, so
// the login form itself is required.
func isLoginPage(body []byte) bool {
	lower := strings.ToLower(string(body))
	if !strings.Contains(lower, "<form") {
		return false
	}
	return strings.Contains(lower, "logon.do") || strings.Contains(lower, `id="loginform"`)
}

// isRedirect reports whether the portal answered with a redirect. The
// portal 3xx-redirects unauthenticated calls to its login page instead of
// returning 401/403, so any redirect on an authenticated channel means the
// session is gone.
func isRedirect(status int) bool {
	return status >= 300 && status < 400
}

// FetchJSON performs an authenticated GET against a JSON endpoint and
// returns the parsed payload.
//
// Response classification, in order:
//   - 3xx: session expired; the session is invalidated and
//     SessionExpiredError is returned.
//   - non-2xx: RequestFailedError with the status.
//   - 2xx body that is not valid JSON but carries the login form: session
//     expired, as above.
//   - 2xx body that is not valid JSON otherwise: RequestFailedError.
//
// Expiry is never resolved here; the caller decides whether to prompt for a
// fresh login.
func (s *PortalSession) FetchJSON(ctx context.Context, endpoint string, params map[string]string) (gjson.Result, error) {
	if !s.IsAuthenticated() {
		return gjson.Result{}, NotAuthenticatedError{}
	}

	req, err := s.newRequest(http.MethodGet, s.buildUrl(endpoint, params).String(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		return gjson.Result{}, HttpError(err.Error())
	}
	defer resp.Body.Close()
	s.adoptCookies(resp)

	if isRedirect(resp.StatusCode) {
		s.logger.Warn("session expired: redirect on JSON endpoint", "endpoint", endpoint, "status", resp.StatusCode)
		s.Invalidate()
		return gjson.Result{}, SessionExpiredError{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, RequestFailedError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, HttpError(err.Error())
	}

	if !gjson.ValidBytes(body) {
		if isLoginPage(body) {
			s.logger.Warn("session expired: login page where JSON expected", "endpoint", endpoint)
			s.Invalidate()
			return gjson.Result{}, SessionExpiredError{}
		}
		return gjson.Result{}, RequestFailedError{Status: resp.StatusCode, Message: "response is not JSON"}
	}

	return gjson.ParseBytes(body), nil
}

// OpenResource performs an authenticated streamed GET against a binary
// resource endpoint and returns the response with its body unread. The
// caller owns the body and must close it. The long-transfer client is used:
// no overall timeout, cancellation via ctx.
func (s *PortalSession) OpenResource(ctx context.Context, rawurl string) (*http.Response, error) {
	if !s.IsAuthenticated() {
		return nil, NotAuthenticatedError{}
	}

	req, err := s.newRequest(http.MethodGet, s.AbsoluteURL(rawurl), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.streamClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, HttpError(err.Error())
	}
	s.adoptCookies(resp)

	if isRedirect(resp.StatusCode) {
		resp.Body.Close()
		s.logger.Warn("session expired: redirect on resource endpoint", "url", rawurl, "status", resp.StatusCode)
		s.Invalidate()
		return nil, SessionExpiredError{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, RequestFailedError{Status: resp.StatusCode}
	}

	return resp, nil
}
