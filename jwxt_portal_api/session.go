// Package jwxt_portal_api implements the session and request layer for a
// legacy cookie-based academic portal ("jwxt"). The portal never returns
// 401/403: unauthenticated calls are 3xx-redirected to its login page, and
// JSON endpoints answer with the login page body once the session cookie
// goes stale. This package owns the cookie jar, detects that silent expiry
// on every authenticated call, and invalidates the session exactly once
// per detection.
package jwxt_portal_api

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// sessionCookieName is the portal's primary session cookie. The portal
	// re-issues its complete cookie set on every Set-Cookie response, so the
	// jar is always replaced wholesale rather than merged per cookie.
	sessionCookieName = "JSESSIONID"

	captchaEndpoint = "verifycode.servlet"
	loginEndpoint   = "Logon.do"
	profileEndpoint = "framework/xsMain.jsp"
	tokenEndpoint   = "framework/sessionToken.jsp"

	// defaultRequestTimeout bounds metadata calls. Bulk transfers use a
	// separate client with no overall timeout and rely on context
	// cancellation instead.
	defaultRequestTimeout = 15 * time.Second

	// streamDialTimeout and streamHeaderTimeout bound connection setup for
	// bulk transfers. The body itself has no deadline, but a portal that
	// stalls before sending headers surfaces as a transport error rather
	// than an indefinite hang.
	streamDialTimeout   = 30 * time.Second
	streamHeaderTimeout = 60 * time.Second
)

// Logger is the logging interface consumed by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// PortalSession holds the authenticated identity for one portal account:
// username, credential fingerprint, the remote session token the portal
// issues out-of-band, and the current cookie jar. It is safe for
// concurrent use; jar writes are idempotent last-write-wins replacements.
type PortalSession struct {
	mu sync.Mutex

	baseURL *url.URL

	username              string
	credentialFingerprint string
	remoteSessionToken    string
	loginTime             time.Time
	authenticated         bool

	cookies []*http.Cookie

	client       *http.Client // metadata calls, short timeout
	streamClient *http.Client // bulk transfers, context-cancelled

	logger          Logger
	expiryListeners []func()
}

// SessionOption configures a PortalSession.
type SessionOption func(*PortalSession)

// WithLogger sets the logger for the session. Logging is best-effort and
// never changes control flow.
func WithLogger(log Logger) SessionOption {
	return func(s *PortalSession) {
		s.logger = log
	}
}

// WithRequestTimeout overrides the timeout applied to metadata calls.
func WithRequestTimeout(d time.Duration) SessionOption {
	return func(s *PortalSession) {
		s.client.Timeout = d
	}
}

// NewPortalSession creates an unauthenticated session bound to the portal
// base URL. Returns InvalidUrlError if the URL cannot be parsed.
func NewPortalSession(baseURL string, opts ...SessionOption) (*PortalSession, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, InvalidUrlError(err.Error())
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, InvalidUrlError(baseURL)
	}

	// Redirects are never followed: a 3xx on an authenticated channel is the
	// portal's way of reporting an expired session and must stay observable.
	noRedirect := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	s := &PortalSession{
		baseURL: parsed,
		client:  &http.Client{Timeout: defaultRequestTimeout, CheckRedirect: noRedirect},
		streamClient: &http.Client{
			CheckRedirect: noRedirect,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: streamDialTimeout}).DialContext,
				TLSHandshakeTimeout:   streamDialTimeout,
				ResponseHeaderTimeout: streamHeaderTimeout,
			},
		},
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fingerprint returns the one-way hash stored in place of a password.
// The raw password is never kept in session state or on disk.
func Fingerprint(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// IsAuthenticated reports whether a live session exists.
func (s *PortalSession) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Username returns the account the session was established for.
func (s *PortalSession) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// RemoteSessionToken returns the header-level identity issued by the portal
// after login, or "" if it could not be harvested.
func (s *PortalSession) RemoteSessionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSessionToken
}

// LoginTime returns when the current session was established.
func (s *PortalSession) LoginTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginTime
}

// SessionCookie returns the value of the primary session cookie, if present.
// It is what gets persisted for "remember me" session restoration.
func (s *PortalSession) SessionCookie() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cookies {
		if c.Name == sessionCookieName {
			return c.Value, true
		}
	}
	return "", false
}

// Cookies returns a read-only copy of the current jar for callers that open
// their own transfers (the download manager). The latest jar is always read
// at call time; there is no snapshotting across calls.
func (s *PortalSession) Cookies() []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*http.Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

// OnSessionExpired registers a listener invoked each time the session is
// invalidated. Listeners are called outside the session lock.
func (s *PortalSession) OnSessionExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiryListeners = append(s.expiryListeners, fn)
}

// Invalidate destroys the session state and the cookie jar and notifies all
// expiry listeners. Invalidating an already-empty session is a no-op apart
// from the notification, which each detecting call is expected to trigger.
func (s *PortalSession) Invalidate() {
	s.mu.Lock()
	s.username = ""
	s.credentialFingerprint = ""
	s.remoteSessionToken = ""
	s.loginTime = time.Time{}
	s.authenticated = false
	s.cookies = nil
	listeners := make([]func(), len(s.expiryListeners))
	copy(listeners, s.expiryListeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// AbsoluteURL resolves a possibly relative portal path against the base URL.
func (s *PortalSession) AbsoluteURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.IsAbs() {
		return raw
	}
	return s.baseURL.ResolveReference(parsed).String()
}

// buildUrl constructs a URL for a portal endpoint with the given query parameters.
func (s *PortalSession) buildUrl(endpoint string, params map[string]string) *url.URL {
	reqUrl := &url.URL{
		Scheme: s.baseURL.Scheme,
		Host:   s.baseURL.Host,
		Path:   strings.TrimSuffix(s.baseURL.Path, "/") + "/" + endpoint,
	}
	query := reqUrl.Query()
	for param, value := range params {
		query.Set(param, value)
	}
	reqUrl.RawQuery = query.Encode()
	return reqUrl
}

// newRequest builds a request carrying the current jar.
func (s *PortalSession) newRequest(method, rawurl string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, rawurl, body)
	if err != nil {
		return nil, HttpError(err.Error())
	}
	for _, c := range s.Cookies() {
		req.AddCookie(c)
	}
	s.mu.Lock()
	token := s.remoteSessionToken
	s.mu.Unlock()
	if token != "" {
		req.Header.Set("X-Session-Token", token)
	}
	return req, nil
}

// adoptCookies replaces the jar wholesale when the response carries any
// Set-Cookie values. No cookie from the prior jar survives unless re-issued.
func (s *PortalSession) adoptCookies(resp *http.Response) {
	cs := resp.Cookies()
	if len(cs) == 0 {
		return
	}
	s.mu.Lock()
	s.cookies = cs
	s.mu.Unlock()
}

// clearJar drops all cookies so a stale jar cannot leak into a fresh login attempt.
func (s *PortalSession) clearJar() {
	s.mu.Lock()
	s.cookies = nil
	s.mu.Unlock()
}

// setSessionCookie rebuilds the jar from a single persisted session cookie value.
func (s *PortalSession) setSessionCookie(value string) {
	s.mu.Lock()
	s.cookies = []*http.Cookie{{Name: sessionCookieName, Value: value, Path: "/"}}
	s.mu.Unlock()
}
