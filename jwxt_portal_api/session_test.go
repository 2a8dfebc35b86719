package jwxt_portal_api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPortalSession(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid http URL", "http://jwxt.example.edu.cn", false},
		{"valid https URL with path", "https://jwxt.example.edu.cn/portal/", false},
		{"missing scheme", "jwxt.example.edu.cn", true},
		{"garbage", "://not-a-url", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewPortalSession(tt.baseURL)
			if tt.wantErr {
				require.Error(t, err)
				var invalid InvalidUrlError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.False(t, s.IsAuthenticated(), "new session must start unauthenticated")
		})
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("secret-password")
	assert.Len(t, fp, 64, "sha256 hex digest")
	assert.NotEqual(t, "secret-password", fp)
	assert.Equal(t, fp, Fingerprint("secret-password"), "fingerprint must be deterministic")
	assert.NotEqual(t, fp, Fingerprint("other-password"))
}

func TestJarReplacedWholesale(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/first", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "one"})
		http.SetCookie(w, &http.Cookie{Name: "route", Value: "node-a"})
	})
	mux.HandleFunc("/second", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "two"})
	})
	mux.HandleFunc("/silent", func(w http.ResponseWriter, r *http.Request) {})
	server := httptest.NewServer(mux)
	defer server.Close()

	s, err := NewPortalSession(server.URL)
	require.NoError(t, err)

	get := func(path string) {
		req, err := s.newRequest(http.MethodGet, server.URL+path, nil)
		require.NoError(t, err)
		resp, err := s.client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		s.adoptCookies(resp)
	}

	get("/first")
	require.Len(t, s.Cookies(), 2)

	// A response with any Set-Cookie replaces the whole jar: "route" must
	// not survive.
	get("/second")
	cookies := s.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "JSESSIONID", cookies[0].Name)
	assert.Equal(t, "two", cookies[0].Value)

	// A response without Set-Cookie leaves the jar untouched.
	get("/silent")
	assert.Len(t, s.Cookies(), 1)

	value, ok := s.SessionCookie()
	require.True(t, ok)
	assert.Equal(t, "two", value)
}

func TestCookiesReturnsCopy(t *testing.T) {
	s, err := NewPortalSession("http://jwxt.example.edu.cn")
	require.NoError(t, err)
	s.setSessionCookie("abc")

	got := s.Cookies()
	require.Len(t, got, 1)
	got[0] = &http.Cookie{Name: "JSESSIONID", Value: "tampered"}

	value, ok := s.SessionCookie()
	require.True(t, ok)
	assert.Equal(t, "abc", value, "mutating the returned slice must not affect the jar")
}

func TestInvalidateClearsEverything(t *testing.T) {
	s, err := NewPortalSession("http://jwxt.example.edu.cn")
	require.NoError(t, err)
	s.mu.Lock()
	s.username = "student"
	s.credentialFingerprint = Fingerprint("pw")
	s.remoteSessionToken = "tok"
	s.authenticated = true
	s.mu.Unlock()
	s.setSessionCookie("abc")

	notified := 0
	s.OnSessionExpired(func() { notified++ })

	s.Invalidate()

	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.Username())
	assert.Empty(t, s.RemoteSessionToken())
	assert.Empty(t, s.Cookies())
	_, ok := s.SessionCookie()
	assert.False(t, ok)
	assert.Equal(t, 1, notified)
}

func TestAbsoluteURL(t *testing.T) {
	s, err := NewPortalSession("http://jwxt.example.edu.cn/portal/")
	require.NoError(t, err)

	assert.Equal(t, "http://jwxt.example.edu.cn/portal/xszy/file.do?id=1", s.AbsoluteURL("xszy/file.do?id=1"))
	assert.Equal(t, "http://jwxt.example.edu.cn/xszy/file.do", s.AbsoluteURL("/xszy/file.do"))
	assert.Equal(t, "http://other.example.com/a", s.AbsoluteURL("http://other.example.com/a"))
}

func TestBuildUrl(t *testing.T) {
	s, err := NewPortalSession("http://jwxt.example.edu.cn/portal/")
	require.NoError(t, err)

	u := s.buildUrl("xszy/doclist.do", map[string]string{"method": "list", "courseId": "C101"})
	assert.Equal(t, "/portal/xszy/doclist.do", u.Path)
	assert.Equal(t, "list", u.Query().Get("method"))
	assert.Equal(t, "C101", u.Query().Get("courseId"))
}

func TestStreamClientBoundsConnectionSetup(t *testing.T) {
	s, err := NewPortalSession("http://jwxt.example.edu.cn")
	require.NoError(t, err)

	assert.Zero(t, s.streamClient.Timeout, "bulk transfers carry no overall deadline")

	transport, ok := s.streamClient.Transport.(*http.Transport)
	require.True(t, ok, "stream client must carry its own transport")
	assert.NotNil(t, transport.DialContext, "dialing must be bounded")
	assert.Equal(t, streamHeaderTimeout, transport.ResponseHeaderTimeout,
		"a portal that stalls before sending headers must surface as an error")
	assert.Equal(t, streamDialTimeout, transport.TLSHandshakeTimeout)
}

func TestRedirectsAreNotFollowed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/res", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		t.Error("redirect target must never be requested")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s, err := NewPortalSession(server.URL)
	require.NoError(t, err)
	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()

	_, err = s.OpenResource(context.Background(), "/res")
	var expired SessionExpiredError
	assert.ErrorAs(t, err, &expired)
}
