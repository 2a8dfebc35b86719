package jwxt_portal_api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPageBody = `<html><body><form id="loginForm" action="Logon.do" method="post">
<input name="userAccount"/><input name="userPassword"/></form></body></html>`

// newAuthedSession returns a session in the authenticated state without going
// through the login flow.
func newAuthedSession(t *testing.T, baseURL string) *PortalSession {
	t.Helper()
	s, err := NewPortalSession(baseURL)
	require.NoError(t, err)
	s.mu.Lock()
	s.username = "student"
	s.credentialFingerprint = Fingerprint("secret")
	s.authenticated = true
	s.mu.Unlock()
	s.setSessionCookie("abc123")
	return s
}

func TestFetchJSONSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", mustCookie(t, r, "JSESSIONID"))
		assert.Equal(t, "list", r.URL.Query().Get("method"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total":2,"items":["a","b"]}`))
	}))
	defer server.Close()

	s := newAuthedSession(t, server.URL)
	payload, err := s.FetchJSON(context.Background(), "some/endpoint.do", map[string]string{"method": "list"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), payload.Get("total").Int())
	assert.Equal(t, "b", payload.Get("items.1").String())
}

func TestFetchJSONRequiresAuthentication(t *testing.T) {
	s, err := NewPortalSession("http://jwxt.example.edu.cn")
	require.NoError(t, err)

	_, err = s.FetchJSON(context.Background(), "some/endpoint.do", nil)
	var notAuthed NotAuthenticatedError
	assert.ErrorAs(t, err, &notAuthed)
}

func TestFetchJSONRedirectMeansExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login.jsp", http.StatusFound)
	}))
	defer server.Close()

	s := newAuthedSession(t, server.URL)
	notified := 0
	s.OnSessionExpired(func() { notified++ })

	_, err := s.FetchJSON(context.Background(), "some/endpoint.do", nil)
	var expired SessionExpiredError
	require.ErrorAs(t, err, &expired)
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.Cookies())
	assert.Equal(t, 1, notified, "exactly one notification per detection")
}

func TestFetchJSONLoginPageMeansExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(loginPageBody))
	}))
	defer server.Close()

	s := newAuthedSession(t, server.URL)
	notified := 0
	s.OnSessionExpired(func() { notified++ })

	_, err := s.FetchJSON(context.Background(), "some/endpoint.do", nil)
	var expired SessionExpiredError
	require.ErrorAs(t, err, &expired)
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, 1, notified)
}

func TestFetchJSONHtmlErrorPageIsNotExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><h1>Maintenance tonight</h1></body></html>"))
	}))
	defer server.Close()

	s := newAuthedSession(t, server.URL)
	notified := 0
	s.OnSessionExpired(func() { notified++ })

	_, err := s.FetchJSON(context.Background(), "some/endpoint.do", nil)
	var failed RequestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusOK, failed.Status)
	assert.True(t, s.IsAuthenticated(), "an HTML page without the login form is a bad response, not expiry")
	assert.Equal(t, 0, notified)
}

func TestFetchJSONServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := newAuthedSession(t, server.URL)
	_, err := s.FetchJSON(context.Background(), "some/endpoint.do", nil)
	var failed RequestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusInternalServerError, failed.Status)
	assert.True(t, s.IsAuthenticated())
}

func TestFetchJSONSendsSessionToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-xyz", r.Header.Get("X-Session-Token"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := newAuthedSession(t, server.URL)
	s.mu.Lock()
	s.remoteSessionToken = "tok-xyz"
	s.mu.Unlock()

	_, err := s.FetchJSON(context.Background(), "some/endpoint.do", nil)
	require.NoError(t, err)
}

func TestOpenResourceStreamsBody(t *testing.T) {
	content := []byte("file payload bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", mustCookie(t, r, "JSESSIONID"))
		w.Write(content)
	}))
	defer server.Close()

	s := newAuthedSession(t, server.URL)
	resp, err := s.OpenResource(context.Background(), "/xszy/file.do?id=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestOpenResourceRedirectMeansExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login.jsp", http.StatusMovedPermanently)
	}))
	defer server.Close()

	s := newAuthedSession(t, server.URL)
	notified := 0
	s.OnSessionExpired(func() { notified++ })

	_, err := s.OpenResource(context.Background(), "/xszy/file.do?id=1")
	var expired SessionExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, 1, notified)
	assert.False(t, s.IsAuthenticated())
}

func TestOpenResourceRequiresAuthentication(t *testing.T) {
	s, err := NewPortalSession("http://jwxt.example.edu.cn")
	require.NoError(t, err)

	_, err = s.OpenResource(context.Background(), "/xszy/file.do")
	var notAuthed NotAuthenticatedError
	assert.ErrorAs(t, err, &notAuthed)
}

func TestListCourseDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xszy/doclist.do", r.URL.Path)
		assert.Equal(t, "C101", r.URL.Query().Get("courseId"))
		w.Write([]byte(`{"documents":[
			{"id":"d1","title":"第一章讲义","fileName":"chapter1.pdf","url":"/xszy/file.do?id=d1","size":1024},
			{"id":"d2","title":"实验指导","fileName":"lab.docx","url":"/xszy/file.do?id=d2","size":2048}
		]}`))
	}))
	defer server.Close()

	s := newAuthedSession(t, server.URL)
	docs, err := s.ListCourseDocuments(context.Background(), "C101")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "C101", docs[0].CourseID)
	assert.Equal(t, "第一章讲义", docs[0].Title)
	assert.Equal(t, "chapter1.pdf", docs[0].FileName)
	assert.Equal(t, int64(2048), docs[1].Size)
}

func TestIsLoginPage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"login form by action", loginPageBody, true},
		{"login form by id", `<form id="loginForm"><input/></form>`, true},
		{"unrelated form", `<form action="search.do"></form>`, false},
		{"error page without form", `<html><h1>500</h1></html>`, false},
		{"json", `{"ok":true}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isLoginPage([]byte(tt.body)))
		})
	}
}

func mustCookie(t *testing.T, r *http.Request, name string) string {
	t.Helper()
	c, err := r.Cookie(name)
	require.NoError(t, err)
	return c.Value
}
