package jwxt_portal_api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// LoginResult reports the outcome of an interactive login attempt.
// Message carries the portal's own failure text (extracted from its
// script-alert payload) when Success is false.
type LoginResult struct {
	Success bool
	Message string
}

// FetchCaptcha requests the portal's captcha image. The portal binds a
// session cookie the moment any request lands, so this call doubles as the
// cookie-seeding step of a fresh login: the prior jar is cleared first and
// replaced with whatever the captcha response issues.
// Returns the raw image bytes for display to the user.
func (s *PortalSession) FetchCaptcha(ctx context.Context) ([]byte, error) {
	s.clearJar()

	req, err := s.newRequest(http.MethodGet, s.buildUrl(captchaEndpoint, nil).String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, HttpError(err.Error())
	}
	defer resp.Body.Close()
	s.adoptCookies(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, RequestFailedError{Status: resp.StatusCode}
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, HttpError(err.Error())
	}
	return image, nil
}

// Login posts credentials using the cookie jar seeded by FetchCaptcha.
// A rejected login is not an error: the portal's failure message is
// returned in LoginResult.Message and no session is created. On success the
// session is populated and the remote session token is harvested
// best-effort from a cheap authenticated endpoint.
func (s *PortalSession) Login(ctx context.Context, username, password, captchaAnswer string) (LoginResult, error) {
	form := url.Values{}
	form.Set("userAccount", username)
	form.Set("userPassword", password)
	form.Set("RANDOMCODE", captchaAnswer)

	loginUrl := s.buildUrl(loginEndpoint, map[string]string{"method": "logon"})
	req, err := s.newRequest(http.MethodPost, loginUrl.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return LoginResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		return LoginResult{}, HttpError(err.Error())
	}
	defer resp.Body.Close()
	s.adoptCookies(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return LoginResult{}, RequestFailedError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return LoginResult{}, HttpError(err.Error())
	}

	if msg := extractAlertMessage(body); msg != "" {
		s.logger.Info("login rejected by portal", "username", username, "message", msg)
		return LoginResult{Success: false, Message: msg}, nil
	}

	s.mu.Lock()
	s.username = username
	s.credentialFingerprint = Fingerprint(password)
	s.loginTime = time.Now()
	s.authenticated = true
	s.mu.Unlock()

	s.harvestSessionToken(ctx)

	s.logger.Info("login succeeded", "username", username)
	return LoginResult{Success: true}, nil
}

// RestoreSession rebuilds the cookie jar from a previously persisted
// session cookie value (skipping the captcha step) and probes a cheap
// authenticated endpoint. If the probe lands on the login page the cookie
// is stale: the jar is dropped and false is returned so the caller can fall
// back to interactive login. The error return is reserved for transport
// failures; a stale cookie alone is (false, nil).
func (s *PortalSession) RestoreSession(ctx context.Context, username, passwordFingerprint, sessionCookie string) (bool, error) {
	s.clearJar()
	s.setSessionCookie(sessionCookie)

	req, err := s.newRequest(http.MethodGet, s.buildUrl(profileEndpoint, nil).String(), nil)
	if err != nil {
		return false, err
	}

	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		s.clearJar()
		return false, HttpError(err.Error())
	}
	defer resp.Body.Close()
	s.adoptCookies(resp)

	if isRedirect(resp.StatusCode) {
		s.logger.Info("saved session rejected by portal", "username", username)
		s.clearJar()
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		s.clearJar()
		return false, RequestFailedError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.clearJar()
		return false, HttpError(err.Error())
	}
	if isLoginPage(body) {
		s.logger.Info("saved session expired, falling back to interactive login", "username", username)
		s.clearJar()
		return false, nil
	}

	s.mu.Lock()
	s.username = username
	s.credentialFingerprint = passwordFingerprint
	s.loginTime = time.Now()
	s.authenticated = true
	s.mu.Unlock()

	s.harvestSessionToken(ctx)

	s.logger.Info("session restored from saved cookie", "username", username)
	return true, nil
}

// harvestSessionToken fetches the header-level identity the portal issues
// out-of-band after login. Failure is non-fatal: the token is left absent
// and only logged, since most endpoints accept the cookie jar alone. The
// call deliberately bypasses FetchJSON so an odd response here cannot
// invalidate a session that was just established.
func (s *PortalSession) harvestSessionToken(ctx context.Context) {
	req, err := s.newRequest(http.MethodGet, s.buildUrl(tokenEndpoint, nil).String(), nil)
	if err != nil {
		s.logger.Warn("could not harvest session token", "error", err)
		return
	}

	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		s.logger.Warn("could not harvest session token", "error", err)
		return
	}
	defer resp.Body.Close()
	s.adoptCookies(resp)

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("could not harvest session token", "status", resp.StatusCode)
		return
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Warn("could not harvest session token", "error", err)
		return
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		s.logger.Warn("session token missing from portal response")
		return
	}
	s.mu.Lock()
	s.remoteSessionToken = token
	s.mu.Unlock()
}
