package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// User is the authenticated account.
type User struct {
	Privileges map[string]bool `json:"privileges,omitempty"`
	Username   string          `json:"username"`
	Name       string          `json:"name"`
	Role       string          `json:"role"`
}

// AuthStatus is the response of the session check.
type AuthStatus struct {
	User          *User `json:"user,omitempty"`
	Authenticated bool  `json:"authenticated"`
}

// LoginResult is the response of a successful login.
type LoginResult struct {
	Redirect string `json:"redirect"`
	Success  bool   `json:"success"`
}

// Login exchanges credentials for a session cookie.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var res LoginResult
	if _, err := c.do(ctx, http.MethodPost, "/login", strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Logout terminates the session. The backend answers with a redirect.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/logout", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &Error{Status: resp.StatusCode}
	}
	return nil
}

// CheckAuth reports the session state. An unauthenticated session is a 401
// error.
func (c *Client) CheckAuth(ctx context.Context) (*AuthStatus, error) {
	var st AuthStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/check", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Health is the backend health report.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Database  bool   `json:"database"`
}

// Health calls the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
