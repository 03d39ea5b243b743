// Package apiclient is the outbound client for the identity API. It carries
// the bearer token from a session.Store on every call.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gigmarket/identity/pkg/session"
)

const defaultTimeout = 15 * time.Second

// Client talks to the identity API. Failed requests are never retried.
type Client struct {
	baseURL string
	http    *http.Client
	session *session.Store
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying client. Its transport is wrapped, not replaced.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, store *session.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		session: store,
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *c.http
	wrapped.Transport = &bearerTransport{base: base, session: store}
	c.http = &wrapped
	return c
}

// Session returns the store the client reads its token from.
func (c *Client) Session() *session.Store {
	return c.session
}

type SignupRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type ResetPasswordRequest struct {
	Email           string `json:"email,omitempty"`
	Token           string `json:"token,omitempty"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	return c.do(ctx, http.MethodPost, pathSignup, req, nil)
}

// Login authenticates and stores the resulting session.
func (c *Client) Login(ctx context.Context, email, password string) (session.User, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, pathLogin, map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return session.User{}, err
	}
	if err := c.session.Login(resp.Token, resp.User); err != nil {
		return session.User{}, fmt.Errorf("store session: %w", err)
	}
	return resp.User, nil
}

// Logout ends the local session. Tokens are stateless, so the server is not called.
func (c *Client) Logout() error {
	return c.session.Logout()
}

// ForgotPassword starts a reset cycle and remembers email for the next steps.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	if err := c.do(ctx, http.MethodPost, pathForgotPassword, map[string]string{"email": email}, nil); err != nil {
		return err
	}
	return c.session.SetResetEmail(email)
}

// VerifyOTP checks the reset code. An empty email falls back to the remembered one.
func (c *Client) VerifyOTP(ctx context.Context, email, otp string) error {
	return c.do(ctx, http.MethodPost, pathVerifyOTP, map[string]string{
		"email": c.resetEmail(email),
		"otp":   otp,
	}, nil)
}

// ResendOTP asks for a new code. An empty email falls back to the remembered one.
func (c *Client) ResendOTP(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, pathResendOTP, map[string]string{"email": c.resetEmail(email)}, nil)
}

// ResetPassword completes the cycle and forgets the remembered email. When
// neither token nor email is given the remembered email is used.
func (c *Client) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" {
		req.Email = c.resetEmail(req.Email)
	}
	if err := c.do(ctx, http.MethodPost, pathResetPassword, req, nil); err != nil {
		return err
	}
	return c.session.ClearResetEmail()
}

func (c *Client) ChangePassword(ctx context.Context, current, next, confirm string) error {
	return c.do(ctx, http.MethodPost, pathChangePassword, map[string]string{
		"currentPassword": current,
		"newPassword":     next,
		"confirmPassword": confirm,
	}, nil)
}

// Me fetches the profile behind the current token.
func (c *Client) Me(ctx context.Context) (session.User, error) {
	var u session.User
	err := c.do(ctx, http.MethodGet, pathMe, nil, &u)
	return u, err
}

func (c *Client) resetEmail(email string) string {
	if email != "" {
		return email
	}
	return c.session.ResetEmail()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	} else if body.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(body.RetryAfter) * time.Second
	}
	return apiErr
}
