package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gigmarket/identity/pkg/session"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *session.Store) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := session.NewStore(session.NewMemoryStorage())
	if err := store.Hydrate(); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	return New(srv.URL, store), store
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_LoginStoresSessionAndSendsBearer(t *testing.T) {
	c, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			if r.Header.Get("Authorization") != "" {
				t.Errorf("login must not carry a token")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"token": "tok-1",
				"user":  map[string]any{"id": 5, "full_name": "A", "email": "a@x.com", "role": "client"},
			})
		case "/auth/me":
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("Authorization = %q", got)
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": 5, "full_name": "A", "email": "a@x.com", "role": "client"})
		}
	})

	u, err := c.Login(context.Background(), "a@x.com", "Aa1!aaaa")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if u.ID != 5 || !store.IsAuthenticated() || store.Token() != "tok-1" {
		t.Fatalf("session not stored: %+v %+v", u, store.State())
	}

	me, err := c.Me(context.Background())
	if err != nil || me.Email != "a@x.com" {
		t.Fatalf("Me() = %+v, %v", me, err)
	}
}

func TestClient_UnauthorizedLogsOutOnceWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	c, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	})
	_ = store.Login("expired", session.User{ID: 1, Email: "a@x.com", Role: "client"})

	logouts := 0
	cancel := store.Subscribe(func(s session.State) {
		if !s.IsAuthenticated() {
			logouts++
		}
	})
	defer cancel()

	_, err := c.Me(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("request sent %d times, want 1", hits.Load())
	}
	if store.IsAuthenticated() || logouts != 1 {
		t.Fatalf("expected one logout, got %d (state %+v)", logouts, store.State())
	}

	_, _ = c.Me(context.Background())
	if logouts != 1 {
		t.Fatalf("401 without a token must not log out again, got %d", logouts)
	}
}

func TestClient_BadLoginKeepsLoggedOut(t *testing.T) {
	c, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	})

	_, err := c.Login(context.Background(), "a@x.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "invalid credentials" {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.IsAuthenticated() {
		t.Fatal("failed login must not create a session")
	}
}

func TestClient_FailedReloginKeepsExistingSession(t *testing.T) {
	c, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("%s must not carry the session token", r.URL.Path)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	})
	_ = store.Login("live", session.User{ID: 1, Email: "a@x.com", Role: "client"})

	_, err := c.Login(context.Background(), "b@x.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if !store.IsAuthenticated() || store.Token() != "live" {
		t.Fatalf("bad credentials must not end the current session: %+v", store.State())
	}

	_ = c.Signup(context.Background(), SignupRequest{FullName: "B", Email: "b@x.com", Password: "x", Role: "client"})
	if store.Token() != "live" {
		t.Fatal("signup rejection must not end the current session")
	}
}

func TestClient_RateLimited(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "too many attempts", "retry_after": 120})
	})

	_, err := c.Login(context.Background(), "a@x.com", "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsRateLimited() {
		t.Fatalf("expected 429 APIError, got %v", err)
	}
	if apiErr.RetryAfter != 2*time.Minute {
		t.Fatalf("RetryAfter = %v", apiErr.RetryAfter)
	}
}

func TestClient_ResetFlowUsesEmailHint(t *testing.T) {
	var verifyEmail, resetEmail string
	c, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/auth/verify-otp":
			verifyEmail = body["email"]
		case "/auth/reset-password":
			resetEmail = body["email"]
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	ctx := context.Background()

	if err := c.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("ForgotPassword() error = %v", err)
	}
	if store.ResetEmail() != "a@x.com" {
		t.Fatal("reset email hint not stored")
	}
	if err := c.VerifyOTP(ctx, "", "123456"); err != nil {
		t.Fatalf("VerifyOTP() error = %v", err)
	}
	if err := c.ResetPassword(ctx, ResetPasswordRequest{NewPassword: "Bb2@bbbb"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if verifyEmail != "a@x.com" || resetEmail != "a@x.com" {
		t.Fatalf("hint not used: verify=%q reset=%q", verifyEmail, resetEmail)
	}
	if store.ResetEmail() != "" {
		t.Fatal("hint must be cleared after reset")
	}
}

func TestClient_ForgotPasswordNotFound(t *testing.T) {
	c, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
	})

	err := c.ForgotPassword(context.Background(), "ghost@x.com")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsNotFound() {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
	if store.ResetEmail() != "" {
		t.Fatal("hint must not be stored on failure")
	}
}
