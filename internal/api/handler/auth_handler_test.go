package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gigmarket/identity/internal/core/domain"
	"github.com/gigmarket/identity/internal/core/ports"
)

type stubAuthService struct {
	signupFn         func(ctx context.Context, in ports.SignupInput) (*domain.User, error)
	loginFn          func(ctx context.Context, email, password string) (*ports.LoginResult, error)
	profileFn        func(ctx context.Context, userID int64) (*domain.Profile, error)
	changePasswordFn func(ctx context.Context, in ports.ChangePasswordInput) error
}

func (s *stubAuthService) Signup(ctx context.Context, in ports.SignupInput) (*domain.User, error) {
	return s.signupFn(ctx, in)
}

func (s *stubAuthService) Login(ctx context.Context, email, password string) (*ports.LoginResult, error) {
	return s.loginFn(ctx, email, password)
}

func (s *stubAuthService) Profile(ctx context.Context, userID int64) (*domain.Profile, error) {
	return s.profileFn(ctx, userID)
}

func (s *stubAuthService) ChangePassword(ctx context.Context, in ports.ChangePasswordInput) error {
	return s.changePasswordFn(ctx, in)
}

// newJSONContext builds an echo context for a JSON request with the request
// validator installed.
func newJSONContext(method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func authenticated(c echo.Context, id int64, role domain.Role) echo.Context {
	c.Set(CtxUserID, id)
	c.Set(CtxRole, role)
	return c
}

func TestAuthHandler_Signup_Success(t *testing.T) {
	stub := &stubAuthService{
		signupFn: func(ctx context.Context, in ports.SignupInput) (*domain.User, error) {
			if in.FullName != "A" || in.Email != "a@x.com" || in.Role != "client" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &domain.User{ID: 1, FullName: in.FullName, Email: in.Email, Role: domain.RoleClient}, nil
		},
	}
	h := NewAuthHandler(stub)

	c, rec := newJSONContext(http.MethodPost, "/auth/signup",
		`{"full_name":"A","email":"a@x.com","password":"Aa1!aaaa","role":"client"}`)
	if err := h.Signup(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["message"] == "" || resp["message"] == nil {
		t.Fatalf("expected message in response: %+v", resp)
	}
}

func TestAuthHandler_Signup_MissingFields(t *testing.T) {
	h := NewAuthHandler(&stubAuthService{
		signupFn: func(context.Context, ports.SignupInput) (*domain.User, error) {
			t.Fatal("service must not be called for invalid input")
			return nil, nil
		},
	})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", `{}`, "full_name is required"},
		{"bad email", `{"full_name":"A","email":"nope","password":"x","role":"client"}`, "email must be a valid email"},
		{"bad role", `{"full_name":"A","email":"a@x.com","password":"x","role":"admin"}`, "role must be one of"},
		{"malformed json", `{"full_name":`, "invalid payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newJSONContext(http.MethodPost, "/auth/signup", tt.body)
			err := h.Signup(c)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestAuthHandler_Signup_UserExists(t *testing.T) {
	h := NewAuthHandler(&stubAuthService{
		signupFn: func(context.Context, ports.SignupInput) (*domain.User, error) {
			return nil, domain.ErrUserExists
		},
	})

	c, _ := newJSONContext(http.MethodPost, "/auth/signup",
		`{"full_name":"A","email":"a@x.com","password":"Aa1!aaaa","role":"client"}`)
	if err := h.Signup(c); !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	exp := time.Date(2026, 3, 8, 8, 0, 0, 0, time.UTC)
	h := NewAuthHandler(&stubAuthService{
		loginFn: func(ctx context.Context, email, password string) (*ports.LoginResult, error) {
			return &ports.LoginResult{
				Token:     "signed.jwt.token",
				ExpiresAt: exp,
				User:      domain.Profile{ID: 7, FullName: "A", Email: email, Role: domain.RoleFreelancer},
			}, nil
		},
	})

	c, rec := newJSONContext(http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"Aa1!aaaa"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Token != "signed.jwt.token" {
		t.Fatalf("token = %q", resp.Token)
	}
	if resp.User["full_name"] != "A" || resp.User["role"] != "freelancer" || resp.User["id"] != float64(7) {
		t.Fatalf("unexpected user payload: %+v", resp.User)
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	h := NewAuthHandler(&stubAuthService{
		loginFn: func(context.Context, string, string) (*ports.LoginResult, error) {
			return nil, domain.ErrInvalidCredentials
		},
	})

	c, _ := newJSONContext(http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"wrong"}`)
	if err := h.Login(c); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	h := NewAuthHandler(&stubAuthService{
		profileFn: func(ctx context.Context, userID int64) (*domain.Profile, error) {
			if userID != 42 {
				t.Fatalf("userID = %d", userID)
			}
			return &domain.Profile{ID: 42, FullName: "B", Email: "b@x.com", Role: domain.RoleClient}, nil
		},
	})

	c, rec := newJSONContext(http.MethodGet, "/auth/me", "")
	if err := h.Me(authenticated(c, 42, domain.RoleClient)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"email":"b@x.com"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuthHandler_Me_WithoutClaims(t *testing.T) {
	h := NewAuthHandler(&stubAuthService{})
	c, _ := newJSONContext(http.MethodGet, "/auth/me", "")
	if err := h.Me(c); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthHandler_ChangePassword(t *testing.T) {
	var got ports.ChangePasswordInput
	h := NewAuthHandler(&stubAuthService{
		changePasswordFn: func(ctx context.Context, in ports.ChangePasswordInput) error {
			got = in
			return nil
		},
	})

	c, rec := newJSONContext(http.MethodPost, "/auth/change-password",
		`{"currentPassword":"Aa1!aaaa","newPassword":"Bb2@bbbb","confirmPassword":"Bb2@bbbb"}`)
	if err := h.ChangePassword(authenticated(c, 9, domain.RoleFreelancer)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.UserID != 9 || got.CurrentPassword != "Aa1!aaaa" || got.NewPassword != "Bb2@bbbb" || got.ConfirmPassword != "Bb2@bbbb" {
		t.Fatalf("unexpected input: %+v", got)
	}
}
