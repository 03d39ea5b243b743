package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gigmarket/identity/internal/core/domain"
	"github.com/gigmarket/identity/internal/core/ports"
)

// AuthService implements signup, login and authenticated account operations.
type AuthService struct {
	store  ports.CredentialStore
	hasher ports.PasswordHasher
	tokens ports.TokenIssuer
	log    zerolog.Logger
	now    func() time.Time
}

func NewAuthService(store ports.CredentialStore, hasher ports.PasswordHasher, tokens ports.TokenIssuer, log zerolog.Logger) *AuthService {
	return &AuthService{store: store, hasher: hasher, tokens: tokens, log: log, now: time.Now}
}

func (s *AuthService) Signup(ctx context.Context, in ports.SignupInput) (*domain.User, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := domain.NormalizeEmail(in.Email)
	if fullName == "" || email == "" || in.Password == "" || in.Role == "" {
		return nil, domain.NewValidationError("full_name, email, password and role are required")
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(in.Role)))
	if !role.Valid() {
		return nil, domain.NewValidationError("role must be one of: client, freelancer")
	}
	if err := domain.CheckPassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	created, err := s.store.Create(ctx, &domain.User{
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", created.ID).Str("role", string(created.Role)).Msg("account created")
	return created, nil
}

// Login verifies credentials and issues a bearer token. An unknown email and
// a wrong password both yield domain.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*ports.LoginResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.NewValidationError("email and password are required")
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.hasher.Compare(ctx, user.PasswordHash, password); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", user.ID).Msg("login succeeded")
	return &ports.LoginResult{Token: token, ExpiresAt: expiresAt, User: user.Profile()}, nil
}

// Profile returns the current account for a verified token. A token whose
// account no longer resolves is treated as unauthorized.
func (s *AuthService) Profile(ctx context.Context, userID int64) (*domain.Profile, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}
	p := user.Profile()
	return &p, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, in ports.ChangePasswordInput) error {
	if in.CurrentPassword == "" || in.NewPassword == "" {
		return domain.NewValidationError("currentPassword and newPassword are required")
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.NewPassword {
		return domain.ErrPasswordMismatch
	}
	if err := domain.CheckPassword(in.NewPassword); err != nil {
		return err
	}

	user, err := s.store.FindByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrUnauthorized
		}
		return err
	}

	if err := s.hasher.Compare(ctx, user.PasswordHash, in.CurrentPassword); err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			return domain.NewValidationError("current password is incorrect")
		}
		return err
	}

	hash, err := s.hasher.Hash(ctx, in.NewPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	s.log.Info().Int64("user_id", user.ID).Msg("password changed")
	return nil
}
