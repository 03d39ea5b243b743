// Package memory provides a process-local credential store for development
// and tests. A single mutex serialises every read-modify-write.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gigmarket/identity/internal/core/domain"
)

type CredentialStore struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*domain.User
	byEmail map[string]int64
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		byID:    make(map[int64]*domain.User),
		byEmail: make(map[string]int64),
	}
}

func cloneUser(u *domain.User) *domain.User {
	clone := *u
	if u.Reset != nil {
		reset := *u.Reset
		if u.Reset.VerifiedAt != nil {
			at := *u.Reset.VerifiedAt
			reset.VerifiedAt = &at
		}
		clone.Reset = &reset
	}
	return &clone
}

func (s *CredentialStore) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *CredentialStore) FindByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *CredentialStore) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := domain.NormalizeEmail(user.Email)
	if _, exists := s.byEmail[email]; exists {
		return nil, domain.ErrUserExists
	}

	s.nextID++
	stored := cloneUser(user)
	stored.ID = s.nextID
	stored.Email = email
	s.byID[stored.ID] = stored
	s.byEmail[email] = stored.ID
	return cloneUser(stored), nil
}

func (s *CredentialStore) SaveResetToken(_ context.Context, email string, secret domain.ResetSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return domain.ErrUserNotFound
	}
	u := s.byID[id]
	secret.VerifiedAt = nil
	u.Reset = &secret
	u.UpdatedAt = secret.IssuedAt
	return nil
}

func (s *CredentialStore) MarkResetVerified(_ context.Context, email, otpHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return domain.ErrUserNotFound
	}
	u := s.byID[id]
	if u.Reset == nil || u.Reset.Expired(now) || u.Reset.OTPHash != otpHash {
		return domain.ErrResetTokenInvalid
	}
	at := now
	u.Reset.VerifiedAt = &at
	return nil
}

func (s *CredentialStore) FindByResetToken(_ context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.byID {
		if u.Reset != nil && u.Reset.TokenHash == tokenHash && !u.Reset.Expired(now) {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *CredentialStore) UpdatePassword(_ context.Context, id int64, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.PasswordHash = newHash
	u.Reset = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *CredentialStore) ConsumeReset(_ context.Context, id int64, tokenHash, newHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok || u.Reset == nil || u.Reset.TokenHash != tokenHash || u.Reset.Expired(now) {
		return domain.ErrResetTokenInvalid
	}
	u.PasswordHash = newHash
	u.Reset = nil
	u.UpdatedAt = now
	return nil
}
