package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigmarket/identity/internal/core/domain"
)

// uniqueViolation is the SQLSTATE postgres reports for a unique index conflict.
const uniqueViolation = "23505"

const userColumns = `id, full_name, email, password_hash, role,
	reset_token_hash, reset_otp_hash, reset_issued_at, reset_expires_at, reset_verified_at,
	created_at, updated_at`

// CredentialStore handles account CRUD against PostgreSQL. Conditional
// writes put their precondition in the WHERE clause so a single statement
// decides the outcome.
type CredentialStore struct {
	pool *pgxpool.Pool
}

func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Migrate creates the users table if it doesn't exist.
func (s *CredentialStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id                BIGSERIAL    PRIMARY KEY,
			full_name         VARCHAR(255) NOT NULL,
			email             VARCHAR(255) NOT NULL,
			password_hash     VARCHAR(255) NOT NULL,
			role              VARCHAR(20)  NOT NULL,
			reset_token_hash  VARCHAR(64),
			reset_otp_hash    VARCHAR(64),
			reset_issued_at   TIMESTAMPTZ,
			reset_expires_at  TIMESTAMPTZ,
			reset_verified_at TIMESTAMPTZ,
			created_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (lower(email));
		CREATE INDEX IF NOT EXISTS users_reset_token_idx ON users (reset_token_hash)
			WHERE reset_token_hash IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

func (s *CredentialStore) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (full_name, email, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		user.FullName, domain.NormalizeEmail(user.Email), user.PasswordHash, string(user.Role),
		user.CreatedAt, user.UpdatedAt,
	)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email))
}

func (s *CredentialStore) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *CredentialStore) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	return s.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE reset_token_hash = $1 AND reset_expires_at > $2`,
		tokenHash, now,
	)
}

func (s *CredentialStore) findOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *CredentialStore) SaveResetToken(ctx context.Context, email string, secret domain.ResetSecret) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users
		 SET reset_token_hash = $2, reset_otp_hash = $3, reset_issued_at = $4,
		     reset_expires_at = $5, reset_verified_at = NULL, updated_at = $4
		 WHERE email = $1`,
		domain.NormalizeEmail(email), secret.TokenHash, secret.OTPHash, secret.IssuedAt, secret.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *CredentialStore) MarkResetVerified(ctx context.Context, email, otpHash string, now time.Time) error {
	email = domain.NormalizeEmail(email)
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET reset_verified_at = $3
		 WHERE email = $1 AND reset_otp_hash = $2 AND reset_expires_at > $3`,
		email, otpHash, now,
	)
	if err != nil {
		return fmt.Errorf("verify reset: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists); err != nil {
		return fmt.Errorf("verify reset: %w", err)
	}
	if !exists {
		return domain.ErrUserNotFound
	}
	return domain.ErrResetTokenInvalid
}

func (s *CredentialStore) UpdatePassword(ctx context.Context, id int64, newHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW(),
		     reset_token_hash = NULL, reset_otp_hash = NULL, reset_issued_at = NULL,
		     reset_expires_at = NULL, reset_verified_at = NULL
		 WHERE id = $1`,
		id, newHash,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *CredentialStore) ConsumeReset(ctx context.Context, id int64, tokenHash, newHash string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $3, updated_at = $4,
		     reset_token_hash = NULL, reset_otp_hash = NULL, reset_issued_at = NULL,
		     reset_expires_at = NULL, reset_verified_at = NULL
		 WHERE id = $1 AND reset_token_hash = $2 AND reset_expires_at > $4`,
		id, tokenHash, newHash, now,
	)
	if err != nil {
		return fmt.Errorf("consume reset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResetTokenInvalid
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u                   domain.User
		role                string
		tokenHash, otpHash  *string
		issuedAt, expiresAt *time.Time
		verifiedAt          *time.Time
	)
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &role,
		&tokenHash, &otpHash, &issuedAt, &expiresAt, &verifiedAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	if tokenHash != nil && expiresAt != nil {
		u.Reset = &domain.ResetSecret{
			TokenHash:  *tokenHash,
			ExpiresAt:  expiresAt.UTC(),
			VerifiedAt: verifiedAt,
		}
		if otpHash != nil {
			u.Reset.OTPHash = *otpHash
		}
		if issuedAt != nil {
			u.Reset.IssuedAt = issuedAt.UTC()
		}
	}
	return &u, nil
}
