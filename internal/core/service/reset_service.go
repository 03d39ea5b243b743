package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gigmarket/identity/internal/core/domain"
	"github.com/gigmarket/identity/internal/core/ports"
)

// ResetConfig tunes the password reset flow.
type ResetConfig struct {
	// TTL is how long a token/OTP pair stays valid. Defaults to domain.DefaultResetTTL.
	TTL time.Duration
	// ConcealUnknownEmail makes forgot-password succeed silently for
	// addresses without an account instead of returning domain.ErrUserNotFound.
	ConcealUnknownEmail bool
	// Now replaces time.Now as the cycle clock when set.
	Now func() time.Time
	// Limiter, when set, adds a per-email budget to forgot, resend and verify
	// on top of the per-address one enforced at the edge.
	Limiter ports.RateLimiter
}

// ResetService drives the forgot → verify → reset cycle. All state lives in
// the credential store, so every step can be retried independently.
type ResetService struct {
	store    ports.CredentialStore
	hasher   ports.PasswordHasher
	notifier ports.ResetNotifier
	cfg      ResetConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewResetService(
	store ports.CredentialStore,
	hasher ports.PasswordHasher,
	notifier ports.ResetNotifier,
	cfg ResetConfig,
	log zerolog.Logger,
) *ResetService {
	if cfg.TTL <= 0 {
		cfg.TTL = domain.DefaultResetTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ResetService{
		store:    store,
		hasher:   hasher,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      now,
	}
}

// ForgotPassword opens a new reset cycle for email, superseding any earlier one.
func (s *ResetService) ForgotPassword(ctx context.Context, email string) error {
	return s.startCycle(ctx, email, domain.ClassForgotPassword)
}

// ResendOTP issues a fresh token and OTP. The previous pair stops working.
func (s *ResetService) ResendOTP(ctx context.Context, email string) error {
	return s.startCycle(ctx, email, domain.ClassResendOTP)
}

func (s *ResetService) startCycle(ctx context.Context, email string, class domain.EndpointClass) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.NewValidationError("email is required")
	}
	if err := s.charge(ctx, class, email); err != nil {
		return err
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) && s.cfg.ConcealUnknownEmail {
			s.log.Debug().Msg("reset requested for unknown email")
			return nil
		}
		return err
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}
	otp, err := newOTP()
	if err != nil {
		return err
	}

	now := s.now().UTC()
	secret := domain.ResetSecret{
		TokenHash: hashSecret(token),
		OTPHash:   hashSecret(otp),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.store.SaveResetToken(ctx, user.Email, secret); err != nil {
		return err
	}

	if err := s.notifier.Deliver(ctx, domain.ResetDelivery{
		Email:     user.Email,
		Token:     token,
		OTP:       otp,
		ExpiresAt: secret.ExpiresAt,
	}); err != nil {
		return fmt.Errorf("deliver reset: %w", err)
	}

	s.log.Info().Int64("user_id", user.ID).Time("expires_at", secret.ExpiresAt).Msg("reset cycle started")
	return nil
}

// VerifyOTP moves a pending cycle to verified. A wrong or expired code leaves
// the cycle pending so the caller may retry until rate limited.
func (s *ResetService) VerifyOTP(ctx context.Context, email, otp string) error {
	email = domain.NormalizeEmail(email)
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" {
		return domain.NewValidationError("email and otp are required")
	}
	if err := s.charge(ctx, domain.ClassVerifyOTP, email); err != nil {
		return err
	}
	if !validOTP(otp) {
		return domain.ErrResetTokenInvalid
	}

	err := s.store.MarkResetVerified(ctx, email, hashSecret(otp), s.now().UTC())
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.ErrResetTokenInvalid
	}
	if err != nil {
		return err
	}

	s.log.Info().Str("email_domain", emailDomain(email)).Msg("reset otp verified")
	return nil
}

// ResetPassword completes the cycle. With a token, presenting it is the
// verification; with an email, the OTP must have been verified first.
func (s *ResetService) ResetPassword(ctx context.Context, in ports.ResetPasswordInput) error {
	token := strings.TrimSpace(in.Token)
	email := domain.NormalizeEmail(in.Email)
	if token == "" && email == "" {
		return domain.NewValidationError("token or email is required")
	}
	if in.NewPassword == "" {
		return domain.NewValidationError("newPassword is required")
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.NewPassword {
		return domain.ErrPasswordMismatch
	}
	if err := domain.CheckPassword(in.NewPassword); err != nil {
		return err
	}

	now := s.now().UTC()
	user, tokenHash, err := s.resolveCycle(ctx, token, email, now)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(ctx, in.NewPassword)
	if err != nil {
		return err
	}

	if err := s.store.ConsumeReset(ctx, user.ID, tokenHash, hash, now); err != nil {
		return err
	}

	s.log.Info().Int64("user_id", user.ID).Msg("password reset completed")
	return nil
}

func (s *ResetService) resolveCycle(ctx context.Context, token, email string, now time.Time) (*domain.User, string, error) {
	if token != "" {
		tokenHash := hashSecret(token)
		user, err := s.store.FindByResetToken(ctx, tokenHash, now)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				return nil, "", domain.ErrResetTokenInvalid
			}
			return nil, "", err
		}
		return user, tokenHash, nil
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, "", domain.ErrResetTokenInvalid
		}
		return nil, "", err
	}
	if domain.ResetStateOf(user, now) != domain.ResetVerified {
		return nil, "", domain.ErrResetTokenInvalid
	}
	return user, user.Reset.TokenHash, nil
}

// charge counts one attempt against the normalized email. Unknown addresses
// are charged too so the budget does not reveal which accounts exist.
func (s *ResetService) charge(ctx context.Context, class domain.EndpointClass, email string) error {
	if s.cfg.Limiter == nil {
		return nil
	}
	decision, err := s.cfg.Limiter.Allow(ctx, emailLimitKey(email), class)
	if err != nil {
		s.log.Warn().Err(err).Str("class", string(class)).Msg("per-email rate limit unavailable, processing anyway")
		return nil
	}
	return decision.Err(class)
}

func emailLimitKey(email string) string {
	return "email:" + email
}

func emailDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return email[i+1:]
	}
	return ""
}
