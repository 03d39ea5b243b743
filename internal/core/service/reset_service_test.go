package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/gigmarket/identity/internal/core/domain"
	"github.com/gigmarket/identity/internal/core/ports"
	"github.com/gigmarket/identity/internal/infrastructure/db/memory"
	"github.com/gigmarket/identity/internal/infrastructure/ratelimit"
)

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []domain.ResetDelivery
	err        error
}

func (n *recordingNotifier) Deliver(_ context.Context, d domain.ResetDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.deliveries = append(n.deliveries, d)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) domain.ResetDelivery {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.deliveries) == 0 {
		t.Fatalf("no reset delivered")
	}
	return n.deliveries[len(n.deliveries)-1]
}

type resetFixture struct {
	svc      *ResetService
	auth     *AuthService
	store    *memory.CredentialStore
	notifier *recordingNotifier
	clock    time.Time
}

func newResetFixture(t *testing.T, cfg ResetConfig) *resetFixture {
	t.Helper()
	f := &resetFixture{
		store:    memory.NewCredentialStore(),
		notifier: &recordingNotifier{},
		clock:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	hasher := NewBcryptHasher(bcrypt.MinCost)
	tokens, err := NewTokenService(testSecret, "test", time.Hour)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	f.auth = NewAuthService(f.store, hasher, tokens, zerolog.Nop())
	f.svc = NewResetService(f.store, hasher, f.notifier, cfg, zerolog.Nop())
	f.svc.now = func() time.Time { return f.clock }

	if _, err := f.auth.Signup(context.Background(), ports.SignupInput{
		FullName: "A", Email: "a@x.com", Password: "Aa1!aaaa", Role: "client",
	}); err != nil {
		t.Fatalf("signup: %v", err)
	}
	return f
}

func (f *resetFixture) canLogin(password string) bool {
	_, err := f.auth.Login(context.Background(), "a@x.com", password)
	return err == nil
}

func TestResetService_ForgotPassword_StoresCycle(t *testing.T) {
	f := newResetFixture(t, ResetConfig{})
	ctx := context.Background()

	if err := f.svc.ForgotPassword(ctx, " A@X.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}

	d := f.notifier.last(t)
	if d.Email != "a@x.com" || d.Token == "" || len(d.OTP) != domain.OTPDigits {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if !d.ExpiresAt.Equal(f.clock.Add(15 * time.Minute)) {
		t.Fatalf("expected expiry now+15m, got %s", d.ExpiresAt)
	}

	user, _ := f.store.FindByEmail(ctx, "a@x.com")
	if user.Reset == nil || user.Reset.TokenHash == d.Token || user.Reset.OTPHash == d.OTP {
		t.Fatalf("expected hashed secrets stored, got %+v", user.Reset)
	}
	if domain.ResetStateOf(user, f.clock) != domain.PendingReset {
		t.Fatalf("expected pending reset")
	}
}

func TestResetService_ForgotPassword_UnknownEmail(t *testing.T) {
	f := newResetFixture(t, ResetConfig{})
	if err := f.svc.ForgotPassword(context.Background(), "ghost@x.com"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := f.svc.ForgotPassword(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	concealed := newResetFixture(t, ResetConfig{ConcealUnknownEmail: true})
	if err := concealed.svc.ForgotPassword(context.Background(), "ghost@x.com"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if len(concealed.notifier.deliveries) != 0 {
		t.Fatalf("expected no delivery for unknown email")
	}
}

func TestResetService_TokenIsSingleUse(t *testing.T) {
	f := newResetFixture(t, ResetConfig{})
	ctx := context.Background()
	_ = f.svc.ForgotPassword(ctx, "a@x.com")
	token := f.notifier.last(t).Token

	if err := f.svc.ResetPassword(ctx, ports.ResetPasswordInput{Token: token, NewPassword: "Bb2@bbbb", ConfirmPassword: "Bb2@bbbb"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !f.canLogin("Bb2@bbbb") || f.canLogin("Aa1!aaaa") {
		t.Fatalf("password not replaced")
	}

	if _, err := f.store.FindByResetToken(ctx, hashSecret(token), f.clock); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected token cleared, got %v", err)
	}
	err := f.svc.ResetPassword(ctx, ports.ResetPasswordInput{Token: token, NewPassword: "Cc3#cccc"})
	if !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected replay rejected, got %v", err)
	}
}

func TestResetService_SecondRequestSupersedesFirst(t *testing.T) {
	f := newResetFixture(t, ResetConfig{})
	ctx := context.Background()

	_ = f.svc.ForgotPassword(ctx, "a@x.com")
	first := f.notifier.last(t)
	_ = f.svc.ResendOTP(ctx, "a@x.com")
	second := f.notifier.last(t)

	if err := f.svc.VerifyOTP(ctx, "a@x.com", first.OTP); first.OTP != second.OTP && !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected first otp rejected, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, ports.ResetPasswordInput{Token: first.Token, NewPassword: "Bb2@bbbb"}); !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected first token rejected, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, ports.ResetPasswordInput{Token: second.Token, NewPassword: "Bb2@bbbb"}); err != nil {
		t.Fatalf("second token should work: %v", err)
	}
}

func TestResetService_ExpiredTokenRejected(t *testing.T) {
	f := newResetFixture(t, ResetConfig{})
	ctx := context.Background()
	_ = f.svc.ForgotPassword(ctx, "a@x.com")
	d := f.notifier.last(t)

	f.clock = f.clock.Add(16 * time.Minute)

	if err := f.svc.ResetPassword(ctx, ports.ResetPasswordInput{Token: d.Token, NewPassword: "Bb2@bbbb"}); !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
	if err := f.svc.VerifyOTP(ctx, "a@x.com", d.OTP); !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected expired otp rejected, got %v", err)
	}
	if !f.canLogin("Aa1!aaaa") {
		t.Fatalf("password must be unchanged")
	}
}

func TestResetService_OTPFlow(t *testing.T) {
	f := newResetFixture(t, ResetConfig{})
	ctx := context.Background()
	_ = f.svc.ForgotPassword(ctx, "a@x.com")
	d := f.notifier.last(t)

	// resetting by email before verification is refused
	if err := f.svc.ResetPassword(ctx, ports.ResetPasswordInput{Email: "a@x.com", NewPassword: "Bb2@bbbb"}); !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected unverified reset rejected, got %v", err)
	}

	wrong := "000000"
	if d.OTP == wrong {
		wrong = "111111"
	}
	if err := f.svc.VerifyOTP(ctx, "a@x.com", wrong); !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected wrong otp rejected, got %v", err)
	}
	if err := f.svc.VerifyOTP(ctx, "a@x.com", "12ab"); !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected malformed otp rejected, got %v", err)
	}

	// a failed attempt keeps the cycle pending
	if err := f.svc.VerifyOTP(ctx, "a@x.com", d.OTP); err != nil {
		t.Fatalf("verify: %v", err)
	}
	user, _ := f.store.FindByEmail(ctx, "a@x.com")
	if domain.ResetStateOf(user, f.clock) != domain.ResetVerified {
		t.Fatalf("expected verified state")
	}

	if err := f.svc.ResetPassword(ctx, ports.ResetPasswordInput{Email: "a@x.com", NewPassword: "Bb2@bbbb", ConfirmPassword: "Bb2@bbbx"}); !errors.Is(err, domain.ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, ports.ResetPasswordInput{Email: "a@x.com", NewPassword: "weakpass"}); !errors.Is(err, domain.ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, ports.ResetPasswordInput{Email: "a@x.com", NewPassword: "Bb2@bbbb"}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	user, _ = f.store.FindByEmail(ctx, "a@x.com")
	if user.Reset != nil {
		t.Fatalf("expected reset cleared, got %+v", user.Reset)
	}
	if !f.canLogin("Bb2@bbbb") {
		t.Fatalf("new password rejected")
	}
}

func TestResetService_DeliveryFailure(t *testing.T) {
	f := newResetFixture(t, ResetConfig{})
	f.notifier.err = errors.New("smtp down")
	if err := f.svc.ForgotPassword(context.Background(), "a@x.com"); err == nil {
		t.Fatalf("expected delivery error")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, domain.EndpointClass) (domain.RateDecision, error) {
	return domain.RateDecision{}, errors.New("limiter down")
}

func TestResetService_VerifyOTP_PerEmailBudget(t *testing.T) {
	f := newResetFixture(t, ResetConfig{Limiter: ratelimit.NewMemory(nil)})
	ctx := context.Background()

	if err := f.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	otp := f.notifier.last(t).OTP
	wrong := "000000"
	if otp == wrong {
		wrong = "111111"
	}

	for i := 1; i <= 5; i++ {
		if err := f.svc.VerifyOTP(ctx, "a@x.com", wrong); !errors.Is(err, domain.ErrResetTokenInvalid) {
			t.Fatalf("guess %d: expected ErrResetTokenInvalid, got %v", i, err)
		}
	}

	err := f.svc.VerifyOTP(ctx, " A@x.com ", otp)
	var rle *domain.RateLimitError
	if !errors.As(err, &rle) || rle.Class != domain.ClassVerifyOTP || rle.RetryAfter <= 0 {
		t.Fatalf("6th verify for the same email: expected rate limit, got %v", err)
	}

	user, _ := f.store.FindByEmail(ctx, "a@x.com")
	if domain.ResetStateOf(user, f.clock) != domain.PendingReset {
		t.Fatalf("blocked verify must not change the cycle")
	}
}

func TestResetService_StartCycle_PerEmailBudget(t *testing.T) {
	f := newResetFixture(t, ResetConfig{Limiter: ratelimit.NewMemory(nil)})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := f.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
			t.Fatalf("forgot %d: %v", i, err)
		}
	}
	if err := f.svc.ForgotPassword(ctx, "a@x.com"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("4th forgot: expected ErrRateLimited, got %v", err)
	}
	if got := len(f.notifier.deliveries); got != 3 {
		t.Fatalf("expected 3 deliveries, got %d", got)
	}

	// resend has its own budget
	if err := f.svc.ResendOTP(ctx, "a@x.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	// unknown addresses are charged as well
	for i := 1; i <= 3; i++ {
		if err := f.svc.ForgotPassword(ctx, "ghost@x.com"); !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("ghost forgot %d: expected ErrUserNotFound, got %v", i, err)
		}
	}
	if err := f.svc.ForgotPassword(ctx, "ghost@x.com"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("4th ghost forgot: expected ErrRateLimited, got %v", err)
	}
}

func TestResetService_LimiterFailureLetsRequestThrough(t *testing.T) {
	f := newResetFixture(t, ResetConfig{Limiter: failingLimiter{}})
	ctx := context.Background()

	if err := f.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	if err := f.svc.VerifyOTP(ctx, "a@x.com", f.notifier.last(t).OTP); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
