package domain

import "time"

// DefaultResetTTL bounds how long a reset token or OTP stays usable.
const DefaultResetTTL = 15 * time.Minute

// OTPDigits is the length of the numeric reset code.
const OTPDigits = 6

// ResetSecret is the stored side of an in-flight reset cycle. Only hashes of
// the token and OTP are kept.
type ResetSecret struct {
	TokenHash  string
	OTPHash    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	VerifiedAt *time.Time
}

// Expired reports whether the cycle is past its deadline at now.
func (s *ResetSecret) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ResetState is the derived position of an account in the reset flow.
type ResetState int

const (
	NoActiveReset ResetState = iota
	PendingReset
	ResetVerified
)

func (s ResetState) String() string {
	switch s {
	case PendingReset:
		return "pending"
	case ResetVerified:
		return "verified"
	default:
		return "none"
	}
}

// ResetStateOf derives the reset state lazily; an expired cycle counts as
// no active reset even though its fields may still be stored.
func ResetStateOf(u *User, now time.Time) ResetState {
	if u == nil || u.Reset == nil || u.Reset.Expired(now) {
		return NoActiveReset
	}
	if u.Reset.VerifiedAt != nil {
		return ResetVerified
	}
	return PendingReset
}

// ResetDelivery is what the out-of-band notifier must get to the user.
type ResetDelivery struct {
	Email     string
	Token     string
	OTP       string
	ExpiresAt time.Time
}
