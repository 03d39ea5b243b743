package domain

import "time"

// EndpointClass groups endpoints sharing one attempt budget.
type EndpointClass string

const (
	ClassLogin          EndpointClass = "login"
	ClassForgotPassword EndpointClass = "forgot_password"
	ClassVerifyOTP      EndpointClass = "verify_otp"
	ClassResendOTP      EndpointClass = "resend_otp"
)

// RatePolicy allows Limit attempts per Window.
type RatePolicy struct {
	Limit  int
	Window time.Duration
}

// DefaultRatePolicies are the per-class budgets.
var DefaultRatePolicies = map[EndpointClass]RatePolicy{
	ClassLogin:          {Limit: 5, Window: 15 * time.Minute},
	ClassForgotPassword: {Limit: 3, Window: 15 * time.Minute},
	ClassVerifyOTP:      {Limit: 5, Window: 10 * time.Minute},
	ClassResendOTP:      {Limit: 3, Window: 15 * time.Minute},
}

// RateDecision is the limiter verdict for one attempt.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Err converts a denial into a *RateLimitError; nil when allowed.
func (d RateDecision) Err(class EndpointClass) error {
	if d.Allowed {
		return nil
	}
	return &RateLimitError{Class: class, RetryAfter: d.RetryAfter}
}
