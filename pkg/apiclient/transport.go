package apiclient

import (
	"net/http"
	"strings"

	"github.com/gigmarket/identity/pkg/session"
)

const (
	pathSignup         = "/auth/signup"
	pathLogin          = "/auth/login"
	pathForgotPassword = "/auth/forgot-password"
	pathVerifyOTP      = "/auth/verify-otp"
	pathResendOTP      = "/auth/resend-otp"
	pathResetPassword  = "/auth/reset-password"
	pathChangePassword = "/auth/change-password"
	pathMe             = "/auth/me"
)

// anonymousPaths never carry the session token. A 401 from one of them is
// about the submitted credentials and leaves the session alone.
var anonymousPaths = []string{
	pathSignup,
	pathLogin,
	pathForgotPassword,
	pathVerifyOTP,
	pathResendOTP,
	pathResetPassword,
}

func isAnonymous(path string) bool {
	for _, p := range anonymousPaths {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

// bearerTransport attaches the session token to authenticated requests and
// ends the session when the server rejects that token.
type bearerTransport struct {
	base    http.RoundTripper
	session *session.Store
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var token string
	if !isAnonymous(req.URL.Path) {
		token = t.session.Token()
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		_, _ = t.session.Revoke(token)
	}
	return resp, nil
}
