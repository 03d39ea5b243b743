// Package mail renders and sends password reset messages.
package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gigmarket/identity/internal/core/domain"
)

// Message is a plain-text mail ready to hand to a Sender.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const resetSubject = "Reset your password"

// ResetMessage renders the reset mail. The link carries the token in the
// query string of resetURL; the OTP is printed for the code-entry path.
func ResetMessage(resetURL string, d domain.ResetDelivery) (Message, error) {
	link, err := resetLink(resetURL, d.Token)
	if err != nil {
		return Message{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "We received a request to reset the password for %s.\n\n", d.Email)
	fmt.Fprintf(&b, "Open this link to choose a new password:\n%s\n\n", link)
	fmt.Fprintf(&b, "Or enter this code in the app: %s\n\n", d.OTP)
	fmt.Fprintf(&b, "The link and code expire at %s.\n", d.ExpiresAt.UTC().Format(time.RFC1123))
	b.WriteString("If you did not ask for this, you can ignore this message.\n")

	return Message{To: d.Email, Subject: resetSubject, Body: b.String()}, nil
}

func resetLink(resetURL, token string) (string, error) {
	u, err := url.Parse(resetURL)
	if err != nil {
		return "", fmt.Errorf("parse reset url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
