package mail

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes messages to the log instead of sending them. The body
// holds live reset secrets, so it is only logged when IncludeBody is set.
type LogSender struct {
	log         zerolog.Logger
	includeBody bool
}

func NewLogSender(log zerolog.Logger, includeBody bool) *LogSender {
	return &LogSender{log: log, includeBody: includeBody}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	ev := s.log.Info().Str("to", msg.To).Str("subject", msg.Subject)
	if s.includeBody {
		ev = ev.Str("body", msg.Body)
	}
	ev.Msg("mail")
	return nil
}
