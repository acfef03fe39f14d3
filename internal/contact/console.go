package contact

import (
	"context"

	"github.com/rs/zerolog"
)

// ConsoleSender writes messages to the log. Used when no provider key is configured.
type ConsoleSender struct {
	log zerolog.Logger
}

var _ Sender = (*ConsoleSender)(nil)

// NewConsoleSender creates a log-only sender.
func NewConsoleSender(logger *zerolog.Logger) *ConsoleSender {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return &ConsoleSender{log: log.With().Str("component", "mail").Logger()}
}

func (s *ConsoleSender) Send(_ context.Context, msg Message) error {
	s.log.Info().
		Str("to", msg.To.String()).
		Str("reply_to", msg.ReplyTo.String()).
		Str("subject", msg.Subject).
		Str("body", msg.Text).
		Msg("email (console)")
	return nil
}
