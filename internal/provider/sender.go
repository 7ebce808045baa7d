package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/subscriber"
)

// Sender sends one newsletter copy to one subscriber from the configured
// sender address.
type Sender struct {
	provider Provider
	from     subscriber.Email
	log      zerolog.Logger
}

// NewSender wraps p. from must already be a valid address.
func NewSender(p Provider, from subscriber.Email, log zerolog.Logger) *Sender {
	return &Sender{
		provider: p,
		from:     from,
		log:      log.With().Str("component", "sender").Str("provider", p.GetName()).Logger(),
	}
}

// SendEmail delivers subject with both bodies to recipient. Errors are
// returned as the provider reported them so callers can use IsPermanent.
func (s *Sender) SendEmail(ctx context.Context, recipient subscriber.Email, subject, htmlBody, textBody string) error {
	msg := &Message{
		ID:       uuid.NewString() + "@" + s.from.Domain(),
		From:     s.from.String(),
		To:       []string{recipient.String()},
		Subject:  subject,
		TextBody: textBody,
		HTMLBody: htmlBody,
	}

	start := time.Now()
	result, err := s.provider.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("send to %s: %w", recipient, err)
	}

	s.log.Debug().
		Str("message_id", msg.ID).
		Str("provider_message_id", result.ProviderMessageID).
		Dur("duration", time.Since(start)).
		Msg("message accepted")
	return nil
}
