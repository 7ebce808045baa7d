package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// SMTP submits messages to a relay with optional STARTTLS and PLAIN auth.
type SMTP struct {
	addr     string
	host     string
	username string
	password string
	startTLS bool
	timeout  time.Duration
}

// NewSMTP creates an SMTP provider for cfg.SMTPHost:cfg.SMTPPort.
func NewSMTP(cfg ProviderConfig) *SMTP {
	return &SMTP{
		addr:     net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		host:     cfg.SMTPHost,
		username: cfg.Username,
		password: cfg.Password,
		startTLS: cfg.StartTLS,
		timeout:  cfg.Timeout,
	}
}

func (s *SMTP) GetName() string { return "smtp" }

// Send opens a connection per message. Replies are classified with
// ClassifySMTPError; network failures stay unclassified and so transient.
func (s *SMTP) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	raw, err := buildMIME(msg)
	if err != nil {
		return nil, fmt.Errorf("smtp: build message: %w", err)
	}

	c, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	// Only replies about the recipient or the content are classified; a
	// rejected sender is a configuration problem and stays retryable.
	if err := c.Mail(msg.From, nil); err != nil {
		return nil, fmt.Errorf("smtp: MAIL FROM: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return nil, classifySMTP(err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return nil, classifySMTP(err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("smtp: write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, classifySMTP(err)
	}
	// Accepted at end of DATA; a failed QUIT changes nothing.
	_ = c.Quit()

	return &DeliveryResult{
		ProviderMessageID: msg.ID,
		Status:            StatusSent,
		Timestamp:         time.Now(),
		Metadata:          map[string]string{"relay": s.addr},
	}, nil
}

// HealthCheck connects, greets and authenticates, then quits.
func (s *SMTP) HealthCheck(ctx context.Context) error {
	c, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Noop(); err != nil {
		return fmt.Errorf("smtp: noop: %w", err)
	}
	return c.Quit()
}

func (s *SMTP) dial(ctx context.Context) (*gosmtp.Client, error) {
	var (
		c   *gosmtp.Client
		err error
	)
	if s.startTLS {
		c, err = gosmtp.DialStartTLS(s.addr, &tls.Config{ServerName: s.host})
	} else {
		c, err = gosmtp.Dial(s.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp: dial %s: %w", s.addr, err)
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); timeout == 0 || d < timeout {
			timeout = d
		}
	}
	if timeout > 0 {
		c.CommandTimeout = timeout
		c.SubmissionTimeout = timeout
	}

	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp: auth: %w", err)
		}
	}
	return c, nil
}

func classifySMTP(err error) error {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		if pe := ClassifySMTPError(smtpErr.Code, smtpErr.Message); pe != nil {
			return pe
		}
	}
	return err
}
