package mailer

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ansarisultan/lexachat-server/internal/config"
)

const noProviderReason = "No email provider configured"

var ErrNotConfigured = errors.New("email transport is not configured")

type Email struct {
	To      string
	Subject string
	Text    string
}

// Delivery reports whether a message left the server. An undelivered result
// with a nil error means no provider is configured.
type Delivery struct {
	Delivered bool
	Reason    string
}

type Sender interface {
	Send(ctx context.Context, email Email) (Delivery, error)
}

type transport interface {
	Configured() bool
	Send(ctx context.Context, email Email) error
}

// Mailer tries the Resend API first and falls back to SMTP when Resend is
// missing or fails.
type Mailer struct {
	resend transport
	smtp   transport
	logger log.FieldLogger
}

func New(cfg config.Config, resend ResendClient, logger log.FieldLogger) Mailer {
	return Mailer{
		resend: resend,
		smtp:   NewSMTPTransport(cfg),
		logger: logger,
	}
}

func (m Mailer) Send(ctx context.Context, email Email) (Delivery, error) {
	if m.resend != nil && m.resend.Configured() {
		err := m.resend.Send(ctx, email)
		if err == nil {
			return Delivery{Delivered: true}, nil
		}
		m.logger.WithFields(log.Fields{
			"event":   "email_resend_failed",
			"subject": email.Subject,
		}).WithError(err).Warn("Resend delivery failed, falling back to SMTP")
	}

	if m.smtp == nil || !m.smtp.Configured() {
		return Delivery{Delivered: false, Reason: noProviderReason}, nil
	}
	if err := m.smtp.Send(ctx, email); err != nil {
		return Delivery{}, err
	}
	return Delivery{Delivered: true}, nil
}

func displayName(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return "there"
}
