// Package mailer sends the transactional email the local strategy needs:
// verification links on register and set-email, reset links on
// forgot-password. It subscribes to the strategy's events, so the auth core
// never depends on SMTP being reachable.
package mailer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	gomail "gopkg.in/gomail.v2"

	ooth "github.com/nickredmark/ooth-sub000"
)

// Config carries SMTP settings and the public URLs embedded in mails.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// From is the sender address, e.g. "Example <no-reply@example.com>".
	From string

	// SiteName appears in subjects and bodies.
	SiteName string

	// VerifyURL and ResetURL are the frontend pages that collect the token,
	// e.g. "https://example.com/verify-email". The token is appended as a
	// token query parameter.
	VerifyURL string
	ResetURL  string
}

// Sender abstracts gomail's DialAndSend for tests.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	cfg    Config
	sender Sender
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Mailer {
	return &Mailer{
		cfg:    cfg,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

// NewWithSender injects a custom sender; used by tests.
func NewWithSender(cfg Config, sender Sender, logger zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, sender: sender, logger: logger}
}

// Attach subscribes to the local strategy's email-bearing events. Send
// failures are logged, not returned: a down SMTP server must not fail a
// registration that already committed.
func (m *Mailer) Attach(o *ooth.Ooth) {
	o.On("local", "register", m.onVerificationNeeded)
	o.On("local", "set-email", m.onVerificationNeeded)
	o.On("local", "forgot-password", m.onForgotPassword)
}

func (m *Mailer) onVerificationNeeded(ctx context.Context, payload ooth.Values) error {
	email, _ := payload["email"].(string)
	token, _ := payload["verificationToken"].(string)
	if email == "" || token == "" {
		return nil
	}
	m.send(email,
		fmt.Sprintf("Verify your email for %s", m.cfg.SiteName),
		fmt.Sprintf("Welcome to %s!\n\nPlease verify your email address by visiting:\n\n%s?token=%s\n\nThe link expires in 24 hours.",
			m.cfg.SiteName, m.cfg.VerifyURL, token))
	return nil
}

func (m *Mailer) onForgotPassword(ctx context.Context, payload ooth.Values) error {
	email, _ := payload["email"].(string)
	token, _ := payload["passwordResetToken"].(string)
	if email == "" || token == "" {
		return nil
	}
	m.send(email,
		fmt.Sprintf("Reset your %s password", m.cfg.SiteName),
		fmt.Sprintf("Someone requested a password reset for your %s account.\n\nIf that was you, visit:\n\n%s?token=%s\n\nThe link expires in one hour. Otherwise you can ignore this email.",
			m.cfg.SiteName, m.cfg.ResetURL, token))
	return nil
}

func (m *Mailer) send(to, subject, body string) {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.sender.DialAndSend(msg); err != nil {
		m.logger.Error().Err(err).Str("to", to).Str("subject", subject).Msg("sending mail failed")
		return
	}
	m.logger.Debug().Str("to", to).Str("subject", subject).Msg("mail sent")
}
