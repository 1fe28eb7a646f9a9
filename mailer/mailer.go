// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package mailer delivers verification emails.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/go-mail"

	"github.com/danielhkuo/quickform/cliparse"
)

var ErrNotConfigured = errors.New("mail server not configured")

// Sender delivers a plain-text message
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New returns an SMTP sender when mail is configured, otherwise a LogSender
func New(cfg cliparse.MailConfig) Sender {
	if cfg.Configured() {
		return &SMTPSender{cfg: cfg}
	}
	slog.Warn("mail not configured, verification codes will be logged")
	return &LogSender{}
}

type SMTPSender struct {
	cfg cliparse.MailConfig
}

func NewSMTPSender(cfg cliparse.MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
	}
	switch {
	case s.cfg.Port == 465:
		// implicit TLS
		opts = append(opts, mail.WithSSLPort(false))
	case s.cfg.UseTLS:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	}
	return opts
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if s.cfg.Server == "" || s.cfg.Username == "" || s.cfg.Password == "" {
		return ErrNotConfigured
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.Username); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(s.cfg.Server, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	slog.Info("mail sent", "to", to, "subject", subject)
	return nil
}

// LogSender logs messages instead of delivering them.
// Sent messages are kept so tests can read back codes.
type LogSender struct {
	mu   sync.Mutex
	sent []Message
}

type Message struct {
	To      string
	Subject string
	Body    string
}

func (l *LogSender) Send(ctx context.Context, to, subject, body string) error {
	l.mu.Lock()
	l.sent = append(l.sent, Message{To: to, Subject: subject, Body: body})
	l.mu.Unlock()

	slog.Info("mail (not delivered)", "to", to, "subject", subject, "body", body)
	return nil
}

// Sent returns a copy of every message passed to Send
func (l *LogSender) Sent() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.sent))
	copy(out, l.sent)
	return out
}

// Last returns the most recent message to the address
func (l *LogSender) Last(to string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.sent) - 1; i >= 0; i-- {
		if l.sent[i].To == to {
			return l.sent[i], true
		}
	}
	return Message{}, false
}

// VerificationBody is the text of the email carrying a 6 digit code
func VerificationBody(code string) string {
	return fmt.Sprintf("Your QuickForm verification code is %s.\n\nThe code expires in 10 minutes. If you did not request it, ignore this email.\n", code)
}

const VerificationSubject = "QuickForm verification code"
