package mailer

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"

	"github.com/noah-isme/eventos-api/pkg/config"
)

// Attachment is an in-memory file attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is an outbound plain text email.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends messages through an SMTP relay.
type SMTPMailer struct {
	from    string
	addr    string
	auth    smtp.Auth
	timeout time.Duration
	send    func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSMTPMailer builds a mailer from configuration. Authentication is only
// configured when a user is set.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &SMTPMailer{
		from:    from,
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth:    auth,
		timeout: 30 * time.Second,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Send delivers the message. The SMTP exchange itself is not cancellable, so
// the context only bounds how long the caller waits for it.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	e, err := m.build(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.send(e, m.addr, m.auth) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mailer: send to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mailer: send to %s: %w", msg.To, ctx.Err())
	}
}

func (m *SMTPMailer) build(msg Message) (*email.Email, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("mailer: recipient required")
	}
	e := email.NewEmail()
	e.From = m.from
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)
	for _, a := range msg.Attachments {
		if _, err := e.Attach(bytes.NewReader(a.Data), a.Filename, a.ContentType); err != nil {
			return nil, fmt.Errorf("mailer: attach %s: %w", a.Filename, err)
		}
	}
	return e, nil
}

// LogMailer records messages instead of sending them. Used when email is disabled.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message envelope.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email disabled, message not sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}
