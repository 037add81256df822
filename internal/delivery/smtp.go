package delivery

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
)

// SMTPConfig holds the mail server settings.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// dialer abstracts gomail.Dialer for tests.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTP sends email notifications through a mail server.
type SMTP struct {
	from   string
	dialer dialer
}

// NewSMTP creates an SMTP transport.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTP{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
	}, nil
}

func (s *SMTP) Name() string { return "smtp" }

// Send delivers n as a plain-text email. gomail has no context support, so
// a cancelled ctx abandons the wait but not the SMTP session itself.
func (s *SMTP) Send(ctx context.Context, n notification.Notification) error {
	if n.Recipient == "" {
		return ErrNoRecipient
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", n.Recipient)
	m.SetHeader("Subject", n.Subject)
	m.SetHeader("X-Notification-ID", n.ID)
	m.SetBody("text/plain", n.Body)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email to %s: %w", n.Recipient, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
