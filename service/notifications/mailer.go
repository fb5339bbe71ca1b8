package notification

import (
	"log/slog"

	"github.com/KAsare1/Fintrack-server/config"
	"gopkg.in/gomail.v2"
)

// Mailer sends plain-text email.
type Mailer interface {
	Send(to, subject, body string) error
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer returns an SMTP mailer, or a LogMailer when no SMTP host is
// configured so local setups keep working.
func NewMailer(cfg *config.Config) Mailer {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST not set, emails will only be logged")
		return LogMailer{}
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		from:   cfg.SMTPUser,
	}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.dialer.DialAndSend(msg)
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(to, subject, body string) error {
	slog.Info("email not sent (no SMTP configured)", "to", to, "subject", subject)
	return nil
}
