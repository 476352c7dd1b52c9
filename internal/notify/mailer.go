package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Config carries SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// Mailer delivers plain-text mail over SMTP.
type Mailer struct {
	cfg    Config
	logger *slog.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer constructs a Mailer.
func NewMailer(cfg Config, logger *slog.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: logger, send: smtp.SendMail}
}

// Send delivers one message to the listed recipients.
func (m *Mailer) Send(ctx context.Context, to []string, subject, body string) error {
	if m == nil || m.cfg.Host == "" {
		return errors.New("notify: mailer not configured")
	}
	if len(to) == 0 {
		return errors.New("notify: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))
	msg := buildMessage(m.cfg.From, to, subject, body)

	start := time.Now()
	if err := m.send(addr, auth, m.cfg.From, to, msg); err != nil {
		return fmt.Errorf("notify: send to %s: %w", strings.Join(to, ","), err)
	}
	m.logger.Info("mail sent",
		slog.Int("recipients", len(to)),
		slog.String("subject", subject),
		slog.Duration("took", time.Since(start)))
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
