package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

// Message is a single outbound mail. HTML and Text may both be set.
type Message struct {
	To      string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
}

type Mailer struct {
	cfg Config
}

func New(cfg Config) *Mailer {
	return &Mailer{cfg: cfg}
}

// Configured reports whether enough SMTP settings exist to attempt delivery.
func (m *Mailer) Configured() bool {
	return strings.TrimSpace(m.cfg.Host) != "" && strings.TrimSpace(m.sender()) != ""
}

func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	em, err := m.build(msg)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if m.cfg.UseTLS && m.cfg.Port == 465 {
		return em.SendWithTLS(addr, auth, &tls.Config{
			ServerName: m.cfg.Host,
			MinVersion: tls.VersionTLS12,
		})
	}
	if m.cfg.UseTLS {
		return em.SendWithStartTLS(addr, auth, &tls.Config{
			ServerName: m.cfg.Host,
			MinVersion: tls.VersionTLS12,
		})
	}
	return em.Send(addr, auth)
}

func (m *Mailer) build(msg Message) (*email.Email, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, fmt.Errorf("mailer: recipient is required")
	}
	em := email.NewEmail()
	em.From = m.sender()
	em.To = []string{msg.To}
	if msg.ReplyTo != "" {
		em.ReplyTo = []string{msg.ReplyTo}
	}
	em.Subject = msg.Subject
	if msg.Text != "" {
		em.Text = []byte(msg.Text)
	}
	if msg.HTML != "" {
		em.HTML = []byte(msg.HTML)
	}
	return em, nil
}

func (m *Mailer) sender() string {
	if strings.TrimSpace(m.cfg.From) != "" {
		return m.cfg.From
	}
	return m.cfg.Username
}
