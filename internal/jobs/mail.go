package jobs

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/ainative/accounts/internal/config"
)

// mailer delivers one plain-text message
type mailer func(to, subject, body string) error

// smtpMailer sends notification emails through the configured relay.
type smtpMailer struct {
	cfg  config.SMTPConfig
	addr string
	auth smtp.Auth
}

func newSMTPMailer(cfg config.SMTPConfig) *smtpMailer {
	m := &smtpMailer{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m
}

// message renders the RFC 5322 headers and body with CRLF line endings.
func (m *smtpMailer) message(to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Send implements mailer. With UseTLS set it first tries implicit TLS (SMTPS,
// port 465); when that handshake fails it falls back to smtp.SendMail, which
// upgrades with STARTTLS if the server offers it.
func (m *smtpMailer) Send(to, subject, body string) error {
	msg := m.message(to, subject, body)
	if !m.cfg.UseTLS {
		return smtp.SendMail(m.addr, m.auth, m.cfg.From, []string{to}, msg)
	}

	conn, err := tls.Dial("tcp", m.addr, &tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return smtp.SendMail(m.addr, m.auth, m.cfg.From, []string{to}, msg)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake with %s: %w", m.addr, err)
	}
	defer c.Quit() //nolint:errcheck
	return m.deliver(c, to, msg)
}

// deliver runs AUTH, MAIL, RCPT and DATA on an established session.
func (m *smtpMailer) deliver(c *smtp.Client, to string, msg []byte) error {
	if m.auth != nil {
		if err := c.Auth(m.auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO %s: %w", to, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
