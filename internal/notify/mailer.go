// mailer.go implements SMTP mail delivery for prolong notifications and
// admin escalations. Failures are reported synchronously to the caller; the
// caller decides whether to escalate.
package notify

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
)

// SMTPSettings holds the connection parameters for the outbound mail server.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	// AdminEmail receives escalations when user-facing delivery fails.
	AdminEmail string
}

// Mailer sends plain-text mail.
type Mailer interface {
	Send(subject, body string, recipients []string) error
}

// SMTPMailer is the production Mailer.
type SMTPMailer struct {
	cfg SMTPSettings
}

// NewSMTPMailer creates a mailer for the given settings.
func NewSMTPMailer(cfg SMTPSettings) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Configured reports whether an SMTP host is set. An unconfigured mailer
// makes Send fail, which callers treat like any other delivery failure.
func (m *SMTPMailer) Configured() bool {
	return m.cfg.Host != ""
}

// Send delivers one plain-text message to all recipients.
func (m *SMTPMailer) Send(subject, body string, recipients []string) error {
	if !m.Configured() {
		return fmt.Errorf("smtp host not configured")
	}

	headers := fmt.Sprintf(
		"From: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		m.cfg.From, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if m.cfg.UseTLS {
		return sendMailTLS(addr, m.cfg.Host, auth, m.cfg.From, recipients, msg)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, recipients, msg)
}

// EscalateToAdmins mails the configured admin address. When no admin address
// is set or delivery itself fails it only logs; an escalation must never take
// its caller down.
func (m *SMTPMailer) EscalateToAdmins(subject, body string) {
	if m.cfg.AdminEmail == "" {
		slog.Warn("admin escalation dropped, no admin email configured", "subject", subject)
		return
	}
	if err := m.Send(subject, body, []string{m.cfg.AdminEmail}); err != nil {
		slog.Error("admin escalation mail failed", "subject", subject, "error", err)
	}
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a
// message. For port 587 STARTTLS deployments the dial fails fast and we fall
// back to the standard smtp.SendMail upgrade path, so UseTLS=true always
// means an encrypted connection either way.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
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
