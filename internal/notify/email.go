package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-prayer-backend/internal/config"
)

// ErrNoRecipients is returned when a message has no valid To address.
var ErrNoRecipients = errors.New("notify: message has no recipients")

// ErrNoProvider is returned when no email provider is configured.
var ErrNoProvider = errors.New("notify: email provider not configured")

// ErrSTARTTLSUnavailable is returned when TLS is required but the server
// does not offer STARTTLS.
var ErrSTARTTLSUnavailable = errors.New("notify: server does not support STARTTLS")

// Message is a multipart/alternative email.
type Message struct {
	To      []string
	Cc      []string
	Subject string
	HTML    string
	Text    string
}

// NormalizeRecipients trims, de-duplicates (case-insensitively) and drops
// empty addresses, then removes from cc every address already present in to.
// The first spelling of an address wins.
func NormalizeRecipients(to, cc []string) (outTo, outCc []string) {
	seen := make(map[string]struct{}, len(to)+len(cc))
	add := func(dst []string, addr string) []string {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return dst
		}
		k := strings.ToLower(addr)
		if _, dup := seen[k]; dup {
			return dst
		}
		seen[k] = struct{}{}
		return append(dst, addr)
	}
	for _, a := range to {
		outTo = add(outTo, a)
	}
	for _, a := range cc {
		outCc = add(outCc, a)
	}
	return outTo, outCc
}

// SMTPMailer sends Messages over SMTP, either with implicit TLS (UseSSL,
// usually port 465) or with STARTTLS (usually port 587).
type SMTPMailer struct {
	cfg config.SMTPConfig

	// dial is overridable in tests.
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPMailer returns a mailer for cfg.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	d := &net.Dialer{Timeout: 10 * time.Second}
	return &SMTPMailer{cfg: cfg, dial: d.DialContext}
}

// Send delivers msg to every To and Cc address in a single SMTP transaction.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	to, cc := NormalizeRecipients(msg.To, msg.Cc)
	if len(to) == 0 {
		return ErrNoRecipients
	}
	raw := m.buildMessage(to, cc, msg.Subject, msg.HTML, msg.Text, time.Now())

	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))
	conn, err := m.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	tlsCfg := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
	if m.cfg.UseSSL {
		conn = tls.Client(conn, tlsCfg)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if !m.cfg.UseSSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		} else if m.cfg.RequireTLS {
			return ErrSTARTTLSUnavailable
		}
	}

	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range append(append([]string{}, to...), cc...) {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}

func (m *SMTPMailer) buildMessage(to, cc []string, subject, htmlBody, textBody string, now time.Time) []byte {
	boundary := "alt_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	var b bytes.Buffer
	write := func(format string, a ...any) { _, _ = fmt.Fprintf(&b, format, a...) }

	write("From: %s\r\n", m.fromHeader())
	write("To: %s\r\n", strings.Join(to, ", "))
	if len(cc) > 0 {
		write("Cc: %s\r\n", strings.Join(cc, ", "))
	}
	write("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	write("Date: %s\r\n", now.Format(time.RFC1123Z))
	write("MIME-Version: 1.0\r\n")
	write("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	write("--%s\r\n", boundary)
	write("Content-Type: text/plain; charset=UTF-8\r\n")
	write("Content-Transfer-Encoding: 8bit\r\n\r\n")
	write("%s\r\n\r\n", textBody)

	write("--%s\r\n", boundary)
	write("Content-Type: text/html; charset=UTF-8\r\n")
	write("Content-Transfer-Encoding: 8bit\r\n\r\n")
	write("%s\r\n\r\n", htmlBody)

	write("--%s--\r\n", boundary)
	return b.Bytes()
}

func (m *SMTPMailer) fromHeader() string {
	name := strings.TrimSpace(m.cfg.FromName)
	if name == "" {
		return m.cfg.From
	}
	return (&mail.Address{Name: name, Address: m.cfg.From}).String()
}
