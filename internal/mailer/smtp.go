package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/ansarisultan/lexachat-server/internal/config"
)

const (
	smtpSendTimeout = 15 * time.Second
	implicitTLSPort = 465
)

type SMTPTransport struct {
	host    string
	port    int
	user    string
	pass    string
	from    string
	timeout time.Duration
}

func NewSMTPTransport(cfg config.Config) SMTPTransport {
	return SMTPTransport{
		host:    strings.TrimSpace(cfg.SMTPHost),
		port:    cfg.SMTPPort,
		user:    strings.TrimSpace(cfg.SMTPUser),
		pass:    cfg.SMTPPass,
		from:    strings.TrimSpace(cfg.SMTPFrom),
		timeout: smtpSendTimeout,
	}
}

func (t SMTPTransport) Configured() bool {
	return t.host != "" && t.port > 0 && t.user != "" && t.pass != ""
}

func (t SMTPTransport) sender() string {
	if t.from != "" {
		return t.from
	}
	return t.user
}

// Send delivers one plain-text message. Port 465 uses implicit TLS; other
// ports upgrade with STARTTLS when the server offers it.
func (t SMTPTransport) Send(ctx context.Context, email Email) error {
	if !t.Configured() {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	tlsConfig := &tls.Config{ServerName: t.host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if t.port == implicitTLSPort {
		dialer := &tls.Dialer{Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if t.port != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if err := client.Auth(smtp.PlainAuth("", t.user, t.pass, t.host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	from := t.sender()
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(email.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := writer.Write(buildMessage(from, email)); err != nil {
		writer.Close()
		return fmt.Errorf("write smtp message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish smtp message: %w", err)
	}
	return client.Quit()
}

func buildMessage(from string, email Email) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + email.To + "\r\n")
	b.WriteString("Subject: " + email.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(email.Text, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
