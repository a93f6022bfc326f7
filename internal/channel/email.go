package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	netmail "net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"github.com/wneessen/go-mail/smtp"

	"notifyd/internal/config"
	"notifyd/internal/notify"
)

// Mailer sends one plain-text email to one recipient.
type Mailer interface {
	Send(ctx context.Context, cfg config.EmailConfig, to, subject, body string) error
}

// SMTPMailer delivers through go-mail, using implicit TLS (465) or plaintext (25).
//
// The message is composed by go-mail and sent with its smtp client. The From
// header is rewritten so a non-ASCII display name is B-encoded; go-mail
// renders display names through net/mail, which always Q-encodes them.
type SMTPMailer struct {
	Timeout time.Duration
	// TLSConfig overrides the implicit TLS settings. ServerName defaults to the host.
	TLSConfig *tls.Config
}

func (m SMTPMailer) Send(ctx context.Context, cfg config.EmailConfig, to, subject, body string) error {
	from := strings.TrimSpace(cfg.SenderEmail)
	raw, err := composeMail(from, strings.TrimSpace(cfg.SenderName), to, subject, body)
	if err != nil {
		return err
	}

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	host := strings.TrimSpace(cfg.Host)
	conn, err := m.dial(ctx, cfg, host, timeout)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer func() { _ = c.Close() }()

	if user := strings.TrimSpace(cfg.Username); user != "" {
		if err := c.Auth(smtp.PlainAuth("", user, cfg.Password, host, !cfg.UseSSL)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	return c.Quit()
}

func (m SMTPMailer) dial(ctx context.Context, cfg config.EmailConfig, host string, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", smtpAddr(cfg))
	if err != nil {
		return nil, err
	}
	if !cfg.UseSSL {
		return conn, nil
	}
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if m.TLSConfig != nil {
		tc = m.TLSConfig.Clone()
	}
	if tc.ServerName == "" {
		tc.ServerName = host
	}
	tlsConn := tls.Client(conn, tc)
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// smtpAddr applies the port defaults: 465 with SSL, 25 without.
func smtpAddr(cfg config.EmailConfig) string {
	port := cfg.Port
	if port <= 0 {
		port = 25
		if cfg.UseSSL {
			port = 465
		}
	}
	return net.JoinHostPort(strings.TrimSpace(cfg.Host), strconv.Itoa(port))
}

// composeMail renders a UTF-8 plain-text message with B-encoded subject and body.
func composeMail(from, name, to, subject, body string) ([]byte, error) {
	msg := mail.NewMsg(mail.WithEncoding(mail.EncodingB64), mail.WithCharset(mail.CharsetUTF8))
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	raw := buf.Bytes()
	if name == "" {
		return raw, nil
	}
	return replaceFromHeader(raw, fromHeader(name, from))
}

// fromHeader B-encodes non-ASCII display names and quotes ASCII ones.
func fromHeader(name, addr string) string {
	enc := mime.BEncoding.Encode("UTF-8", name)
	if enc == name {
		return (&netmail.Address{Name: name, Address: addr}).String()
	}
	return enc + " <" + addr + ">"
}

func replaceFromHeader(raw []byte, value string) ([]byte, error) {
	end := bytes.Index(raw, []byte("\r\n\r\n"))
	if end < 0 {
		return nil, errors.New("render: no header block")
	}
	lines := strings.Split(string(raw[:end]), "\r\n")
	found := false
	for i, l := range lines {
		if strings.HasPrefix(l, "From: ") {
			lines[i] = "From: " + value
			found = true
			break
		}
	}
	if !found {
		return nil, errors.New("render: no From header")
	}
	out := []byte(strings.Join(lines, "\r\n"))
	return append(out, raw[end:]...), nil
}

func emailDescriptor(m Mailer) Descriptor {
	if m == nil {
		m = SMTPMailer{}
	}
	return Descriptor{
		Name:    "email",
		Enabled: func(c config.ChannelsConfig) bool { return c.Email.Enabled },
		Ready: func(c config.ChannelsConfig) bool {
			e := c.Email
			return e.Enabled && !blank(e.Host) && !blank(e.SenderEmail) && !blank(e.Recipients)
		},
		Targets: func(c config.ChannelsConfig) []string { return SplitTargets(c.Email.Recipients) },
		Adapter: AdapterFunc(func(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, to string) error {
			return m.Send(ctx, cfg.Email, to, msg.Title, msg.Body)
		}),
	}
}
