package channel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifyd/internal/config"
)

// smtpSink is a single-connection SMTP server that records commands and the DATA payload.
type smtpSink struct {
	ln   net.Listener
	done chan struct{}

	mu   sync.Mutex
	cmds []string
	data string
}

func newSMTPSink(t *testing.T, ln net.Listener) *smtpSink {
	t.Helper()
	s := &smtpSink{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *smtpSink) port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *smtpSink) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 sink ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.cmds = append(s.cmds, line)
		s.mu.Unlock()

		verb, _, _ := strings.Cut(strings.ToUpper(line), " ")
		switch verb {
		case "EHLO":
			_ = tp.PrintfLine("250-sink")
			_ = tp.PrintfLine("250 AUTH PLAIN")
		case "HELO", "MAIL", "RCPT", "RSET", "NOOP":
			_ = tp.PrintfLine("250 ok")
		case "AUTH":
			_ = tp.PrintfLine("235 2.7.0 authenticated")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			b, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.data = string(b)
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 unknown")
		}
	}
}

func (s *smtpSink) wait(t *testing.T) (cmds []string, data string) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmds, s.data
}

func hasPrefix(lines []string, prefix string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

func TestSMTPMailerPlaintextEncodesSenderName(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sink := newSMTPSink(t, ln)

	cfg := config.EmailConfig{
		Host:        "127.0.0.1",
		Port:        sink.port(),
		SenderEmail: "bot@example.com",
		SenderName:  "直播机器人",
		Username:    "bot",
		Password:    "pw",
	}
	err = SMTPMailer{Timeout: 5 * time.Second}.Send(context.Background(), cfg, "ops@example.com", "直播开始", "Room X is live")
	require.NoError(t, err)

	cmds, data := sink.wait(t)
	require.True(t, hasPrefix(cmds, "AUTH PLAIN"), cmds)
	require.True(t, hasPrefix(cmds, "MAIL FROM:<bot@example.com>"), cmds)
	require.True(t, hasPrefix(cmds, "RCPT TO:<ops@example.com>"), cmds)

	encName := base64.StdEncoding.EncodeToString([]byte("直播机器人"))
	require.Contains(t, data, "From: =?UTF-8?b?"+encName+"?= <bot@example.com>\n")
	require.NotContains(t, data, "?q?")
	require.Contains(t, data, "=?UTF-8?b?"+base64.StdEncoding.EncodeToString([]byte("直播开始"))+"?=")
	require.Contains(t, data, "To: <ops@example.com>")
	require.Equal(t, 1, strings.Count(data, "From: "))
}

func TestSMTPMailerImplicitTLS(t *testing.T) {
	ts := httptest.NewTLSServer(http.NotFoundHandler())
	certs := ts.TLS.Certificates
	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())
	ts.Close()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: certs})
	require.NoError(t, err)
	sink := newSMTPSink(t, ln)

	cfg := config.EmailConfig{
		Host:        "127.0.0.1",
		Port:        sink.port(),
		UseSSL:      true,
		SenderEmail: "bot@example.com",
		SenderName:  "Live Bot",
	}
	m := SMTPMailer{Timeout: 5 * time.Second, TLSConfig: &tls.Config{RootCAs: pool}}
	require.NoError(t, m.Send(context.Background(), cfg, "ops@example.com", "t", "b"))

	_, data := sink.wait(t)
	require.Contains(t, data, `From: "Live Bot" <bot@example.com>`)
}

func TestSMTPMailerRejectsBadRecipient(t *testing.T) {
	cfg := config.EmailConfig{Host: "127.0.0.1", Port: 1, SenderEmail: "bot@example.com"}
	err := SMTPMailer{}.Send(context.Background(), cfg, "not an address", "t", "b")
	require.ErrorIs(t, err, ErrInvalidTarget)
}

func TestSMTPAddrPortDefaults(t *testing.T) {
	require.Equal(t, "smtp.example.com:25", smtpAddr(config.EmailConfig{Host: "smtp.example.com"}))
	require.Equal(t, "smtp.example.com:465", smtpAddr(config.EmailConfig{Host: "smtp.example.com", UseSSL: true}))
	require.Equal(t, "smtp.example.com:587", smtpAddr(config.EmailConfig{Host: " smtp.example.com ", Port: 587, UseSSL: true}))
}

func TestFromHeader(t *testing.T) {
	require.Equal(t, `"Live Bot" <bot@example.com>`, fromHeader("Live Bot", "bot@example.com"))
	require.True(t, strings.HasPrefix(fromHeader("直播", "bot@example.com"), "=?UTF-8?b?"))
}
