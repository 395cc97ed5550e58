package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/vestri/authcore/internal/config"
)

const dialTimeout = 10 * time.Second

// Sender delivers mail over SMTP. Secure connects with implicit TLS;
// otherwise STARTTLS is used when the server offers it.
type Sender struct {
	cfg config.EmailConfig
}

func NewSender(cfg config.EmailConfig) *Sender {
	return &Sender{cfg: cfg}
}

func (s *Sender) Send(ctx context.Context, to, subject, text, html string) error {
	if !s.cfg.Enabled() {
		return oops.Code("EMAIL_NOT_CONFIGURED").Errorf("email is not configured")
	}

	msg := composeMessage(s.cfg.From, to, subject, text, html)
	if err := s.deliver(ctx, to, msg); err != nil {
		return oops.Code("EMAIL_SEND_FAILED").
			With("host", s.cfg.Host).
			Wrap(err)
	}
	return nil
}

func (s *Sender) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	var err error
	if s.cfg.Secure {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if !s.cfg.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return err
			}
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// composeMessage builds the RFC 5322 message. HTML wins over text when both
// are set.
func composeMessage(from, to, subject, text, html string) []byte {
	body := html
	contentType := "text/html"
	if strings.TrimSpace(body) == "" {
		body = text
		contentType = "text/plain"
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: %s; charset=\"UTF-8\"\r\n\r\n", contentType)
	msg.WriteString(body)
	return []byte(msg.String())
}

// LogMailer stands in for a transport when none is configured. It writes
// the message to the log so codes remain retrievable in development.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, text, _ string) error {
	m.logger.InfoContext(ctx, "email transport not configured, logging message",
		"to", to,
		"subject", subject,
		"body", text,
	)
	return nil
}

// Mailer is the subset of Sender and LogMailer used by callers.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// New returns an SMTP sender when cfg is complete, otherwise a LogMailer.
func New(cfg config.EmailConfig, logger *slog.Logger) Mailer {
	if cfg.Enabled() {
		return NewSender(cfg)
	}
	return NewLogMailer(logger)
}
