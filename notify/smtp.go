package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const defaultEmailTimeout = 30 * time.Second

// Stages of an SMTP submission, reported in [EmailError].
const (
	StageDial = "dial"
	StageAuth = "auth"
	StageSend = "send"
)

// EmailError is returned when any step of the SMTP submission fails.
type EmailError struct {
	// Stage is one of [StageDial], [StageAuth] or [StageSend].
	Stage string
	Err   error
}

func (e *EmailError) Error() string {
	return fmt.Sprintf("email %s failed: %v", e.Stage, e.Err)
}

func (e *EmailError) Unwrap() error { return e.Err }

// Dialer opens a connection to an SMTP server. The default dialer performs
// an implicit TLS handshake using cfg.
type Dialer func(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error)

func dialTLS(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error) {
	d := &tls.Dialer{Config: cfg}
	return d.DialContext(ctx, "tcp", addr)
}

// SMTP submits alerts over implicit TLS (SMTPS, usually port 465).
type SMTP struct {
	dial    Dialer
	timeout time.Duration
	now     func() time.Time
}

// SMTPOption configures an [SMTP] client.
type SMTPOption func(*SMTP)

// WithDialer replaces the TLS dialer.
func WithDialer(d Dialer) SMTPOption {
	return func(s *SMTP) {
		if d != nil {
			s.dial = d
		}
	}
}

// WithEmailTimeout bounds a whole submission session.
func WithEmailTimeout(d time.Duration) SMTPOption {
	return func(s *SMTP) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSMTP creates an SMTP client.
func NewSMTP(opts ...SMTPOption) *SMTP {
	s := &SMTP{
		dial:    dialTLS,
		timeout: defaultEmailTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendEmail logs in with p.SMTP credentials and delivers message to
// p.RecipientEmail with p.SenderName as the subject. The envelope sender is
// the SMTP username. Every failure is returned as an *EmailError.
func (s *SMTP) SendEmail(ctx context.Context, p *Profile, message string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	host := p.SMTP.Server
	addr := net.JoinHostPort(host, strconv.Itoa(p.SMTP.Port))

	conn, err := s.dial(ctx, addr, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return &EmailError{Stage: StageDial, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// unblock any pending read or write once ctx is done
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return &EmailError{Stage: StageDial, Err: err}
	}
	defer func() { _ = client.Close() }()

	if err := client.Auth(smtp.PlainAuth("", p.SMTP.Username, p.SMTP.Password, host)); err != nil {
		return &EmailError{Stage: StageAuth, Err: err}
	}

	if err := s.submit(client, p, message); err != nil {
		return &EmailError{Stage: StageSend, Err: err}
	}

	// the message is accepted at this point, a failed QUIT is not a delivery failure
	_ = client.Quit()
	return nil
}

func (s *SMTP) submit(client *smtp.Client, p *Profile, message string) error {
	if err := client.Mail(p.SMTP.Username); err != nil {
		return err
	}
	if err := client.Rcpt(p.RecipientEmail); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(s.compose(p, message))); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// compose renders a plaintext RFC 5322 message.
func (s *SMTP) compose(p *Profile, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", p.SMTP.Username)
	fmt.Fprintf(&b, "To: %s\r\n", p.RecipientEmail)
	fmt.Fprintf(&b, "Subject: %s\r\n", headerValue(p.SenderName))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.String()
}

// headerValue strips line breaks so a value cannot inject extra headers.
func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
