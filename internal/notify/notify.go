package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"examportal/internal/auth"

	"go.uber.org/zap"
)

// SubmissionNotice describes a committed submission.
type SubmissionNotice struct {
	UserID      int64
	SessionID   string
	TestID      int64
	SubmittedAt time.Time
}

// Notifier delivers submission confirmations. Implementations are called
// after commit; their errors are logged by the caller and never surface to
// the candidate.
type Notifier interface {
	NotifySubmission(ctx context.Context, n SubmissionNotice) error
}

type ContactLookup interface {
	LookupContact(ctx context.Context, userID int64) (auth.Contact, error)
}

type TestLookup interface {
	TestTitle(ctx context.Context, testID int64) (title, course string, err error)
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type SMTPNotifier struct {
	host     string
	port     int
	user     string
	pass     string
	from     string
	contacts ContactLookup
	tests    TestLookup
	send     func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New returns an SMTP notifier when SMTP is configured and a log-only
// notifier otherwise.
func New(cfg SMTPConfig, contacts ContactLookup, tests TestLookup, log *zap.Logger) Notifier {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return NewLogNotifier(log)
	}
	return &SMTPNotifier{
		host:     strings.TrimSpace(cfg.Host),
		port:     cfg.Port,
		user:     strings.TrimSpace(cfg.User),
		pass:     cfg.Pass,
		from:     strings.TrimSpace(cfg.From),
		contacts: contacts,
		tests:    tests,
		send:     sendMail,
	}
}

func (m *SMTPNotifier) NotifySubmission(ctx context.Context, n SubmissionNotice) error {
	contact, err := m.contacts.LookupContact(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}
	if strings.TrimSpace(contact.Email) == "" {
		return fmt.Errorf("user %d has no email", n.UserID)
	}

	title, course := fmt.Sprintf("Test %d", n.TestID), ""
	if m.tests != nil {
		if t, c, err := m.tests.TestTitle(ctx, n.TestID); err == nil {
			title, course = t, c
		}
	}

	msg := buildSubmissionMessage(m.from, contact, title, course, n)

	var a smtp.Auth
	if m.user != "" {
		a = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := m.send(ctx, addr, a, m.from, []string{contact.Email}, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fmt.Errorf("smtp send submission confirmation: %w", err)
	}
	return nil
}

// sendMail is smtp.SendMail bound to ctx: the dial honours cancellation and
// every later read or write fails once ctx is done.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	// Expire the connection once ctx is done; covers deadlines and cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildSubmissionMessage(from string, to auth.Contact, title, course string, n SubmissionNotice) []byte {
	var body strings.Builder
	fmt.Fprintf(&body, "Dear %s,\r\n\r\n", to.FullName)
	body.WriteString("Your test has been successfully submitted.\r\n\r\n")
	if course != "" {
		fmt.Fprintf(&body, "Course: %s\r\n", course)
	}
	fmt.Fprintf(&body, "Test: %s\r\n", title)
	fmt.Fprintf(&body, "Session: %s\r\n", n.SessionID)
	fmt.Fprintf(&body, "Submitted at: %s\r\n", n.SubmittedAt.UTC().Format(time.RFC1123))

	msg := "From: " + from + "\r\n" +
		"To: " + to.Email + "\r\n" +
		"Subject: Test Submission Confirmation\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		body.String()
	return []byte(msg)
}

// LogNotifier records the notice instead of sending mail.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) NotifySubmission(ctx context.Context, n SubmissionNotice) error {
	l.log.Info("submission confirmation (smtp not configured)",
		zap.Int64("user_id", n.UserID),
		zap.String("session_id", n.SessionID),
		zap.Int64("test_id", n.TestID),
	)
	return nil
}
