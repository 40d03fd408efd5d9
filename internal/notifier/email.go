package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/jordan-wright/email"
	"github.com/wootoff-monitor/internal/types"
)

type EmailOptions struct {
	Server   string
	Port     int
	From     string
	To       []string
	Username string
	Password string
}

// Email sends a plain-text message per event over SMTP. Connections come
// from an email.Pool, which skips AUTH when the server does not offer it.
type Email struct {
	opts EmailOptions
	send func(mail *email.Email, timeout time.Duration) error

	mu   sync.Mutex
	pool *email.Pool
}

func NewEmail(opts EmailOptions) *Email {
	if opts.Username == "" {
		opts.Username = opts.From
	}
	e := &Email{opts: opts}
	e.send = e.sendPooled
	return e
}

func (e *Email) sendPooled(mail *email.Email, timeout time.Duration) error {
	e.mu.Lock()
	if e.pool == nil {
		var auth smtp.Auth
		if e.opts.Password != "" {
			auth = smtp.PlainAuth("", e.opts.Username, e.opts.Password, e.opts.Server)
		}
		pool, err := email.NewPool(fmt.Sprintf("%s:%d", e.opts.Server, e.opts.Port), 1, auth)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("smtp pool: %w", err)
		}
		e.pool = pool
	}
	pool := e.pool
	e.mu.Unlock()

	return pool.Send(mail, timeout)
}

func (e *Email) Notify(ctx context.Context, event types.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Woot-Off Monitor <%s>", e.opts.From)
	mail.To = e.opts.To
	mail.Subject = "[wootoff] " + event.Summary()
	mail.Text = []byte(emailBody(event))

	// the pool waits at most until the deadline for a connection; without
	// one it waits indefinitely
	timeout := time.Duration(-1)
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	done := make(chan error, 1)
	go func() {
		done <- e.send(mail, timeout)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send email: %w", ctx.Err())
	}
}

// Close releases pooled SMTP connections
func (e *Email) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pool != nil {
		e.pool.Close()
		e.pool = nil
	}
	return nil
}

func emailBody(event types.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", event.Decision)
	fmt.Fprintf(&b, "Item:   %s\n", event.Snapshot.Title)
	fmt.Fprintf(&b, "Price:  %s\n", orNA(event.Snapshot.Price))
	fmt.Fprintf(&b, "Status: %s\n", event.Snapshot.Status)
	if event.Previous != nil {
		fmt.Fprintf(&b, "\nPreviously: %s\n", event.Previous)
	}
	fmt.Fprintf(&b, "\n%s\nDetected at %s\n", event.URL, event.DetectedAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
