// Package email delivers automation alerts through SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mail "github.com/go-mail/mail/v2"

	"github.com/verity-dq/verity/internal/observability/notify"
)

// Config captures the SMTP settings needed to deliver alert mail.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// DefaultTo receives alerts when the organization has no recipient list.
	DefaultTo []string
	Timeout   time.Duration
}

// Sender sends one plain-text email per alert. Per-alert recipients override
// the configured default list.
type Sender struct {
	cfg Config

	// send is swappable for tests; the default dials SMTP.
	send func(msg *mail.Message) error
}

var _ notify.Sink = (*Sender)(nil)

// NewSender builds an SMTP alert sender. Callers should pass a validated config.
func NewSender(cfg Config) (*Sender, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = cfg.Timeout

	return &Sender{cfg: cfg, send: func(msg *mail.Message) error {
		return dialer.DialAndSend(msg)
	}}, nil
}

// Send delivers the alert to the resolved recipient list.
func (s *Sender) Send(ctx context.Context, alert notify.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to := recipients(alert.EmailRecipients, s.cfg.DefaultTo)
	if len(to) == 0 {
		return nil
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", s.cfg.From)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject(alert))
	msg.SetBody("text/plain", body(alert))

	if err := s.send(msg); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}
	return nil
}

func recipients(override, fallback []string) []string {
	src := override
	if len(src) == 0 {
		src = fallback
	}
	out := make([]string, 0, len(src))
	for _, addr := range src {
		if a := strings.TrimSpace(addr); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func subject(alert notify.Alert) string {
	title := strings.TrimSpace(alert.Title)
	if title == "" {
		title = alert.EventType
	}
	return "[verity] " + title
}

func body(alert notify.Alert) string {
	occurred := alert.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", alert.Title)
	fmt.Fprintf(&b, "Event:        %s\n", alert.EventType)
	if alert.ConnectionID != "" {
		fmt.Fprintf(&b, "Connection:   %s\n", alert.ConnectionID)
	}
	fmt.Fprintf(&b, "Organization: %s\n", alert.OrganizationID)
	fmt.Fprintf(&b, "Occurred at:  %s\n", occurred.UTC().Format(time.RFC3339))

	if len(alert.Details) > 0 {
		b.WriteString("\nDetails:\n")
		keys := make([]string, 0, len(alert.Details))
		for k := range alert.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, alert.Details[k])
		}
	}
	return b.String()
}
