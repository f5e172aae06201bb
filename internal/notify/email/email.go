// Package email mails admins a summary of refresh passes that had failures.
package email

import (
	"context"
	"fmt"
	"strings"

	"price_service/internal/config"
	"price_service/internal/refresh"

	"gopkg.in/gomail.v2"
)

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	dialer sender
	from   string
	to     []string
}

func New(cfg config.SMTP) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
		to:     recipients(cfg.To),
	}
}

// ReportPass sends nothing for clean passes.
func (m *Mailer) ReportPass(ctx context.Context, report refresh.PassReport) error {
	const op = "notify.email.ReportPass"

	if report.Err == nil && report.Failed() == 0 {
		return nil
	}
	if len(m.to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", subject(report))
	msg.SetBody("text/plain", body(report))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func subject(r refresh.PassReport) string {
	if r.Err != nil {
		return fmt.Sprintf("[price refresh] %s pass failed", r.Trigger)
	}
	return fmt.Sprintf("[price refresh] %d of %d records failed", r.Failed(), len(r.Outcomes))
}

func body(r refresh.PassReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", r.RunID)
	fmt.Fprintf(&b, "Trigger: %s\n", r.Trigger)
	fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Duration: %s\n", r.Duration())
	fmt.Fprintf(&b, "Products: %d, updated records: %d, failed records: %d\n", r.Products, r.Updated(), r.Failed())

	if r.Aborted {
		b.WriteString("The pass was stopped before it finished.\n")
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "\nError: %v\n", r.Err)
	}

	failures := 0
	for _, o := range r.Outcomes {
		if o.Updated {
			continue
		}
		if failures == 0 {
			b.WriteString("\nFailures:\n")
		}
		failures++
		fmt.Fprintf(&b, "- #%d %s @ %s (%s): %s\n", o.ProductID, o.ProductName, o.Store, o.Market, o.Error)
	}

	return b.String()
}

func recipients(raw string) []string {
	var out []string
	for _, addr := range strings.Split(raw, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
