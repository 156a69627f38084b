package notify

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	gomail "gopkg.in/gomail.v2"

	"github.com/curryleaf/api/internal/domain"
)

// Outcome classifies the result of a notification attempt. Failures are data,
// not errors: nothing escapes the dispatcher boundary, and the primary order
// operation never depends on the outcome.
type Outcome string

const (
	// OutcomeSent indicates the message was accepted by the transport.
	OutcomeSent Outcome = "sent"
	// OutcomeUnsendable indicates no transport or no recipient was available.
	OutcomeUnsendable Outcome = "unsendable"
	// OutcomeFailed indicates the transport rejected the message.
	OutcomeFailed Outcome = "failed"
)

// SendResult reports what happened to a notification attempt.
type SendResult struct {
	Outcome   Outcome
	Recipient string
	Reason    string
}

// Sent reports whether the message was delivered to the transport.
func (r SendResult) Sent() bool { return r.Outcome == OutcomeSent }

type mailSender interface {
	DialAndSend(messages ...*gomail.Message) error
}

// DispatcherConfig configures the mail dispatcher.
type DispatcherConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	StoreName string
	// Sender overrides the SMTP dialer (tests).
	Sender mailSender
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Dispatcher composes and sends customer notifications over SMTP. Best effort
// by contract: every failure mode is folded into the SendResult.
type Dispatcher struct {
	sender    mailSender
	from      string
	storeName string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewDispatcher constructs a Dispatcher. A nil return value is valid input to
// Send and yields an unsendable outcome, so callers need no transport guard.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	sender := cfg.Sender
	if sender == nil {
		if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.From) == "" {
			return nil
		}
		sender = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	}

	return &Dispatcher{
		sender:    sender,
		from:      strings.TrimSpace(cfg.From),
		storeName: strings.TrimSpace(cfg.StoreName),
		logger:    logger,
	}
}

// Send composes the multipart ready-for-pickup message: HTML body with the
// tracking QR embedded inline and the receipt document attached.
func (d *Dispatcher) Send(ctx context.Context, order domain.NormalizedOrder, recipient string, qrPNG, receiptPDF []byte) SendResult {
	recipient = strings.TrimSpace(recipient)

	if d == nil || d.sender == nil {
		return SendResult{Outcome: OutcomeUnsendable, Recipient: recipient, Reason: "mail transport not configured"}
	}
	if recipient == "" {
		return SendResult{Outcome: OutcomeUnsendable, Reason: "no recipient could be resolved"}
	}

	message := gomail.NewMessage()
	message.SetHeader("From", d.from)
	message.SetHeader("To", recipient)
	message.SetHeader("Subject", fmt.Sprintf("Your order %s is ready", order.ID))
	message.SetBody("text/html", d.composeBody(order))

	if len(qrPNG) > 0 {
		message.Embed("tracking.png", gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(qrPNG)
			return err
		}))
	}
	if len(receiptPDF) > 0 {
		name := fmt.Sprintf("receipt-%s.pdf", order.ID)
		message.Attach(name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(receiptPDF)
			return err
		}))
	}

	if err := d.sender.DialAndSend(message); err != nil {
		d.logger(ctx, "notify.send.failed", map[string]any{
			"order":     order.ID,
			"recipient": recipient,
			"error":     err.Error(),
		})
		return SendResult{Outcome: OutcomeFailed, Recipient: recipient, Reason: err.Error()}
	}

	d.logger(ctx, "notify.send.ok", map[string]any{
		"order":     order.ID,
		"recipient": recipient,
	})
	return SendResult{Outcome: OutcomeSent, Recipient: recipient}
}

func (d *Dispatcher) composeBody(order domain.NormalizedOrder) string {
	var b strings.Builder

	greeting := "Hello"
	if name := strings.TrimSpace(order.Customer.Name); name != "" {
		greeting = "Hello " + html.EscapeString(name)
	}

	storeName := d.storeName
	if storeName == "" {
		storeName = "our store"
	}

	fmt.Fprintf(&b, "<p>%s,</p>", greeting)
	fmt.Fprintf(&b, "<p>Your order <strong>%s</strong> from %s is ready.</p>",
		html.EscapeString(order.ID), html.EscapeString(storeName))
	if order.TrackingURL != "" {
		fmt.Fprintf(&b, `<p><a href="%s">Track your order</a> or scan the code below.</p>`,
			html.EscapeString(order.TrackingURL))
	}
	b.WriteString(`<p><img src="cid:tracking.png" alt="tracking code"></p>`)
	b.WriteString("<p>Your receipt is attached.</p>")
	return b.String()
}
