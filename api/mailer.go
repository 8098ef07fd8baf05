package api

import (
	"context"
	"log/slog"
	"sync"
)

// MessageKind names the purpose of an outbound email.
type MessageKind string

const (
	MessageLoginOTP          MessageKind = "login_otp"
	MessageEmailVerification MessageKind = "email_verification"
	MessagePasswordReset     MessageKind = "password_reset"
)

// Message is an outbound email. Secret carries the one-time code or link
// token the recipient needs.
type Message struct {
	Kind   MessageKind
	To     string
	Secret string
}

// Mailer delivers messages to account holders.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to a logger instead of delivering them. It is
// meant for local development, where the operator reads codes off the log.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("component", "mailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.LogAttrs(ctx, slog.LevelInfo, "outbound email",
		slog.String("kind", string(msg.Kind)),
		slog.String("to", msg.To),
		slog.String("secret", msg.Secret))
	return nil
}

// Outbox records messages in memory. Tests read codes from it.
type Outbox struct {
	mu   sync.Mutex
	sent []Message
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	o.sent = append(o.sent, msg)
	o.mu.Unlock()
	return nil
}

// Last returns the most recent message of kind sent to addr.
func (o *Outbox) Last(kind MessageKind, addr string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Kind == kind && o.sent[i].To == addr {
			return o.sent[i], true
		}
	}
	return Message{}, false
}

// Count returns how many messages of kind were sent to addr.
func (o *Outbox) Count(kind MessageKind, addr string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.sent {
		if m.Kind == kind && m.To == addr {
			n++
		}
	}
	return n
}
