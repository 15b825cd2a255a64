// Package notification composes multipart direct messages and delivers
// them through an SMTP relay.
package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/smartdirect/direct/internal/platform/apierr"
)

// ErrDelivery wraps every failure reported by the relay.
var ErrDelivery = apierr.New(http.StatusBadGateway, "message delivery failed")

// ErrInvalidMessage is returned when a message cannot be composed.
var ErrInvalidMessage = apierr.New(http.StatusBadRequest, "invalid message")

// ---------------------------------------------------------------------------
// Message
// ---------------------------------------------------------------------------

// Attachment is a named file carried by a message.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// Message is a single outbound direct message. Text is always sent; HTML,
// when set, is offered as an alternative rendering of the same body.
type Message struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// TLS policies accepted by SMTPAccount.TLSPolicy.
const (
	TLSOpportunistic = "opportunistic"
	TLSMandatory     = "mandatory"
	TLSNone          = "none"
)

// SMTPAccount is a direct mailbox and the relay that serves it.
type SMTPAccount struct {
	Host      string
	Port      int
	User      string
	Password  string
	TLSPolicy string
}

// Address is the account's direct address, user@host.
func (a SMTPAccount) Address() string {
	return a.User + "@" + a.Host
}

func (a SMTPAccount) tlsPolicy() mail.TLSPolicy {
	switch strings.ToLower(a.TLSPolicy) {
	case TLSMandatory:
		return mail.TLSMandatory
	case TLSNone:
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// EmailSender delivers a message through the relay of the given account.
type EmailSender interface {
	Send(ctx context.Context, account SMTPAccount, msg *Message) error
}

// SMTPSender delivers messages over SMTP.
type SMTPSender struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(timeout time.Duration, logger zerolog.Logger) *SMTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{timeout: timeout, logger: logger}
}

// Send composes msg and hands it to the account's relay. PLAIN auth is
// used whenever the account has a password.
func (s *SMTPSender) Send(ctx context.Context, account SMTPAccount, msg *Message) error {
	m, err := Compose(msg)
	if err != nil {
		return err
	}

	port := account.Port
	if port == 0 {
		port = 25
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(account.tlsPolicy()),
		mail.WithTimeout(s.timeout),
	}
	if account.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(account.User),
			mail.WithPassword(account.Password),
		)
	}
	client, err := mail.NewClient(account.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: smtp client for %s: %v", ErrDelivery, account.Host, err)
	}

	start := time.Now()
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		s.logger.Error().Err(err).
			Str("relay", account.Host).
			Str("to", msg.To).
			Msg("smtp delivery failed")
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	s.logger.Info().
		Str("relay", account.Host).
		Str("from", msg.From).
		Str("to", msg.To).
		Int("attachments", len(msg.Attachments)).
		Dur("latency", time.Since(start)).
		Msg("direct message sent")
	return nil
}

// Compose builds the MIME message: multipart/alternative text and HTML
// bodies followed by the attachments.
func Compose(msg *Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("%w: from %q: %v", ErrInvalidMessage, msg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("%w: to %q: %v", ErrInvalidMessage, msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()

	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		m.AttachReadSeeker(a.Name, bytes.NewReader(a.Content), mail.WithFileContentType(mail.ContentType(ct)))
	}
	return m, nil
}

// WriteMessage writes the RFC 5322 form of msg to w without sending it.
func WriteMessage(w io.Writer, msg *Message) error {
	m, err := Compose(msg)
	if err != nil {
		return err
	}
	if _, err := m.WriteTo(w); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Recorder (test double)
// ---------------------------------------------------------------------------

// SentMessage records a single call to Recorder.Send.
type SentMessage struct {
	Account SMTPAccount
	Message Message
}

// Recorder is an in-memory EmailSender. It validates messages with
// Compose so tests catch addresses the real sender would reject.
type Recorder struct {
	mu         sync.Mutex
	sent       []SentMessage
	ShouldFail bool
	FailError  string
}

// Send records the message and optionally fails.
func (r *Recorder) Send(_ context.Context, account SMTPAccount, msg *Message) error {
	if _, err := Compose(msg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ShouldFail {
		return fmt.Errorf("%w: %v", ErrDelivery, errors.New(r.FailError))
	}
	r.sent = append(r.sent, SentMessage{Account: account, Message: *msg})
	return nil
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SentMessage, len(r.sent))
	copy(out, r.sent)
	return out
}
