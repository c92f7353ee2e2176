// Package smtpx implements the outbound transport boundary over SMTP.
package smtpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	smtp "github.com/emersion/go-smtp"

	"github.com/joltmail/jolt/internal/remote"
	"github.com/joltmail/jolt/internal/store"
)

// Sender delivers outbound messages over SMTP. It implements remote.Transport.
type Sender struct {
	logger *slog.Logger
}

// Option is a functional option for Sender.
type Option func(*Sender)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sender) { s.logger = logger }
}

// NewSender creates an SMTP sender.
func NewSender(opts ...Option) *Sender {
	s := &Sender{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send composes an RFC 5322 message and submits it over the account's SMTP
// endpoint. The context bounds the whole submission.
func (s *Sender) Send(ctx context.Context, account *store.Account, msg *remote.Outgoing) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	body, err := buildMessage(account, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	recipients := recipientAddresses(msg)
	if len(recipients) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	addr := net.JoinHostPort(account.SMTPHost, strconv.Itoa(account.SMTPPort))
	auth := sasl.NewPlainClient("", account.Username, account.Password)

	s.logger.Debug("submitting message", "addr", addr, "recipients", len(recipients))

	done := make(chan error, 1)
	go func() {
		if account.UseTLS && account.SMTPPort == 465 {
			done <- smtp.SendMailTLS(addr, auth, account.Email, recipients, bytes.NewReader(body))
		} else {
			done <- smtp.SendMail(addr, auth, account.Email, recipients, bytes.NewReader(body))
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("SMTP submit to %s: %w", addr, remote.ErrUnavailable)
		}
	}
	return nil
}

// buildMessage renders the outgoing message as RFC 5322 bytes.
func buildMessage(account *store.Account, msg *remote.Outgoing) ([]byte, error) {
	var buf bytes.Buffer

	from := msg.From
	if from.Email == "" {
		from = store.Address{Name: account.DisplayName, Email: account.Email}
	}

	var h mail.Header
	h.SetAddressList("From", toMailAddresses([]store.Address{from}))
	h.SetAddressList("To", toMailAddresses(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toMailAddresses(msg.Cc))
	}
	h.SetSubject(msg.Subject)
	h.GenerateMessageID()

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(tw, msg.BodyText); err != nil {
		return nil, err
	}
	tw.Close()
	mw.Close()

	return buf.Bytes(), nil
}

func toMailAddresses(addrs []store.Address) []*mail.Address {
	result := make([]*mail.Address, len(addrs))
	for i, a := range addrs {
		result[i] = &mail.Address{Name: a.Name, Address: a.Email}
	}
	return result
}

// recipientAddresses returns the full envelope recipient list (To+Cc+Bcc).
func recipientAddresses(msg *remote.Outgoing) []string {
	var recipients []string
	for _, list := range [][]store.Address{msg.To, msg.Cc, msg.Bcc} {
		for _, a := range list {
			if a.Email != "" {
				recipients = append(recipients, a.Email)
			}
		}
	}
	return recipients
}
