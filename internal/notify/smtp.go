package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"

	"github.com/go-faster/errors"
)

// SMTPConfig holds the mail relay settings for confirmation delivery.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

// SMTPSender delivers confirmations over a plain SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send composes and relays one confirmation message.
func (s *SMTPSender) Send(_ context.Context, c Confirmation) error {
	host, _, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "smtp address %q", s.cfg.Addr)
	}

	body := fmt.Sprintf(
		"Thank you for your order!\r\n\r\nOrder %s is confirmed: %d item(s), total %s %s.\r\n",
		c.OrderID, c.ItemCount, c.Total.StringFixed(2), c.Currency,
	)
	msg := []byte("To: " + c.Email + "\r\n" +
		"Subject: Order confirmation " + c.OrderID + "\r\n" +
		"\r\n" +
		body)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
	}
	return smtp.SendMail(s.cfg.Addr, auth, s.cfg.From, []string{c.Email}, msg)
}
