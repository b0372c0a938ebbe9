// Package smtp sends the emails of the send_email action over SMTP.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/replyflow/pkg/protocol"
	"github.com/wneessen/go-mail"
)

const DefaultPort = 587

var (
	ErrMissingHost = errors.New("smtp host must be provided")
	ErrNoRecipient = errors.New("email has no recipient")
	ErrNoSender    = errors.New("email has no sender")
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is used when the email does not set its own sender.
	From string
}

// Dialer delivers built messages. *mail.Client satisfies it.
type Dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Sender implements protocol.EmailSender.
type Sender struct {
	dialer Dialer
	from   string
	logger *slog.Logger
}

func NewSender(config Config, logger *slog.Logger) (*Sender, error) {
	if config.Host == "" {
		return nil, ErrMissingHost
	}

	port := config.Port
	if port == 0 {
		port = DefaultPort
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}

	if config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return NewSenderWithDialer(client, config.From, logger), nil
}

func NewSenderWithDialer(dialer Dialer, from string, logger *slog.Logger) *Sender {
	return &Sender{
		dialer: dialer,
		from:   from,
		logger: logger.With("module", "smtp_sender"),
	}
}

func (s *Sender) Send(ctx context.Context, email protocol.Email) error {
	msg, err := s.Build(email)
	if err != nil {
		return err
	}

	err = s.dialer.DialAndSendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.DebugContext(ctx, "Email sent", "to", email.To, "subject", email.Subject)

	return nil
}

// Build turns email into a MIME message.
func (s *Sender) Build(email protocol.Email) (*mail.Msg, error) {
	if len(email.To) == 0 {
		return nil, ErrNoRecipient
	}

	from := email.From
	if from == "" {
		from = s.from
	}

	if from == "" {
		return nil, ErrNoSender
	}

	msg := mail.NewMsg()

	err := msg.From(from)
	if err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}

	err = msg.To(email.To...)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}

	if len(email.Cc) > 0 {
		err = msg.Cc(email.Cc...)
		if err != nil {
			return nil, fmt.Errorf("invalid cc: %w", err)
		}
	}

	msg.Subject(email.Subject)

	contentType := mail.TypeTextPlain
	if email.HTML {
		contentType = mail.TypeTextHTML
	}

	msg.SetBodyString(contentType, email.Body)

	return msg, nil
}
