package notification

import (
	"context"
	"fmt"

	mail "github.com/wneessen/go-mail"
	"github.com/mortendir/ticketreserve/pkg/logger"
	"go.uber.org/zap"
)

// Mailer delivers transactional mail. Delivery is best-effort from the
// caller's point of view: a failed send never rolls back a reservation
// transition.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer implements Mailer over a plain SMTP relay
type SMTPMailer struct {
	client *mail.Client
	from   string
	log    *logger.Logger
}

// SMTPMailerConfig holds relay settings
type SMTPMailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewSMTPMailer creates a new SMTP mailer
func NewSMTPMailer(cfg *SMTPMailerConfig) (*SMTPMailer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("smtp config is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return &SMTPMailer{
		client: client,
		from:   cfg.From,
		log:    logger.Get(),
	}, nil
}

// Send delivers one plain-text message
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		m.log.Warn("mail delivery failed",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to send mail: %w", err)
	}

	return nil
}

// NoOpMailer swallows every message, for tests and mail-less setups
type NoOpMailer struct{}

// NewNoOpMailer creates a new no-op mailer
func NewNoOpMailer() *NoOpMailer {
	return &NoOpMailer{}
}

func (m *NoOpMailer) Send(ctx context.Context, to, subject, body string) error {
	return nil
}

// Ensure both implementations satisfy Mailer
var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = (*NoOpMailer)(nil)
)
