package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"github.com/qepting91/listing-watcher/internal/domain"
)

// MailerConfig holds SMTP settings
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	To       string
	// FromName is the display name of the sender, e.g. "Listing Alert Monitor"
	FromName string
}

// Mailer sends digests over SMTP. A connection is opened per digest.
type Mailer struct {
	cfg    MailerConfig
	client *mail.Client
}

func NewMailer(cfg MailerConfig) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Port == 465 {
		// implicit TLS instead of STARTTLS
		opts = append(opts, mail.WithSSLPort(false))
	}
	// after WithSSLPort, which would otherwise reset it
	opts = append(opts, mail.WithPort(cfg.Port))

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: smtp client: %v", domain.ErrConfig, err)
	}
	return &Mailer{cfg: cfg, client: client}, nil
}

func (m *Mailer) message(d Digest) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.Username); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := msg.To(m.cfg.To); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	msg.Subject(d.Subject)
	msg.SetBodyString(mail.TypeTextPlain, d.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, d.HTML)
	return msg, nil
}

func (m *Mailer) Deliver(ctx context.Context, d Digest) error {
	msg, err := m.message(d)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	return nil
}

// LogNotifier writes digests to the log instead of mailing them
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Deliver(_ context.Context, d Digest) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Digest", "subject", d.Subject, "records", d.Total, "body", d.Text)
	return nil
}
