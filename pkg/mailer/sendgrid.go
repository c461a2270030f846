package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/bytefrontng/bytefront-backend/pkg/config"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
)

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type sendgridMailer struct {
	client   *sendgrid.Client
	from     *mail.Email
	logg     *logger.Logger
	disabled bool
}

// NewSendgrid constructs a SendGrid-backed mailer. An empty API key yields a
// mailer that logs and drops messages so local environments work without credentials.
func NewSendgrid(cfg config.SendgridConfig, logg *logger.Logger) Mailer {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &sendgridMailer{logg: logg, disabled: true}
	}
	return &sendgridMailer{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.DefaultFrom),
		logg:   logg,
	}
}

func (m *sendgridMailer) Send(ctx context.Context, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("recipient address is required")
	}
	if m.disabled {
		if m.logg != nil {
			fields := map[string]any{"to": to, "subject": subject}
			m.logg.Info(m.logg.WithFields(ctx, fields), "mailer disabled, dropping email")
		}
		return nil
	}

	message := mail.NewSingleEmail(
		m.from,
		subject,
		mail.NewEmail("", to),
		body,
		fmt.Sprintf("<pre>%s</pre>", body),
	)

	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d body=%s", resp.StatusCode, resp.Body)
	}

	if m.logg != nil {
		fields := map[string]any{"to": to, "subject": subject, "status": resp.StatusCode}
		m.logg.Info(m.logg.WithFields(ctx, fields), "email sent")
	}
	return nil
}
