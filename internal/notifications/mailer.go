package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/sdelgadillo/membercore-backend/pkg/config"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
)

// Email is one outbound message. Body is plain text.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends email on a best-effort basis. Implementations must never be
// relied on for the primary state transition.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SendgridMailer delivers mail through the Sendgrid HTTP API.
type SendgridMailer struct {
	client *sendgrid.Client
	from   string
	logg   *logger.Logger
}

func NewSendgridMailer(cfg config.SendgridConfig, logg *logger.Logger) (*SendgridMailer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.DefaultFrom) == "" {
		return nil, errors.New("sendgrid from address is required")
	}
	return &SendgridMailer{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   cfg.DefaultFrom,
		logg:   logg,
	}, nil
}

func (m *SendgridMailer) Send(ctx context.Context, email Email) error {
	if strings.TrimSpace(email.To) == "" {
		return errors.New("recipient required")
	}

	message := mail.NewSingleEmail(
		mail.NewEmail("", m.from),
		email.Subject,
		mail.NewEmail("", email.To),
		email.Body,
		"",
	)

	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid send: status %d", resp.StatusCode)
	}

	if m.logg != nil {
		m.logg.Info(m.logg.WithField(ctx, "subject", email.Subject), "email dispatched")
	}
	return nil
}
