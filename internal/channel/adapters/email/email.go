// Package email delivers messages over email via Mailgun.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/convoflow/convoflow/internal/channel"
)

// Sender sends email through Mailgun.
type Sender struct {
	logger *slog.Logger
}

// New creates an email sender.
func New(log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{logger: log.With(slog.String("adapter", "email"))}
}

func (s *Sender) Type() string { return "email" }

// Send delivers the message via the Mailgun domain named in the credential
// extras. 4xx responses from Mailgun are rejections; everything else is
// transient.
func (s *Sender) Send(ctx context.Context, req channel.SendRequest) (channel.SendResult, error) {
	domain := req.Credential.Extra["domain"]
	if domain == "" {
		return channel.SendResult{}, channel.Rejectionf("mailgun domain is not configured")
	}
	from := req.From
	if from == "" {
		from = fmt.Sprintf("noreply@%s", domain)
	}
	subject := req.TemplateVariables["subject"]
	if subject == "" {
		subject = req.TemplateName
	}

	client := mg.NewMailgun(req.Credential.APIKey)
	m := mg.NewMessage(domain, from, subject, req.Body, req.To)

	resp, err := client.Send(ctx, m)
	if err != nil {
		var unexpected *mg.UnexpectedResponseError
		if errors.As(err, &unexpected) && unexpected.Actual >= 400 && unexpected.Actual < 500 {
			return channel.SendResult{}, channel.Rejectionf("mailgun status %d: %v", unexpected.Actual, err)
		}
		return channel.SendResult{}, fmt.Errorf("mailgun send: %w", err)
	}
	return channel.SendResult{ProviderMessageID: resp.ID}, nil
}

var _ channel.Sender = (*Sender)(nil)
