// Package channel defines the outbound delivery abstraction: one Sender per
// delivery channel, registered in a Registry keyed by channel type.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/convoflow/convoflow/internal/secrets"
)

// ErrRejected marks provider-level rejections (invalid recipient, invalid
// template, bad credentials). Rejections are terminal: redelivery reproduces
// the same outcome. Any other send error is treated as transient.
var ErrRejected = errors.New("provider rejected message")

// Rejectionf wraps ErrRejected with detail.
func Rejectionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// IsRejection reports whether the send error is a terminal provider
// rejection rather than a transient failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}

// SendRequest carries everything a Sender needs for one delivery.
type SendRequest struct {
	To                string
	From              string
	Body              string
	TemplateName      string
	TemplateVariables map[string]string
	Credential        secrets.Secret
}

// SendResult reports the provider-assigned message identifier.
type SendResult struct {
	ProviderMessageID string
}

// Sender delivers one message on its channel.
type Sender interface {
	Type() string
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}
