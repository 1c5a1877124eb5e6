package request

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalid wraps all structural validation failures of an inbound request.
var ErrInvalid = errors.New("invalid request")

// Validate checks the struct tag rules plus the cross-field rules: the
// channel method is known, the timestamp parses as ISO-8601, and the contact
// field matching the channel method is present.
func Validate(req Request) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, fieldErrors(err))
	}

	ch, ok := ParseChannel(req.RequestData.ChannelMethod)
	if !ok {
		return fmt.Errorf("%w: unsupported channel_method %q", ErrInvalid, req.RequestData.ChannelMethod)
	}

	if _, err := time.Parse(time.RFC3339, req.RequestData.InitialTimestamp); err != nil {
		return fmt.Errorf("%w: initial_request_timestamp is not ISO-8601", ErrInvalid)
	}

	tel := strings.TrimSpace(req.RecipientData.Telephone)
	email := strings.TrimSpace(req.RecipientData.Email)
	switch ch {
	case ChannelEmail:
		if email == "" {
			return fmt.Errorf("%w: recipient_email is required for channel %s", ErrInvalid, ch)
		}
		if tel != "" {
			return fmt.Errorf("%w: recipient_tel must be empty for channel %s", ErrInvalid, ch)
		}
	default:
		if tel == "" {
			return fmt.Errorf("%w: recipient_tel is required for channel %s", ErrInvalid, ch)
		}
		if email != "" {
			return fmt.Errorf("%w: recipient_email must be empty for channel %s", ErrInvalid, ch)
		}
	}

	return nil
}

func fieldErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
