package email

import (
	"context"
	"testing"

	"github.com/convoflow/convoflow/internal/channel"
	"github.com/convoflow/convoflow/internal/secrets"
)

func TestSendRejectsMissingDomain(t *testing.T) {
	s := New(nil)
	_, err := s.Send(context.Background(), channel.SendRequest{
		To:         "customer@example.com",
		Body:       "hello",
		Credential: secrets.Secret{APIKey: "mg-key"},
	})
	if !channel.IsRejection(err) {
		t.Fatalf("missing domain must be a rejection, got %v", err)
	}
}

func TestType(t *testing.T) {
	if got := New(nil).Type(); got != "email" {
		t.Fatalf("type = %q", got)
	}
}
