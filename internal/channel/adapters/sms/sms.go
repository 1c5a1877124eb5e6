// Package sms delivers SMS messages through a REST messaging provider.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/convoflow/convoflow/internal/channel"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Sender sends SMS messages through a Twilio-compatible API.
type Sender struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an SMS sender. baseURL is overridable for tests.
func New(log *slog.Logger, baseURL string) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Sender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     log.With(slog.String("adapter", "sms")),
	}
}

func (s *Sender) Type() string { return "sms" }

type sendResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

// Send posts the message as a form to Accounts/{sid}/Messages.json. The
// account sid lives in the credential extras; the api key is the auth token.
func (s *Sender) Send(ctx context.Context, req channel.SendRequest) (channel.SendResult, error) {
	accountSID := req.Credential.Extra["account_sid"]
	if accountSID == "" {
		return channel.SendResult{}, channel.Rejectionf("sms account_sid is not configured")
	}
	if req.From == "" {
		return channel.SendResult{}, channel.Rejectionf("sms sender address is not configured")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Body", req.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return channel.SendResult{}, err
	}
	httpReq.SetBasicAuth(accountSID, req.Credential.APIKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return channel.SendResult{}, fmt.Errorf("sms send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return channel.SendResult{ProviderMessageID: parsed.SID}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		detail := parsed.Message
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		return channel.SendResult{}, channel.Rejectionf("sms status %d: %s", resp.StatusCode, detail)
	default:
		return channel.SendResult{}, fmt.Errorf("sms send: status %d", resp.StatusCode)
	}
}

var _ channel.Sender = (*Sender)(nil)
