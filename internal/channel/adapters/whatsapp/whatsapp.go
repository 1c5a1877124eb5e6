// Package whatsapp delivers templated WhatsApp messages through the Meta
// graph API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/convoflow/convoflow/internal/channel"
)

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// Sender sends WhatsApp template messages.
type Sender struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a WhatsApp sender. baseURL is overridable for tests.
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
		logger:     log.With(slog.String("adapter", "whatsapp")),
	}
}

func (s *Sender) Type() string { return "whatsapp" }

type templatePayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   map[string]string   `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts a template message to {phone_number_id}/messages. The phone
// number id comes from the credential extras; req.From carries it when the
// extras omit it.
func (s *Sender) Send(ctx context.Context, req channel.SendRequest) (channel.SendResult, error) {
	phoneNumberID := req.Credential.Extra["phone_number_id"]
	if phoneNumberID == "" {
		phoneNumberID = req.From
	}
	if phoneNumberID == "" {
		return channel.SendResult{}, channel.Rejectionf("whatsapp phone_number_id is not configured")
	}
	if req.TemplateName == "" {
		return channel.SendResult{}, channel.Rejectionf("whatsapp template name is not configured")
	}

	payload := templatePayload{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(req.To, "+"),
		Type:             "template",
		Template: templateBody{
			Name:     req.TemplateName,
			Language: map[string]string{"code": "en"},
		},
	}
	if len(req.TemplateVariables) > 0 || req.Body != "" {
		params := make([]templateParameter, 0, len(req.TemplateVariables)+1)
		if req.Body != "" {
			params = append(params, templateParameter{Type: "text", Text: req.Body})
		}
		for _, v := range orderedValues(req.TemplateVariables) {
			params = append(params, templateParameter{Type: "text", Text: v})
		}
		payload.Template.Components = []templateComponent{{Type: "body", Parameters: params}}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return channel.SendResult{}, fmt.Errorf("encode payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", s.baseURL, phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return channel.SendResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return channel.SendResult{}, fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		id := ""
		if len(parsed.Messages) > 0 {
			id = parsed.Messages[0].ID
		}
		return channel.SendResult{ProviderMessageID: id}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		detail := strings.TrimSpace(string(body))
		if parsed.Error != nil {
			detail = parsed.Error.Message
		}
		return channel.SendResult{}, channel.Rejectionf("whatsapp status %d: %s", resp.StatusCode, detail)
	default:
		return channel.SendResult{}, fmt.Errorf("whatsapp send: status %d", resp.StatusCode)
	}
}

// orderedValues flattens template variables var1..varN in key order so the
// parameter sequence is stable across retries. Keys with a common prefix and
// a numeric tail ("var2", "var10") sort by the number, keeping double-digit
// variables in positional order; anything else falls back to lexicographic.
func orderedValues(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, ni := splitNumericTail(keys[i])
		pj, nj := splitNumericTail(keys[j])
		if pi == pj && ni >= 0 && nj >= 0 {
			return ni < nj
		}
		return keys[i] < keys[j]
	})
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, vars[k])
	}
	return out
}

// splitNumericTail splits "var12" into ("var", 12). The number is -1 when the
// key has no numeric tail.
func splitNumericTail(key string) (string, int) {
	i := len(key)
	for i > 0 && key[i-1] >= '0' && key[i-1] <= '9' {
		i--
	}
	if i == len(key) {
		return key, -1
	}
	n, err := strconv.Atoi(key[i:])
	if err != nil {
		return key, -1
	}
	return key[:i], n
}

var _ channel.Sender = (*Sender)(nil)
