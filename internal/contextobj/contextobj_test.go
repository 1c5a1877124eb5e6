package contextobj

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/internal/projectcfg"
	"github.com/convoflow/convoflow/internal/request"
)

func boolPtr(b bool) *bool { return &b }

func sampleRequest() request.Request {
	return request.Request{
		CompanyData: request.CompanyData{
			CompanyID: "acme",
			ProjectID: "onboarding",
		},
		RecipientData: request.RecipientData{
			Telephone:    "+15550001111",
			CommsConsent: boolPtr(true),
		},
		RequestData: request.RequestData{
			RequestID:        "7a0d3bc2-9a43-4a83-8f4e-2f3fbc5a2e6d",
			ChannelMethod:    "whatsapp",
			InitialTimestamp: "2026-02-01T10:30:00Z",
		},
		ProjectData: json.RawMessage(`{"order_id":"A-1","eta":"tomorrow"}`),
	}
}

func sampleConfig() projectcfg.ProjectConfig {
	return projectcfg.ProjectConfig{
		CompanyID:       "acme",
		ProjectID:       "onboarding",
		ProjectName:     "Acme Onboarding",
		Status:          projectcfg.StatusActive,
		AllowedChannels: []string{"whatsapp", "email"},
		Representatives: map[string]string{"agent": "ava"},
		RateLimits:      projectcfg.RateLimits{RequestsPerMinute: 60},
		Channels: map[string]projectcfg.ChannelConfig{
			"whatsapp": {
				CredentialRef: "acme/whatsapp",
				SenderAddress: "15550009999",
				Provider:      "meta",
				TemplateName:  "order_update",
			},
			"email": {
				CredentialRef: "acme/email",
				SenderAddress: "no-reply@acme.test",
				Provider:      "mailgun",
			},
		},
		AI: projectcfg.AIConfig{
			CredentialRef: "acme/openai",
			Channels: map[string]projectcfg.AIChannelConfig{
				"whatsapp": {
					AssistantIDTemplateSender: "asst_template",
					AssistantIDReplies:        "asst_replies",
				},
			},
		},
	}
}

func TestDeriveConversationID(t *testing.T) {
	id := DeriveConversationID("acme", "onboarding", "req-1", "+15550001111")
	assert.Equal(t, "acme#onboarding#req-1#15550001111", id)

	// Email addresses carry no plus prefix and pass through untouched.
	id = DeriveConversationID("acme", "onboarding", "req-1", "customer@example.com")
	assert.Equal(t, "acme#onboarding#req-1#customer@example.com", id)
}

func TestBuildIsDeterministic(t *testing.T) {
	req, cfg := sampleRequest(), sampleConfig()
	a := Build(req, cfg, Version)
	b := Build(req, cfg, Version)

	aj, err := json.Marshal(a)
	require.NoError(t, err)
	bj, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(aj), string(bj))
}

func TestBuildPopulatesRequestedChannelOnly(t *testing.T) {
	obj := Build(sampleRequest(), sampleConfig(), Version)

	require.Len(t, obj.ChannelConfig, 3)
	assert.Equal(t, "acme/whatsapp", obj.ChannelConfig["whatsapp"].CredentialRef)
	assert.Equal(t, projectcfg.ChannelConfig{}, obj.ChannelConfig["sms"])
	assert.Equal(t, projectcfg.ChannelConfig{}, obj.ChannelConfig["email"])

	active, ok := obj.ActiveChannelConfig()
	require.True(t, ok)
	assert.Equal(t, "order_update", active.TemplateName)
}

func TestBuildCarriesAIAndConversation(t *testing.T) {
	obj := Build(sampleRequest(), sampleConfig(), Version)

	assert.Equal(t, "acme/openai", obj.AIConfig.CredentialRef)
	assert.Equal(t, "asst_template", obj.AIConfig.Assistants.AssistantIDTemplateSender)
	assert.Equal(t, "acme#onboarding#7a0d3bc2-9a43-4a83-8f4e-2f3fbc5a2e6d#15550001111",
		obj.Conversation.ConversationID)
	assert.Equal(t, Version, obj.Metadata.RouterVersion)
}

func TestBuildPreservesProjectDataBytes(t *testing.T) {
	req := sampleRequest()
	obj := Build(req, sampleConfig(), Version)

	body, err := json.Marshal(obj)
	require.NoError(t, err)

	var decoded ContextObject
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.JSONEq(t, string(req.ProjectData), string(decoded.FrontendPayload.ProjectData))
}

func TestActiveChannelConfigMissing(t *testing.T) {
	cfg := sampleConfig()
	delete(cfg.Channels, "whatsapp")
	obj := Build(sampleRequest(), cfg, Version)

	_, ok := obj.ActiveChannelConfig()
	assert.False(t, ok)
}
