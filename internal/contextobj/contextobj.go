// Package contextobj defines the Context Object: the enriched, immutable work
// unit the router hands to the processor through the work queue.
package contextobj

import (
	"fmt"
	"strings"

	"github.com/convoflow/convoflow/internal/projectcfg"
	"github.com/convoflow/convoflow/internal/request"
)

// Version identifies the schema the router writes. Bump on breaking changes
// to the queue message body.
const Version = "1.0"

// ProjectPayload is the filtered projection of the project configuration the
// processor is allowed to see.
type ProjectPayload struct {
	ProjectName     string            `json:"project_name"`
	ProjectStatus   string            `json:"project_status"`
	AllowedChannels []string          `json:"allowed_channels"`
	Representatives map[string]string `json:"representatives,omitempty"`
}

// AIConfig is the AI block of the context object: the provider credential
// reference plus the assistants configured for the requested channel.
type AIConfig struct {
	CredentialRef string                     `json:"credential_ref"`
	Assistants    projectcfg.AIChannelConfig `json:"assistants"`
}

// ConversationData carries the derived conversation identifier.
type ConversationData struct {
	ConversationID string `json:"conversation_id"`
}

// Metadata records which router version produced the object.
type Metadata struct {
	RouterVersion string `json:"router_version"`
}

// ContextObject is the queue message body. It is immutable once enqueued; the
// processor reads it and uses ConversationData.ConversationID as the key into
// the conversation store.
type ContextObject struct {
	FrontendPayload request.Request                     `json:"frontend_payload"`
	ProjectPayload  ProjectPayload                      `json:"project_payload"`
	RateLimits      projectcfg.RateLimits               `json:"project_rate_limits"`
	ChannelConfig   map[string]projectcfg.ChannelConfig `json:"channel_config"`
	AIConfig        AIConfig                            `json:"ai_config"`
	Conversation    ConversationData                    `json:"conversation_data"`
	Metadata        Metadata                            `json:"metadata"`
}

// Channel returns the requested delivery channel.
func (c ContextObject) Channel() request.Channel {
	return c.FrontendPayload.Channel()
}

// ActiveChannelConfig returns the config block for the requested channel.
func (c ContextObject) ActiveChannelConfig() (projectcfg.ChannelConfig, bool) {
	cfg, ok := c.ChannelConfig[c.Channel().String()]
	if !ok || cfg == (projectcfg.ChannelConfig{}) {
		return projectcfg.ChannelConfig{}, false
	}
	return cfg, true
}

// DeriveConversationID builds the deterministic conversation identifier
// {company}#{project}#{request}#{address}. The address is the recipient's
// primary channel address with any leading "+" removed, so the id is
// reconstructable from the request alone.
func DeriveConversationID(companyID, projectID, requestID, address string) string {
	addr := strings.TrimPrefix(strings.TrimSpace(address), "+")
	return fmt.Sprintf("%s#%s#%s#%s", companyID, projectID, requestID, addr)
}

// Build assembles a Context Object from a validated request and its project
// configuration. Pure function: no external calls, stable output for stable
// input. The channel_config map carries the requested channel's block only,
// with empty blocks for the other channels.
func Build(req request.Request, cfg projectcfg.ProjectConfig, routerVersion string) ContextObject {
	channel := req.Channel().String()

	channelConfig := map[string]projectcfg.ChannelConfig{
		request.ChannelWhatsApp.String(): {},
		request.ChannelSMS.String():      {},
		request.ChannelEmail.String():    {},
	}
	if block, ok := cfg.Channels[channel]; ok {
		channelConfig[channel] = block
	}

	aiChannel := cfg.AI.Channels[channel]

	return ContextObject{
		FrontendPayload: req,
		ProjectPayload: ProjectPayload{
			ProjectName:     cfg.ProjectName,
			ProjectStatus:   cfg.Status,
			AllowedChannels: cfg.AllowedChannels,
			Representatives: cfg.Representatives,
		},
		RateLimits:    cfg.RateLimits,
		ChannelConfig: channelConfig,
		AIConfig: AIConfig{
			CredentialRef: cfg.AI.CredentialRef,
			Assistants:    aiChannel,
		},
		Conversation: ConversationData{
			ConversationID: DeriveConversationID(
				req.CompanyData.CompanyID,
				req.CompanyData.ProjectID,
				req.RequestData.RequestID,
				req.PrimaryAddress(),
			),
		},
		Metadata: Metadata{RouterVersion: routerVersion},
	}
}
