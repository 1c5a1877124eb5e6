// Package projectcfg loads per-project configuration from the configuration
// store. The pipeline treats this data as read-only.
package projectcfg

import "errors"

// Project status values. Only active projects accept routed requests.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

var (
	ErrNotFound = errors.New("project configuration not found")
)

// ChannelConfig is the provider block for one delivery channel.
type ChannelConfig struct {
	CredentialRef string `json:"credential_ref,omitempty"`
	SenderAddress string `json:"sender_address,omitempty"`
	Provider      string `json:"provider,omitempty"`
	TemplateName  string `json:"template_name,omitempty"`
}

// AIChannelConfig holds the assistant identifiers configured for one channel.
// Up to five assistants may be configured; the pipeline consumes the
// template-sender assistant only.
type AIChannelConfig struct {
	AssistantIDTemplateSender string `json:"assistant_id_template_sender,omitempty"`
	AssistantIDReplies        string `json:"assistant_id_replies,omitempty"`
	AssistantID3              string `json:"assistant_id_3,omitempty"`
	AssistantID4              string `json:"assistant_id_4,omitempty"`
	AssistantID5              string `json:"assistant_id_5,omitempty"`
}

// AIConfig is the AI provider block of a project configuration.
type AIConfig struct {
	CredentialRef string                     `json:"credential_ref,omitempty"`
	Channels      map[string]AIChannelConfig `json:"channels,omitempty"`
}

// RateLimits is the advisory rate-limit snapshot. Not enforced by this core.
type RateLimits struct {
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
	RequestsPerDay    int `json:"requests_per_day,omitempty"`
}

// ProjectConfig is one configuration-store record, keyed by company + project.
type ProjectConfig struct {
	CompanyID       string                   `json:"company_id"`
	ProjectID       string                   `json:"project_id"`
	ProjectName     string                   `json:"project_name"`
	Status          string                   `json:"project_status"`
	AllowedChannels []string                 `json:"allowed_channels"`
	Representatives map[string]string        `json:"representatives,omitempty"`
	RateLimits      RateLimits               `json:"rate_limits"`
	Channels        map[string]ChannelConfig `json:"channels"`
	AI              AIConfig                 `json:"ai_config"`
}

// Active reports whether the project accepts routed requests.
func (c ProjectConfig) Active() bool { return c.Status == StatusActive }

// ChannelAllowed reports whether the given channel is in the allow list.
func (c ProjectConfig) ChannelAllowed(channel string) bool {
	for _, ch := range c.AllowedChannels {
		if ch == channel {
			return true
		}
	}
	return false
}
