// Package request defines the inbound routing request and its validation
// rules. The request shape is the public contract of the Router endpoint.
package request

import (
	"encoding/json"
	"strings"
)

// Channel is the delivery channel for a routed request.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

// Channels lists every supported delivery channel.
var Channels = []Channel{ChannelWhatsApp, ChannelSMS, ChannelEmail}

// String returns the channel as a plain string.
func (c Channel) String() string { return string(c) }

// Valid reports whether the channel is one of the supported methods.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail:
		return true
	}
	return false
}

// ParseChannel normalizes and checks a channel method string.
func ParseChannel(raw string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(raw)))
	return c, c.Valid()
}

// CompanyData identifies the tenant and project the request belongs to.
type CompanyData struct {
	CompanyID string `json:"company_id" validate:"required"`
	ProjectID string `json:"project_id" validate:"required"`
}

// RecipientData carries the contact fields for the recipient. Exactly one of
// Telephone/Email must be set, matching the requested channel method.
type RecipientData struct {
	Telephone    string `json:"recipient_tel,omitempty"`
	Email        string `json:"recipient_email,omitempty" validate:"omitempty,email"`
	CommsConsent *bool  `json:"comms_consent" validate:"required"`
}

// RequestData carries request metadata.
type RequestData struct {
	RequestID        string `json:"request_id" validate:"required,uuid4"`
	ChannelMethod    string `json:"channel_method" validate:"required"`
	InitialTimestamp string `json:"initial_request_timestamp" validate:"required"`
}

// Request is the inbound routing request body. ProjectData is an opaque
// document passed through to the AI prompt untouched, preserving the caller's
// key order.
type Request struct {
	CompanyData   CompanyData     `json:"company_data" validate:"required"`
	RecipientData RecipientData   `json:"recipient_data" validate:"required"`
	RequestData   RequestData     `json:"request_data" validate:"required"`
	ProjectData   json.RawMessage `json:"project_data,omitempty"`
}

// Channel returns the parsed channel method.
func (r Request) Channel() Channel {
	c, _ := ParseChannel(r.RequestData.ChannelMethod)
	return c
}

// PrimaryAddress returns the recipient address that keys conversation
// records: the telephone number without its leading "+" for whatsapp/sms,
// the lowercased email for email. Provider-facing sends keep the "+".
func (r Request) PrimaryAddress() string {
	switch r.Channel() {
	case ChannelEmail:
		return strings.ToLower(strings.TrimSpace(r.RecipientData.Email))
	default:
		return strings.TrimPrefix(strings.TrimSpace(r.RecipientData.Telephone), "+")
	}
}
