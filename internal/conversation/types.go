// Package conversation defines the durable per-conversation record and its
// lifecycle rules.
package conversation

import "time"

// Status values for a conversation record. initial_processing is the only
// entry state; the rest are terminal. Status never moves backwards.
const (
	StatusInitialProcessing   = "initial_processing"
	StatusProcessingCompleted = "processing_completed"
	StatusProcessingFailed    = "processing_failed"
	StatusAIFailed            = "ai_failed"
	StatusSendFailed          = "send_failed"
)

// Message direction values for history entries.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
	DirectionSystem   = "system"
)

// HistoryEntry is one message in the conversation history, append-only.
type HistoryEntry struct {
	Direction string    `json:"direction"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is one conversation-store row, keyed by (primary channel address,
// conversation id).
type Record struct {
	PrimaryChannel        string            `json:"primary_channel"`
	ConversationID        string            `json:"conversation_id"`
	CompanyID             string            `json:"company_id"`
	ProjectID             string            `json:"project_id"`
	ChannelMethod         string            `json:"channel_method"`
	Status                string            `json:"status"`
	ThreadID              string            `json:"thread_id,omitempty"`
	TaskComplete          bool              `json:"task_complete"`
	Representatives       map[string]string `json:"representatives,omitempty"`
	History               []HistoryEntry    `json:"history"`
	ProcessingTimeSeconds float64           `json:"processing_time_seconds"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// statusRank orders statuses for the monotonic-advance rule: failure statuses
// sit between initial_processing and processing_completed so a redelivered
// message can still complete a conversation that a prior attempt marked
// failed, while a completed conversation never changes again.
func statusRank(status string) int {
	switch status {
	case StatusInitialProcessing:
		return 0
	case StatusProcessingFailed, StatusAIFailed, StatusSendFailed:
		return 1
	case StatusProcessingCompleted:
		return 2
	default:
		return -1
	}
}

// CanAdvance reports whether a record in from may move to to. Status never
// reverts to initial_processing, and a completed record is immutable.
func CanAdvance(from, to string) bool {
	fr, tr := statusRank(from), statusRank(to)
	if fr < 0 || tr < 0 {
		return false
	}
	return tr > fr
}
