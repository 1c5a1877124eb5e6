// Package processor consumes context objects from a channel work queue and
// drives each one through the conversation pipeline: idempotent record
// creation, credential resolution, AI completion, channel delivery, and
// record finalization, with a concurrent heartbeat keeping the queue message
// visible-owned for the duration.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/convoflow/convoflow/internal/assistant"
	"github.com/convoflow/convoflow/internal/channel"
	"github.com/convoflow/convoflow/internal/contextobj"
	"github.com/convoflow/convoflow/internal/conversation"
	"github.com/convoflow/convoflow/internal/queue"
	"github.com/convoflow/convoflow/internal/secrets"
)

const receiveWait = 5 * time.Second

// WorkQueue is the queue surface the processor consumes.
type WorkQueue interface {
	Receive(ctx context.Context, wait time.Duration) (*queue.Message, error)
	Extend(ctx context.Context, id string) error
	Ack(ctx context.Context, id string) error
	Nack(ctx context.Context, id string) (bool, error)
	Visibility() time.Duration
	Name() string
}

// Conversations is the conversation-store surface the processor mutates.
type Conversations interface {
	CreateIfAbsent(ctx context.Context, rec conversation.Record) (bool, error)
	Get(ctx context.Context, primaryChannel, conversationID string) (conversation.Record, error)
	AdvanceStatus(ctx context.Context, primaryChannel, conversationID, status string) error
	AppendHistory(ctx context.Context, primaryChannel, conversationID string, entry conversation.HistoryEntry) error
	Finalize(ctx context.Context, primaryChannel, conversationID, status, threadID string, entry conversation.HistoryEntry, processingTime time.Duration) error
}

// Completer runs one AI completion.
type Completer interface {
	Complete(ctx context.Context, apiKey, assistantID, prompt string) (assistant.Completion, error)
}

// Processor owns one channel's work queue.
type Processor struct {
	queue         WorkQueue
	conversations Conversations
	secrets       secrets.Store
	completer     Completer
	senders       *channel.Registry
	workers       int
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a processor for the given queue and collaborators.
func New(log *slog.Logger, q WorkQueue, convs Conversations, secretStore secrets.Store, completer Completer, senders *channel.Registry, workers int) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Processor{
		queue:         q,
		conversations: convs,
		secrets:       secretStore,
		completer:     completer,
		senders:       senders,
		workers:       workers,
		logger: log.With(
			slog.String("service", "processor"),
			slog.String("queue", q.Name()),
		),
		now: time.Now,
	}
}

// Run consumes the queue until the context is cancelled, draining in-flight
// work before returning.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("processor started", slog.Int("workers", p.workers))
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consumeLoop(ctx)
		}()
	}
	wg.Wait()
	p.logger.Info("processor stopped")
	return nil
}

func (p *Processor) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := p.queue.Receive(ctx, receiveWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("receive failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}
		p.Handle(ctx, msg)
	}
}

// Handle processes one queue message end to end: heartbeat on, pipeline,
// heartbeat off, then ack or nack according to the outcome.
func (p *Processor) Handle(ctx context.Context, msg *queue.Message) {
	log := p.logger.With(slog.String("message_id", msg.ID))

	var obj contextobj.ContextObject
	if err := json.Unmarshal(msg.Body, &obj); err != nil {
		// An unreadable body can never be processed; there is no conversation
		// id to record against, so drop it.
		log.Error("context object unreadable, dropping message", slog.Any("error", err))
		p.ack(ctx, log, msg.ID)
		return
	}
	log = log.With(slog.String("conversation_id", obj.Conversation.ConversationID))

	interval := p.queue.Visibility() / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hb := startHeartbeat(ctx, log, p.queue, msg.ID, interval)

	start := p.now()
	perr := p.pipeline(ctx, log, obj, start)

	// The pipeline is done, success or not: no further extension may happen
	// before the ack/nack below.
	hb.Stop()

	if perr == nil {
		p.ack(ctx, log, msg.ID)
		return
	}

	// Best-effort failure-status write so the record never silently stays in
	// initial_processing for a message that will not come back. The system
	// history entry keeps the failure cause on the record for operators.
	if perr.status != "" {
		primary := obj.FrontendPayload.PrimaryAddress()
		convID := obj.Conversation.ConversationID
		if err := p.conversations.AdvanceStatus(ctx, primary, convID, perr.status); err != nil {
			log.Error("failure status write failed", slog.Any("error", err))
		}
		entry := conversation.HistoryEntry{
			Direction: conversation.DirectionSystem,
			Content:   fmt.Sprintf("%s: %v", perr.status, perr.err),
		}
		if err := p.conversations.AppendHistory(ctx, primary, convID, entry); err != nil {
			log.Error("failure history write failed", slog.Any("error", err))
		}
	}

	if perr.retryable {
		log.Warn("pipeline failed, redelivering", slog.Any("error", perr))
		requeued, err := p.queue.Nack(ctx, msg.ID)
		if err != nil {
			log.Error("nack failed", slog.Any("error", err))
			return
		}
		if !requeued {
			log.Error("message dead-lettered", slog.Int("receive_count", msg.ReceiveCount))
		}
		return
	}

	log.Error("pipeline failed terminally", slog.Any("error", perr))
	p.ack(ctx, log, msg.ID)
}

// pipeline runs the ordered steps for one context object. A nil return means
// the conversation was finalized (or had already completed) and the message
// may be acked.
func (p *Processor) pipeline(ctx context.Context, log *slog.Logger, obj contextobj.ContextObject, start time.Time) *stepError {
	primary := obj.FrontendPayload.PrimaryAddress()
	convID := obj.Conversation.ConversationID
	if primary == "" || convID == "" {
		return terminal(conversation.StatusProcessingFailed,
			fmt.Errorf("context object missing conversation key"))
	}

	// RECEIVED -> RECORD_CREATED. The conditional create is the idempotency
	// gate for at-least-once delivery.
	created, err := p.conversations.CreateIfAbsent(ctx, initialRecord(obj, primary, convID))
	if err != nil {
		return retryable("", fmt.Errorf("create conversation record: %w", err))
	}
	if !created {
		rec, err := p.conversations.Get(ctx, primary, convID)
		if err != nil && !errors.Is(err, conversation.ErrNotFound) {
			return retryable("", fmt.Errorf("load existing record: %w", err))
		}
		if rec.Status == conversation.StatusProcessingCompleted {
			// A prior delivery finished the whole pipeline; re-sending would
			// duplicate the outbound message.
			log.Info("conversation already completed, skipping duplicate delivery")
			return nil
		}
		log.Info("resuming conversation from duplicate delivery",
			slog.String("status", rec.Status),
		)
	}

	// -> CREDENTIALS_RESOLVED. Missing or malformed secrets are static
	// configuration mistakes; redelivery cannot fix them.
	channelCfg, ok := obj.ActiveChannelConfig()
	if !ok {
		return terminal(conversation.StatusProcessingFailed,
			fmt.Errorf("no channel config for %s", obj.Channel()))
	}
	channelSecret, err := p.secrets.Resolve(ctx, channelCfg.CredentialRef)
	if err != nil {
		return classifySecretErr("channel credential", err)
	}
	aiSecret, err := p.secrets.Resolve(ctx, obj.AIConfig.CredentialRef)
	if err != nil {
		return classifySecretErr("ai credential", err)
	}
	assistantID := obj.AIConfig.Assistants.AssistantIDTemplateSender
	if assistantID == "" {
		return terminal(conversation.StatusProcessingFailed,
			fmt.Errorf("no template-sender assistant configured for %s", obj.Channel()))
	}

	// -> AI_COMPLETED. Run timeouts and provider-side failures are worth a
	// redelivery; malformed structured output is not.
	completion, err := p.completer.Complete(ctx, aiSecret.APIKey, assistantID, ComposePrompt(obj))
	if err != nil {
		if errors.Is(err, assistant.ErrMalformedOutput) {
			log.Error("assistant output malformed, assistant is misconfigured", slog.Any("error", err))
			return terminal(conversation.StatusAIFailed, err)
		}
		return retryable(conversation.StatusAIFailed, err)
	}

	// -> DELIVERED.
	sender, ok := p.senders.Get(obj.Channel().String())
	if !ok {
		return terminal(conversation.StatusSendFailed,
			fmt.Errorf("no sender registered for channel %s", obj.Channel()))
	}
	result, err := sender.Send(ctx, channel.SendRequest{
		To:                recipientAddress(obj),
		From:              channelCfg.SenderAddress,
		Body:              completion.Output.MessageBody,
		TemplateName:      channelCfg.TemplateName,
		TemplateVariables: completion.Output.TemplateVariables,
		Credential:        channelSecret,
	})
	if err != nil {
		if channel.IsRejection(err) {
			return terminal(conversation.StatusSendFailed, err)
		}
		return retryable(conversation.StatusSendFailed, err)
	}

	// -> FINALIZED.
	entry := conversation.HistoryEntry{
		Direction: conversation.DirectionOutbound,
		Content:   completion.Output.MessageBody,
		Timestamp: p.now().UTC(),
	}
	if err := p.conversations.Finalize(ctx, primary, convID,
		conversation.StatusProcessingCompleted, completion.ThreadID, entry, p.now().Sub(start)); err != nil {
		return retryable("", fmt.Errorf("finalize conversation: %w", err))
	}

	log.Info("conversation completed",
		slog.String("thread_id", completion.ThreadID),
		slog.String("provider_message_id", result.ProviderMessageID),
		slog.Duration("elapsed", p.now().Sub(start)),
	)
	return nil
}

func (p *Processor) ack(ctx context.Context, log *slog.Logger, id string) {
	if err := p.queue.Ack(ctx, id); err != nil {
		log.Error("ack failed", slog.Any("error", err))
	}
}

func classifySecretErr(what string, err error) *stepError {
	if errors.Is(err, secrets.ErrNotFound) || errors.Is(err, secrets.ErrMalformed) {
		return terminal(conversation.StatusProcessingFailed, fmt.Errorf("%s: %w", what, err))
	}
	return retryable("", fmt.Errorf("%s: %w", what, err))
}

func initialRecord(obj contextobj.ContextObject, primary, convID string) conversation.Record {
	return conversation.Record{
		PrimaryChannel:  primary,
		ConversationID:  convID,
		CompanyID:       obj.FrontendPayload.CompanyData.CompanyID,
		ProjectID:       obj.FrontendPayload.CompanyData.ProjectID,
		ChannelMethod:   obj.Channel().String(),
		Status:          conversation.StatusInitialProcessing,
		Representatives: obj.ProjectPayload.Representatives,
	}
}

// recipientAddress returns the provider-facing address for the requested
// channel, keeping the "+" prefix for telephony channels.
func recipientAddress(obj contextobj.ContextObject) string {
	switch obj.Channel().String() {
	case "email":
		return obj.FrontendPayload.RecipientData.Email
	default:
		return obj.FrontendPayload.RecipientData.Telephone
	}
}

// ComposePrompt renders the assistant prompt from company, project,
// recipient, and pass-through project data.
func ComposePrompt(obj contextobj.ContextObject) string {
	payload := struct {
		CompanyID   string          `json:"company_id"`
		ProjectID   string          `json:"project_id"`
		ProjectName string          `json:"project_name"`
		Recipient   string          `json:"recipient"`
		Channel     string          `json:"channel"`
		ProjectData json.RawMessage `json:"project_data,omitempty"`
	}{
		CompanyID:   obj.FrontendPayload.CompanyData.CompanyID,
		ProjectID:   obj.FrontendPayload.CompanyData.ProjectID,
		ProjectName: obj.ProjectPayload.ProjectName,
		Recipient:   recipientAddress(obj),
		Channel:     obj.Channel().String(),
		ProjectData: obj.FrontendPayload.ProjectData,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// Everything in the payload is already-decoded JSON; this cannot
		// realistically fail, but fall back to an empty document if it does.
		return "{}"
	}
	return string(raw)
}
