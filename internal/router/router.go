// Package router validates inbound requests, enriches them into context
// objects, and dispatches them onto the channel work queues. The router holds
// no long-lived state and is safe to replicate.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/convoflow/convoflow/internal/contextobj"
	"github.com/convoflow/convoflow/internal/projectcfg"
	"github.com/convoflow/convoflow/internal/request"
)

var (
	// ErrConfigNotFound means no project configuration exists for the tenant.
	ErrConfigNotFound = errors.New("project configuration not found")
	// ErrProjectInactive means the project exists but is not active.
	ErrProjectInactive = errors.New("project is not active")
	// ErrChannelNotAllowed means the requested channel is outside the
	// project's allow list.
	ErrChannelNotAllowed = errors.New("channel not allowed for project")
	// ErrDispatch means the context object could not be enqueued; the request
	// was not accepted and the caller should retry the whole call.
	ErrDispatch = errors.New("dispatch failed")
)

const (
	enqueueAttempts = 3
	enqueueBackoff  = 200 * time.Millisecond
)

// ConfigStore loads project configuration.
type ConfigStore interface {
	Get(ctx context.Context, companyID, projectID string) (projectcfg.ProjectConfig, error)
}

// Enqueuer pushes a message body onto one work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) (string, error)
}

// Ack is the synchronous acknowledgement returned to the caller. It confirms
// enqueueing only, never the downstream processing outcome.
type Ack struct {
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// Router routes inbound requests to the per-channel work queues.
type Router struct {
	configs ConfigStore
	queues  map[request.Channel]Enqueuer
	version string
	logger  *slog.Logger
	sleep   func(time.Duration)
}

// New creates a router over the given configuration store and channel queues.
func New(log *slog.Logger, configs ConfigStore, queues map[request.Channel]Enqueuer) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		configs: configs,
		queues:  queues,
		version: contextobj.Version,
		logger:  log.With(slog.String("service", "router")),
		sleep:   time.Sleep,
	}
}

// Route validates and enriches the request, then enqueues the resulting
// context object. No side effect happens before validation passes, and a
// dispatch failure leaves no accepted request behind.
func (r *Router) Route(ctx context.Context, req request.Request) (Ack, error) {
	if err := request.Validate(req); err != nil {
		return Ack{}, err
	}
	channel := req.Channel()

	cfg, err := r.configs.Get(ctx, req.CompanyData.CompanyID, req.CompanyData.ProjectID)
	if err != nil {
		if errors.Is(err, projectcfg.ErrNotFound) {
			return Ack{}, fmt.Errorf("%w: %s/%s", ErrConfigNotFound,
				req.CompanyData.CompanyID, req.CompanyData.ProjectID)
		}
		return Ack{}, fmt.Errorf("load project config: %w", err)
	}
	if !cfg.Active() {
		return Ack{}, fmt.Errorf("%w: status %q", ErrProjectInactive, cfg.Status)
	}
	if !cfg.ChannelAllowed(channel.String()) {
		return Ack{}, fmt.Errorf("%w: %s", ErrChannelNotAllowed, channel)
	}

	obj := contextobj.Build(req, cfg, r.version)
	body, err := json.Marshal(obj)
	if err != nil {
		return Ack{}, fmt.Errorf("encode context object: %w", err)
	}

	q, ok := r.queues[channel]
	if !ok {
		return Ack{}, fmt.Errorf("%w: no queue for channel %s", ErrDispatch, channel)
	}

	msgID, err := r.enqueueWithRetry(ctx, q, body)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	r.logger.Info("request routed",
		slog.String("request_id", req.RequestData.RequestID),
		slog.String("channel", channel.String()),
		slog.String("conversation_id", obj.Conversation.ConversationID),
		slog.String("message_id", msgID),
	)
	return Ack{
		RequestID:      req.RequestData.RequestID,
		ConversationID: obj.Conversation.ConversationID,
		MessageID:      msgID,
	}, nil
}

// enqueueWithRetry retries transient enqueue failures with a short doubling
// backoff before giving up.
func (r *Router) enqueueWithRetry(ctx context.Context, q Enqueuer, body []byte) (string, error) {
	backoff := enqueueBackoff
	var lastErr error
	for attempt := 1; attempt <= enqueueAttempts; attempt++ {
		id, err := q.Enqueue(ctx, body)
		if err == nil {
			return id, nil
		}
		lastErr = err
		r.logger.Warn("enqueue attempt failed",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt < enqueueAttempts {
			r.sleep(backoff)
			backoff *= 2
		}
	}
	return "", lastErr
}

// IsTerminal reports whether a routing error is caller-visible and final
// (validation or configuration), as opposed to a dispatch failure worth
// retrying by the caller.
func IsTerminal(err error) bool {
	return errors.Is(err, request.ErrInvalid) ||
		errors.Is(err, ErrConfigNotFound) ||
		errors.Is(err, ErrProjectInactive) ||
		errors.Is(err, ErrChannelNotAllowed)
}
