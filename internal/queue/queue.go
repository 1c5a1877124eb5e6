// Package queue implements an at-least-once work queue on Redis with
// visibility timeouts, per-message receive counts, and a dead-letter list.
//
// Layout per queue name:
//
//	{prefix}:{name}:pending     list of message ids awaiting delivery
//	{prefix}:{name}:processing  list of ids popped but not yet registered in flight
//	{prefix}:{name}:inflight    zset of message id -> visibility deadline (unix ms)
//	{prefix}:{name}:msg:{id}    hash holding body, receive_count, enqueued_at
//	{prefix}:{name}:dead        list of message ids past max receive count
//
// A message is owned by exactly one consumer while its id sits in the
// in-flight zset with an unexpired deadline. Extend pushes the deadline out;
// the reaper returns expired ids to pending (or dead) for redelivery.
//
// Receive moves the id pending -> processing atomically (BLMOVE) before
// registering it in flight, so a consumer crashing mid-receive leaves the id
// in the processing list where the reaper can recover it. An id is never in
// zero keys.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrMessageNotInFlight is returned by Extend/Ack/Nack when the message is
	// no longer owned by the caller, e.g. the reaper already reclaimed it.
	ErrMessageNotInFlight = errors.New("message not in flight")
)

// Message is one received queue message. The id doubles as the queue handle
// for Extend/Ack/Nack.
type Message struct {
	ID           string
	Body         []byte
	ReceiveCount int
	EnqueuedAt   time.Time
}

// Options configures a Queue.
type Options struct {
	Prefix          string
	Visibility      time.Duration
	MaxReceiveCount int
}

// Queue is one named work queue.
type Queue struct {
	client     *redis.Client
	name       string
	prefix     string
	visibility time.Duration
	maxReceive int
	logger     *slog.Logger
}

// New creates a queue handle for the given name (one queue per channel).
func New(log *slog.Logger, client *redis.Client, name string, opts Options) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if opts.Prefix == "" {
		opts.Prefix = "convoflow:queue"
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 30 * time.Second
	}
	if opts.MaxReceiveCount <= 0 {
		opts.MaxReceiveCount = 3
	}
	return &Queue{
		client:     client,
		name:       name,
		prefix:     opts.Prefix,
		visibility: opts.Visibility,
		maxReceive: opts.MaxReceiveCount,
		logger:     log.With(slog.String("component", "queue"), slog.String("queue", name)),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Visibility returns the configured visibility timeout.
func (q *Queue) Visibility() time.Duration { return q.visibility }

func (q *Queue) pendingKey() string  { return fmt.Sprintf("%s:%s:pending", q.prefix, q.name) }
func (q *Queue) inflightKey() string { return fmt.Sprintf("%s:%s:inflight", q.prefix, q.name) }
func (q *Queue) deadKey() string     { return fmt.Sprintf("%s:%s:dead", q.prefix, q.name) }
func (q *Queue) processingKey() string {
	return fmt.Sprintf("%s:%s:processing", q.prefix, q.name)
}
func (q *Queue) msgKey(id string) string {
	return fmt.Sprintf("%s:%s:msg:%s", q.prefix, q.name, id)
}

// Enqueue stores the body and pushes the message id onto the pending list.
func (q *Queue) Enqueue(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.msgKey(id), map[string]any{
		"body":          body,
		"receive_count": 0,
		"enqueued_at":   now.UnixMilli(),
	})
	pipe.LPush(ctx, q.pendingKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

// Receive blocks up to wait for a pending message, registers it in flight
// with a fresh visibility deadline, and bumps its receive count. Returns
// (nil, nil) when no message arrived within the wait window.
func (q *Queue) Receive(ctx context.Context, wait time.Duration) (*Message, error) {
	id, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT", wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("receive pop: %w", err)
	}

	fields, err := q.client.HGetAll(ctx, q.msgKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("receive load %s: %w", id, err)
	}
	if len(fields) == 0 {
		// Message hash gone (acked concurrently). Drop the stale id.
		q.logger.Warn("dropping stale pending id", slog.String("message_id", id))
		_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
		return nil, nil
	}

	deadline := time.Now().Add(q.visibility)
	pipe := q.client.TxPipeline()
	count := pipe.HIncrBy(ctx, q.msgKey(id), "receive_count", 1)
	pipe.ZAdd(ctx, q.inflightKey(), redis.Z{Score: float64(deadline.UnixMilli()), Member: id})
	pipe.LRem(ctx, q.processingKey(), 1, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("receive register %s: %w", id, err)
	}

	enqueuedMs, _ := strconv.ParseInt(fields["enqueued_at"], 10, 64)
	return &Message{
		ID:           id,
		Body:         []byte(fields["body"]),
		ReceiveCount: int(count.Val()),
		EnqueuedAt:   time.UnixMilli(enqueuedMs).UTC(),
	}, nil
}

// Extend pushes the visibility deadline of an in-flight message out by one
// visibility window. This is the heartbeat primitive.
func (q *Queue) Extend(ctx context.Context, id string) error {
	deadline := time.Now().Add(q.visibility)
	err := q.client.ZAddXX(ctx, q.inflightKey(), redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("extend %s: %w", id, err)
	}
	// ZADD XX reports 0 for updates as well, so confirm membership directly.
	if err := q.client.ZScore(ctx, q.inflightKey(), id).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMessageNotInFlight
		}
		return fmt.Errorf("extend check %s: %w", id, err)
	}
	return nil
}

// Ack removes the message entirely: processing finished, success or terminal.
func (q *Queue) Ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	removed := pipe.ZRem(ctx, q.inflightKey(), id)
	pipe.Del(ctx, q.msgKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	if removed.Val() == 0 {
		return ErrMessageNotInFlight
	}
	return nil
}

// Nack returns a retryable message to the pending list for redelivery, or
// moves it to the dead-letter list once its receive count has reached the
// maximum. Reports whether the message was requeued.
func (q *Queue) Nack(ctx context.Context, id string) (bool, error) {
	removed, err := q.client.ZRem(ctx, q.inflightKey(), id).Result()
	if err != nil {
		return false, fmt.Errorf("nack %s: %w", id, err)
	}
	if removed == 0 {
		return false, ErrMessageNotInFlight
	}

	count, err := q.client.HGet(ctx, q.msgKey(id), "receive_count").Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("nack count %s: %w", id, err)
	}
	if count >= q.maxReceive {
		if err := q.client.LPush(ctx, q.deadKey(), id).Err(); err != nil {
			return false, fmt.Errorf("nack dead-letter %s: %w", id, err)
		}
		q.logger.Warn("message dead-lettered",
			slog.String("message_id", id),
			slog.Int("receive_count", count),
		)
		return false, nil
	}
	if err := q.client.LPush(ctx, q.pendingKey(), id).Err(); err != nil {
		return false, fmt.Errorf("nack requeue %s: %w", id, err)
	}
	return true, nil
}

// PendingDepth returns the number of messages awaiting delivery.
func (q *Queue) PendingDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}

// DeadDepth returns the number of dead-lettered messages.
func (q *Queue) DeadDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadKey()).Result()
}

// DeadBody loads the body of a dead-lettered message for triage tooling.
func (q *Queue) DeadBody(ctx context.Context, id string) ([]byte, error) {
	body, err := q.client.HGet(ctx, q.msgKey(id), "body").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("dead message %s not found", id)
		}
		return nil, err
	}
	return body, nil
}
