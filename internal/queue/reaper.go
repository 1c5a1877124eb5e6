package queue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// ReapExpired scans the in-flight zset for messages whose visibility deadline
// has lapsed (the owning worker crashed or stalled) and returns them to the
// pending list, or dead-letters them when redelivery is exhausted. It then
// sweeps the processing list for ids a consumer popped but never registered
// in flight (crash between BLMOVE and the register pipeline). Safe to run
// from multiple processes: the ZRem/LRem result decides which reaper wins.
func (q *Queue) ReapExpired(ctx context.Context, nowMilli int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMilli, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.inflightKey(), id).Result()
		if err != nil {
			return reclaimed, err
		}
		if removed == 0 {
			continue // another reaper or the worker itself got there first
		}
		count, err := q.client.HGet(ctx, q.msgKey(id), "receive_count").Int()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return reclaimed, err
		}
		dest := q.pendingKey()
		if count >= q.maxReceive {
			dest = q.deadKey()
		}
		if err := q.client.LPush(ctx, dest, id).Err(); err != nil {
			return reclaimed, err
		}
		q.logger.Info("reclaimed expired message",
			slog.String("message_id", id),
			slog.Int("receive_count", count),
			slog.Bool("dead_lettered", dest == q.deadKey()),
		)
		reclaimed++
	}

	orphans, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return reclaimed, err
	}
	for _, id := range orphans {
		// An id both in processing and in flight is mid-register; the
		// consumer's own pipeline removes it.
		if err := q.client.ZScore(ctx, q.inflightKey(), id).Err(); err == nil {
			continue
		} else if !errors.Is(err, redis.Nil) {
			return reclaimed, err
		}
		removed, err := q.client.LRem(ctx, q.processingKey(), 1, id).Result()
		if err != nil {
			return reclaimed, err
		}
		if removed == 0 {
			continue
		}
		count, err := q.client.HGet(ctx, q.msgKey(id), "receive_count").Int()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return reclaimed, err
		}
		dest := q.pendingKey()
		if count >= q.maxReceive {
			dest = q.deadKey()
		}
		if err := q.client.LPush(ctx, dest, id).Err(); err != nil {
			return reclaimed, err
		}
		q.logger.Info("recovered unregistered message",
			slog.String("message_id", id),
			slog.Int("receive_count", count),
			slog.Bool("dead_lettered", dest == q.deadKey()),
		)
		reclaimed++
	}
	return reclaimed, nil
}

// StartReaper schedules ReapExpired on the given cron spec (e.g. "@every 10s")
// and returns the running scheduler. Stop it on shutdown.
func (q *Queue) StartReaper(ctx context.Context, spec string, now func() int64) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := q.ReapExpired(ctx, now()); err != nil {
			q.logger.Error("reaper sweep failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
