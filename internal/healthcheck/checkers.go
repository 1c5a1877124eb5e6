package healthcheck

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/convoflow/convoflow/internal/db"
)

// PostgresChecker pings the conversation/config database.
type PostgresChecker struct {
	q db.Querier
}

func NewPostgresChecker(q db.Querier) *PostgresChecker {
	return &PostgresChecker{q: q}
}

func (c *PostgresChecker) Name() string { return "postgres" }

func (c *PostgresChecker) Check(ctx context.Context) error {
	var one int
	return c.q.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// RedisChecker pings the work-queue backend.
type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var (
	_ Checker = (*PostgresChecker)(nil)
	_ Checker = (*RedisChecker)(nil)
)
