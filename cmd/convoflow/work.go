package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/convoflow/convoflow/internal/assistant"
	"github.com/convoflow/convoflow/internal/channel"
	"github.com/convoflow/convoflow/internal/channel/adapters/email"
	"github.com/convoflow/convoflow/internal/channel/adapters/sms"
	"github.com/convoflow/convoflow/internal/channel/adapters/whatsapp"
	"github.com/convoflow/convoflow/internal/config"
	"github.com/convoflow/convoflow/internal/conversation"
	"github.com/convoflow/convoflow/internal/db"
	"github.com/convoflow/convoflow/internal/processor"
	"github.com/convoflow/convoflow/internal/queue"
	"github.com/convoflow/convoflow/internal/request"
	"github.com/convoflow/convoflow/internal/secrets"
)

// reapSpec is how often expired in-flight messages are swept back onto the
// pending queue.
const reapSpec = "@every 30s"

func runWork() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideQuerier,
			provideRedisClient,
			provideWorkChannel,
			provideWorkQueue,
			provideConversationStore,
			provideSecretStore,
			provideAssistantClient,
			provideSenderRegistry,
			provideProcessor,
		),
		fx.Invoke(
			runMigrations,
			startReaper,
			startProcessor,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideWorkChannel(cfg config.Config) (request.Channel, error) {
	ch, ok := request.ParseChannel(cfg.Processor.Channel)
	if !ok {
		return "", fmt.Errorf("unknown processor channel %q", cfg.Processor.Channel)
	}
	return ch, nil
}

func provideWorkQueue(log *slog.Logger, cfg config.Config, client *redis.Client, ch request.Channel) *queue.Queue {
	return queue.New(log, client, ch.String(), queue.Options{
		Prefix:          cfg.Queue.Prefix,
		Visibility:      cfg.Queue.Visibility(),
		MaxReceiveCount: cfg.Queue.MaxReceiveCount,
	})
}

func provideSecretStore(log *slog.Logger, q db.Querier) secrets.Store {
	return secrets.NewPostgresStore(log, q)
}

func provideAssistantClient(log *slog.Logger, cfg config.Config) *assistant.Client {
	return assistant.NewClient(log, cfg.Assistant.BaseURL, cfg.Assistant.PollInterval(), cfg.Assistant.RunDeadline())
}

func provideSenderRegistry(log *slog.Logger) *channel.Registry {
	reg := channel.NewRegistry()
	reg.MustRegister(whatsapp.New(log, ""))
	reg.MustRegister(sms.New(log, ""))
	reg.MustRegister(email.New(log))
	return reg
}

func provideProcessor(log *slog.Logger, q *queue.Queue, convs *conversation.Store, secretStore secrets.Store, client *assistant.Client, reg *channel.Registry, cfg config.Config) *processor.Processor {
	return processor.New(log, q, convs, secretStore, client, reg, cfg.Processor.WorkerCount)
}

func nowMilli() int64 { return time.Now().UnixMilli() }

func startReaper(lc fx.Lifecycle, logger *slog.Logger, q *queue.Queue) {
	ctx, cancel := context.WithCancel(context.Background())
	var c *cron.Cron
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var err error
			c, err = q.StartReaper(ctx, reapSpec, nowMilli)
			if err != nil {
				cancel()
				return fmt.Errorf("start reaper: %w", err)
			}
			logger.Info("reaper scheduled", slog.String("queue", q.Name()), slog.String("spec", reapSpec))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if c != nil {
				select {
				case <-c.Stop().Done():
				case <-stopCtx.Done():
				}
			}
			return nil
		},
	})
}

func startProcessor(lc fx.Lifecycle, logger *slog.Logger, proc *processor.Processor, shutdowner fx.Shutdowner, ch request.Channel) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("processor starting", slog.String("channel", ch.String()))
			go func() {
				defer close(done)
				if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("processor stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
