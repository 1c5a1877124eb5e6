package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/convoflow/convoflow/internal/config"
	"github.com/convoflow/convoflow/internal/conversation"
	"github.com/convoflow/convoflow/internal/db"
	"github.com/convoflow/convoflow/internal/handlers"
	"github.com/convoflow/convoflow/internal/healthcheck"
	"github.com/convoflow/convoflow/internal/logger"
	"github.com/convoflow/convoflow/internal/projectcfg"
	"github.com/convoflow/convoflow/internal/queue"
	"github.com/convoflow/convoflow/internal/request"
	"github.com/convoflow/convoflow/internal/router"
	"github.com/convoflow/convoflow/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideQuerier,
			provideRedisClient,
			provideChannelQueues,
			provideConfigStore,
			provideConversationStore,
			provideRouter,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideRouteHandler),
			provideServerHandler(provideConversationsHandler),
			provideServer,
		),
		fx.Invoke(
			runMigrations,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideQuerier(conn *pgxpool.Pool) db.Querier { return conn }

func provideRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	return client, nil
}

func provideChannelQueues(log *slog.Logger, cfg config.Config, client *redis.Client) map[request.Channel]router.Enqueuer {
	opts := queue.Options{
		Prefix:          cfg.Queue.Prefix,
		Visibility:      cfg.Queue.Visibility(),
		MaxReceiveCount: cfg.Queue.MaxReceiveCount,
	}
	queues := make(map[request.Channel]router.Enqueuer, len(request.Channels))
	for _, ch := range request.Channels {
		queues[ch] = queue.New(log, client, ch.String(), opts)
	}
	return queues
}

func provideConfigStore(log *slog.Logger, q db.Querier) *projectcfg.Store {
	return projectcfg.NewStore(log, q)
}

func provideRouter(log *slog.Logger, configs *projectcfg.Store, queues map[request.Channel]router.Enqueuer) *router.Router {
	return router.New(log, configs, queues)
}

func provideHealthHandler(log *slog.Logger, q db.Querier, client *redis.Client) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log,
		healthcheck.NewPostgresChecker(q),
		healthcheck.NewRedisChecker(client),
	)
}

func provideRouteHandler(log *slog.Logger, r *router.Router) *handlers.RouteHandler {
	return handlers.NewRouteHandler(log, r)
}

func provideConversationStore(log *slog.Logger, q db.Querier) *conversation.Store {
	return conversation.NewStore(log, q)
}

func provideConversationsHandler(log *slog.Logger, store *conversation.Store) *handlers.ConversationsHandler {
	return handlers.NewConversationsHandler(log, store)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Config.Server.Addr, params.Handlers...)
}

func runMigrations(logger *slog.Logger, cfg config.Config, _ *pgxpool.Pool) error {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database schema up to date")
	return nil
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("router listening", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
