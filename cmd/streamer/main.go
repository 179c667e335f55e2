package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/database"
	"github.com/rickgao/marketstream/internal/feed"
	"github.com/rickgao/marketstream/internal/metrics"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/notify"
	"github.com/rickgao/marketstream/internal/registry"
	"github.com/rickgao/marketstream/internal/router"
	"github.com/rickgao/marketstream/internal/session"
	"github.com/rickgao/marketstream/internal/stream"
	"github.com/rickgao/marketstream/internal/transport"
	"github.com/rickgao/marketstream/internal/version"
	"github.com/rickgao/marketstream/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/streamer.local.yaml", "path to config file")
	flag.Parse()

	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.String(),
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("streamer failed", "error", err)
		os.Exit(1)
	}
	logger.Info("streamer stopped")
}

func run(cfg *config.StreamerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := registry.NewHub(registry.HubConfig{MailboxSize: cfg.Registry.MailboxSize}, logger)
	binder := stream.NewBinder(hub, cfg.Throttle.BuildPolicies(), stream.BinderConfig{
		DeliveryBuffer: cfg.Session.DeliveryBuffer,
	}, logger)

	sessionCfg := session.Config{
		ReadyTimeout: cfg.Session.ReadyTimeout,
		CommandRate:  cfg.Session.CommandRate,
		CommandBurst: cfg.Session.CommandBurst,
	}
	wsHandler := transport.NewHandler(transport.Config{
		ReadLimit:      cfg.Server.ReadLimit,
		WriteTimeout:   cfg.Server.WriteTimeout,
		PingInterval:   cfg.Server.PingInterval,
		PongTimeout:    cfg.Server.PongTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, func(t session.Transport) *session.Session {
		return session.New(t, hub, binder, sessionCfg, logger)
	}, logger)

	// Optional notification history
	var pool *pgxpool.Pool
	var history *writer.HistoryWriter
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		p, err := database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer p.Close()
		if err := database.EnsureSchema(ctx, p); err != nil {
			return err
		}
		pool = p

		history = writer.NewHistoryWriter(writer.WriterConfig{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
			InstanceID:    cfg.Instance.ID,
		}, hub, pool, logger)
		if err := history.Start(ctx); err != nil {
			return err
		}
	}

	// Optional Telegram relay
	var relay *notify.Relay
	if cfg.Telegram.Enabled {
		bot, err := notify.NewBot(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		relay = notify.NewRelay(notify.Config{
			ChatID:   cfg.Telegram.ChatID,
			MinLevel: model.NotificationLevel(cfg.Telegram.MinLevel),
		}, bot, hub, logger)
		if err := relay.Start(ctx); err != nil {
			return err
		}
	}

	// Upstream feed
	upstream, err := newFeed(cfg.Feed, logger)
	if err != nil {
		return err
	}
	buf := feed.NewBuffer[feed.RawMessage](min(1024, cfg.Feed.BufferSize), cfg.Feed.BufferSize)
	rt := router.NewRouter(buf, hub, logger)
	if err := rt.Start(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, wsHandler)
	mux.Handle(cfg.Server.HealthPath, healthHandler(hub, wsHandler, rt, pool))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening",
			"addr", cfg.Server.ListenAddr,
			"ws_path", cfg.Server.WSPath,
			"throttle_mode", cfg.Throttle.Mode,
			"feed", cfg.Feed.Backend,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if upstream != nil {
		g.Go(func() error {
			return upstream.Run(gctx, buf)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := wsHandler.Shutdown(shutdownCtx); err != nil {
			logger.Warn("websocket shutdown incomplete", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "error", err)
		}
		if upstream != nil {
			if err := upstream.Close(); err != nil {
				logger.Warn("failed to close feed", "error", err)
			}
		}
		rt.Stop(shutdownCtx)
		if relay != nil {
			if err := relay.Stop(shutdownCtx); err != nil {
				logger.Warn("notification relay stop incomplete", "error", err)
			}
		}
		if history != nil {
			if err := history.Stop(shutdownCtx); err != nil {
				logger.Warn("history writer stop incomplete", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

func newFeed(cfg config.FeedConfig, logger *slog.Logger) (feed.Feed, error) {
	switch cfg.Backend {
	case config.FeedBackendRedis:
		return feed.NewRedisFeed(cfg.Redis, logger), nil
	case config.FeedBackendKafka:
		return feed.NewKafkaFeed(cfg.Kafka, logger), nil
	case config.FeedBackendWebSocket:
		return feed.NewWebSocketFeed(cfg.WebSocket, logger), nil
	case config.FeedBackendNone:
		logger.Warn("no upstream feed configured; only in-process publishers reach clients")
		return nil, nil
	}
	return nil, fmt.Errorf("unknown feed backend %q", cfg.Backend)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
