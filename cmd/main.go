package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/felagos/chat-app/internal/auth"
	"github.com/felagos/chat-app/internal/breaker"
	"github.com/felagos/chat-app/internal/broker"
	"github.com/felagos/chat-app/internal/config"
	"github.com/felagos/chat-app/internal/consumer"
	"github.com/felagos/chat-app/internal/domain"
	"github.com/felagos/chat-app/internal/handler"
	"github.com/felagos/chat-app/internal/hub"
	"github.com/felagos/chat-app/internal/notify"
	"github.com/felagos/chat-app/internal/presence"
	"github.com/felagos/chat-app/internal/ratelimit"
	"github.com/felagos/chat-app/internal/service"
	"github.com/felagos/chat-app/internal/store"
	pkglog "github.com/felagos/chat-app/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	logger.Info().Msg("starting chat server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broker path: circuit breaker in front of the RabbitMQ client
	brk := breaker.New(breaker.Config{
		Name:             "rabbitmq",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
	}, logger)

	mq := broker.NewClient(broker.Config{
		URL:           cfg.Broker.URL,
		PrefetchCount: cfg.Broker.PrefetchCount,
	}, brk, logger)

	// Presence tracker
	tracker, err := buildTracker(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize presence tracker")
	}

	// Message store; seeded in-memory until a database backend lands
	st := store.NewMemoryStore()

	// Notification dispatcher with logging provider sinks
	devices := notify.NewDeviceRegistry()
	dispatcher := notify.NewDispatcher(
		tracker,
		devices,
		notify.LoggingPushSender{Logger: logger},
		notify.LoggingEmailSender{Logger: logger},
		notify.LoggingSMSSender{Logger: logger},
		logger,
	)

	// Consumer pipeline draining both queues
	pipe := consumer.New(st, tracker, dispatcher, mq, cfg.Notify.PreviewLength, cfg.Notify.DedupTTL, logger)

	// Websocket hub and gateway service
	h := hub.NewHub(cfg.WebSocket)
	go h.Run()

	limiter := ratelimit.New()
	svc := service.NewChatService(h, mq, tracker, limiter, cfg.RateLimit, logger)
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)

	// HTTP surface
	wsHandler := handler.NewWSHandler(h, svc, verifier, limiter, cfg.RateLimit, cfg.WebSocket, logger)
	httpHandler := handler.NewHTTPHandler(brk, tracker, devices, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	httpHandler.Register(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      pkglog.HTTPMiddleware(logger)(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Periodic sweep of stale presence entries (memory backend only; Redis
	// entries expire via TTL)
	if mt, ok := tracker.(*presence.MemoryTracker); ok {
		go mt.RunSweeper(ctx, cfg.Presence.SweepInterval)
	}

	// Connect to the broker and start consumers in the background. On
	// exhausted retries the gateway keeps serving: live relay works while the
	// durable path stays down until the next publish re-opens the circuit
	// probe.
	go func() {
		if err := mq.ConnectWithRetry(ctx, cfg.Broker.ConnectAttempts, cfg.Broker.ConnectBackoff); err != nil {
			logger.Error().Err(err).Msg("broker unavailable, running in degraded mode")
			return
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return mq.Subscribe(gCtx, domain.MessagesQueue, pipe.HandleMessage)
		})
		g.Go(func() error {
			return mq.Subscribe(gCtx, domain.NotificationsQueue, pipe.HandleNotification)
		})
		if err := g.Wait(); err != nil {
			logger.Error().Err(err).Msg("failed to start consumers")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("received shutdown signal")

	// Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown error")
	}

	if err := mq.Close(); err != nil {
		logger.Warn().Err(err).Msg("broker close error")
	}
	if err := tracker.Close(); err != nil {
		logger.Warn().Err(err).Msg("presence tracker close error")
	}

	logger.Info().Msg("chat server stopped")
}

func buildTracker(cfg *config.Config, logger zerolog.Logger) (presence.Tracker, error) {
	if cfg.Presence.Backend == "redis" {
		tracker, err := presence.NewRedisTracker(cfg.Presence.Redis, cfg.Presence.StaleAfter)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("address", cfg.Presence.Redis.Address).Msg("presence backed by redis")
		return tracker, nil
	}
	return presence.NewMemoryTracker(cfg.Presence.StaleAfter, logger), nil
}
