package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kundhave/Sakhi/internal/api"
	"github.com/Kundhave/Sakhi/internal/app"
	"github.com/Kundhave/Sakhi/internal/catalog"
	"github.com/Kundhave/Sakhi/internal/chat"
	"github.com/Kundhave/Sakhi/internal/config"
	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/Kundhave/Sakhi/pkg/messaging"
	"github.com/Kundhave/Sakhi/pkg/rabbitmq"
	"github.com/Kundhave/Sakhi/pkg/telegram"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, chat transports and the nightly refresh scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	messages, err := catalog.Load()
	if err != nil {
		return err
	}

	dbpool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	if cfg.MigrationsAutoApply {
		if _, err := store.ApplyMigrations(ctx, dbpool, logger); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	publisher, brokerConnected := newPublisher(cfg, logger)
	defer publisher.Close()

	telegramClient := newTelegramClient(cfg, logger)
	sender := newOutboundSender(cfg, publisher, brokerConnected, telegramClient, logger)

	limiter, closeLimiter := newRateLimiter(ctx, cfg, logger)
	defer closeLimiter()

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	events := app.NewEventBus(publisher, cfg.EventsExchange, logger)
	scores := app.NewScoreEngine(repository, events, logger)
	eligibility := app.NewEligibilityEngine(repository, sender, messages, events, logger)
	refresher := app.NewProfileRefresher(scores, eligibility, logger)

	service := app.NewService(repository, refresher, sender, messages, events, logger)
	machine := chat.NewMachine(repository, service, refresher, sender, messages, logger)
	service.SetVerificationPrompter(machine)
	gateway := chat.NewGateway(machine, sender, limiter, logger)

	jobs := app.NewJobs(repository, refresher, cfg.ScoreRefreshConcurrency, logger)
	scheduler := app.NewScheduler(jobs, cfg.ScoreRefreshSchedule, logger)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer func() {
		<-scheduler.Stop().Done()
		logger.Info("scheduler stopped gracefully")
	}()

	router := api.NewRouter(api.NewHandlers(service, gateway, logger), cfg.AllowedOrigins())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if brokerConnected {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("inbound chat consumer unavailable; broker messages will not be read", "error", err)
		} else {
			defer consumer.Close()
			g.Go(func() error {
				logger.Info("consuming inbound chat messages", "exchange", cfg.EventsExchange, "queue", cfg.InboundMessageQueue)
				if err := consumer.ConsumeWithBindings(gctx, cfg.EventsExchange, cfg.InboundMessageQueue, gateway.BrokerHandlers(gctx)); err != nil {
					logger.Error("inbound chat consumer stopped", "error", err)
				}
				return nil
			})
		}
	}

	if telegramClient != nil {
		g.Go(func() error {
			telegramClient.Run(gctx, gateway.OnTelegram)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// newPublisher connects the event producer. Without a reachable broker, events are dropped
// with a warning and the second result is false.
func newPublisher(cfg config.Config, logger *slog.Logger) (rabbitmq.Publisher, bool) {
	fallback := &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set; events and broker chat transport disabled")
		return fallback, false
	}
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable; events and broker chat transport disabled", "error", err)
		return fallback, false
	}
	logger.Info("rabbitmq producer connected")
	return producer, true
}

func newTelegramClient(cfg config.Config, logger *slog.Logger) *telegram.Client {
	if cfg.TelegramBotToken == "" {
		return nil
	}
	client, err := telegram.NewClient(cfg.TelegramBotToken, logger)
	if err != nil {
		logger.Warn("telegram transport disabled", "error", err)
		return nil
	}
	return client
}

// newOutboundSender routes Telegram addresses to the bot and everything else to the broker
// gateway. Missing transports log instead of delivering.
func newOutboundSender(cfg config.Config, publisher rabbitmq.Publisher, brokerConnected bool, telegramClient *telegram.Client, logger *slog.Logger) messaging.Sender {
	var tg, gw messaging.Sender
	if telegramClient != nil {
		tg = telegramClient
	}
	if brokerConnected {
		gw = messaging.BrokerSender{Publisher: publisher, Exchange: cfg.EventsExchange}
	}
	return messaging.NewRouter(tg, gw, logger)
}

// newRateLimiter connects Redis for inbound rate limiting. The limiter is nil, and inbound
// messages are not limited, when Redis is not configured or unreachable.
func newRateLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (chat.InboundLimiter, func()) {
	noop := func() {}
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; inbound rate limiting disabled", "env", "REDIS_URL")
		return nil, noop
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; inbound rate limiting disabled", "error", err)
		return nil, noop
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; inbound rate limiting disabled", "error", err)
		client.Close()
		return nil, noop
	}
	logger.Info("redis connected")
	limiter := chat.NewRedisLimiter(client, cfg.RedisRateLimitPrefix, cfg.InboundRateLimitPerMinute, time.Minute)
	return limiter, func() { client.Close() }
}
