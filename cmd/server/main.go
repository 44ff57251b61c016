package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edwork/tutorhub/internal/app"
	"github.com/edwork/tutorhub/internal/config"
	internalhttp "github.com/edwork/tutorhub/internal/controller/http"
	"github.com/edwork/tutorhub/internal/controller/telegram"
	"github.com/edwork/tutorhub/internal/repository"
	"github.com/edwork/tutorhub/internal/service"
	"github.com/edwork/tutorhub/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	// Миграции применяются на старте
	migrator, err := app.NewMigrator(pool, cfg.MigrationsPath)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("Failed to close migrator", zap.Error(err))
	}

	// Redis опционален: без него межпроцессную гонку создания чатов
	// ловит только уникальный индекс
	var locker service.Locker
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("Failed to ping redis", zap.Error(err))
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}()

		locker = service.NewRedisLocker(redisClient)
		logger.Info("Redis lock enabled", zap.String("addr", cfg.RedisAddr))
	}

	// Хаб живых запросов
	hub := watch.NewHub(pool, logger)
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Watch hub stopped", zap.Error(err))
		}
	}()

	// Репозитории
	userRepo := repository.NewUserRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)
	assignmentRepo := repository.NewAssignmentRepository(pool)

	// Сервисы
	identityService := service.NewIdentityService(userRepo, messageRepo, logger)

	var deliverer service.Deliverer
	if cfg.TelegramToken != "" {
		notifier, err := telegram.NewNotifier(cfg.TelegramToken, userRepo, identityService, logger)
		if err != nil {
			logger.Fatal("Failed to create telegram notifier", zap.Error(err))
		}
		deliverer = notifier
		logger.Info("Telegram delivery enabled")
	}

	notificationService := service.NewNotificationService(notificationRepo, identityService, hub, deliverer, logger)
	chatService := service.NewChatService(conversationRepo, messageRepo, identityService, notificationService, locker, logger)
	inboxService := service.NewInboxService(conversationRepo, assignmentRepo, userRepo, identityService, chatService, hub, logger)
	assignmentService := service.NewAssignmentService(assignmentRepo, userRepo, identityService, chatService, notificationService, logger)

	// Фоновый бэкфилл чатов для назначений
	worker := app.NewBackfillWorker(assignmentService, cfg.BackfillInterval, logger)
	worker.Start(ctx)
	defer worker.Stop()

	// HTTP сервер
	server := internalhttp.NewServer(chatService, inboxService, notificationService, assignmentService, cfg.JWTSecret, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting tutorhub server",
		zap.String("environment", cfg.Environment),
		zap.String("addr", cfg.HTTPAddr),
	)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server stopped")
}
