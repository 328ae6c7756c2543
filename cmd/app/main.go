package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskboard/internal/auth"
	"github.com/BuzzLyutic/taskboard/internal/config"
	"github.com/BuzzLyutic/taskboard/internal/handler"
	"github.com/BuzzLyutic/taskboard/internal/rank"
	"github.com/BuzzLyutic/taskboard/internal/repo"
	"github.com/BuzzLyutic/taskboard/internal/service"
	"github.com/BuzzLyutic/taskboard/internal/worker"
)

func main() {
	// Подключаем логгер
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Загрузка конфигурации
	cfg := config.Load()
	ctx := context.Background()

	var store repo.TaskRepository
	switch cfg.Store {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		store = repo.NewMemoryRepo()
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL) // Создаем новое соединение к БД
		if err != nil {
			logger.Fatal("Failed to connect to Database", zap.Error(err)) // Fatal потому что дальнейшая работа теряет смысл
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("Failed to ping the Database", zap.Error(err))
		}
		logger.Info("Successfully connected to the Database!")
		store = repo.NewTaskRepo(pool)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Без кэша работаем, просто медленнее
			logger.Warn("Redis unavailable, board cache disabled", zap.Error(err))
		} else {
			store = repo.NewCachedRepo(store, rdb, cfg.CacheTTL, logger)
			logger.Info("Board cache enabled", zap.Duration("ttl", cfg.CacheTTL))
		}
	}

	policy := rank.Default()
	policy.Gap = cfg.RankGap

	taskService := service.NewTaskService(store, auth.ClaimsProvider{},
		service.WithPolicy(policy),
		service.WithLogger(logger),
	)
	taskHandler := handler.NewTaskHandler(taskService, logger)
	r := handler.NewRouter(taskHandler, auth.NewVerifier([]byte(cfg.JWTSecret)))

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	compactor := worker.NewPool(taskService, logger, cfg.WorkerCount, cfg.CompactInterval, cfg.CompactBatch)
	if cfg.WorkerCount > 0 {
		compactor.Start(workerCtx)
	}

	srv := http.Server{ // Создаем сервер
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() { // Запуск сервера и обработка ошибок
		logger.Info("Server started", zap.String("addr", srv.Addr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	if cfg.WorkerCount > 0 {
		compactor.Stop()
	}
	logger.Info("Server stopped successfully!")
}
