package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/activtrack/telemetry/internal/hub"
	"github.com/activtrack/telemetry/internal/infra"
	"github.com/activtrack/telemetry/internal/journal"
	"github.com/activtrack/telemetry/internal/presence"
	"github.com/activtrack/telemetry/internal/repository/postgres"
	"github.com/activtrack/telemetry/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Database.URL == "" {
		log.Fatal("database.url (or DATABASE_URL env) is required")
	}

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	store := postgres.NewTelemetryRepo(cfg.Database.URL, cfg.Database.MaxConns)
	auditStorage := postgres.NewJournalRepo(cfg.Database.URL, cfg.Database.MinConns)

	blobs, err := server.NewDiskBlobStore(cfg.Server.UploadDir)
	if err != nil {
		log.Fatalf("failed to init upload dir: %v", err)
	}

	// Контекст жизненного цикла фоновых горутин: cancel() остановит
	// слушателя политик при завершении
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := hub.NewMetrics(reg)

	// 4. Сборка ядра: реестр соединений, журнал, маршрутизатор событий
	registry := hub.NewRegistry(logger, metrics)

	jrnl := journal.New(auditStorage, logger, cfg.Journal.BufferSize, cfg.Journal.FlushInterval, metrics.JournalFill)
	jrnl.Start()

	pres := presence.NewTracker(rdb, logger)
	events := hub.NewRouter(registry, store, pres, blobs, jrnl, logger, metrics)

	// Push обновлений политики: дашборд публикует сигнал в Redis,
	// агенты получают свежий список без переподключения
	go hub.ListenPolicyUpdates(appCtx, rdb, registry, store, logger)

	// 5. HTTP/WebSocket поверхность
	api := server.NewTelemetryServer(registry, events, store, reg, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("telemetry server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("telemetry server stopping")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Журнал гасится последним: дренаж буфера и финальный flush в базу
	cancel()
	jrnl.Stop()
	logger.Info("telemetry server exited properly")
}
