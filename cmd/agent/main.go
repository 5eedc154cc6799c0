package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/activtrack/telemetry/internal/agent"
	"github.com/activtrack/telemetry/internal/agent/platform"
	"github.com/activtrack/telemetry/internal/agent/policy"
	"github.com/activtrack/telemetry/internal/agent/transport"
	"github.com/activtrack/telemetry/internal/domain"
	"github.com/activtrack/telemetry/internal/infra"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const version = "1.2.0"

func main() {
	// .env удобен при локальной отладке; в проде агент живет на ENV
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Agent.UserID <= 0 {
		log.Fatal("agent.user_id (or AGENT_USER_ID env) is required")
	}

	scope := domain.Scope{
		UserID:         cfg.Agent.UserID,
		TeamID:         cfg.Agent.TeamID,
		OrganizationID: cfg.Agent.OrganizationID,
	}

	caps := platform.New()
	api := transport.NewAPI(cfg.Agent.ServerURL, logger)

	ctx := context.Background()
	if err := api.Probe(ctx); err != nil {
		// Агент стартует и без сервера: конфигурация возьмётся из
		// дефолтов, события начнут уходить после переподключения
		logger.Warn("server unreachable at startup", zap.Error(err))
	}
	remoteCfg := api.AgentConfig(ctx, scope.UserID, scope.OrganizationID)

	// Клиент собирается раньше enforcer-а и супервизора, поэтому
	// push-обработчики замыкаются на ещё пустые указатели
	var (
		enf *policy.Enforcer
		app *agent.Agent
	)
	handlers := transport.Handlers{
		OnRestrictedApps: func(apps []domain.RestrictedApp) {
			if enf != nil {
				enf.UpdatePolicy(apps)
			}
		},
		OnConfigUpdate: func(c domain.AgentConfig) {
			if app != nil {
				app.ApplyConfig(c)
			}
		},
	}

	client, err := transport.NewClient(cfg.Agent.ServerURL, version, scope, caps.Name(), cfg.Agent.ReconnectEvery, handlers, logger)
	if err != nil {
		log.Fatalf("failed to init transport: %v", err)
	}

	enf = policy.NewEnforcer(caps.Name(), scope, caps, caps, client, logger)
	if apps, err := api.RestrictedApps(ctx, scope.TeamID, scope.OrganizationID); err != nil {
		logger.Warn("restricted apps pull failed, waiting for push", zap.Error(err))
	} else {
		enf.UpdatePolicy(apps)
	}

	app = agent.New(version, scope, caps, enf, client, client, remoteCfg, logger)

	runCtx, cancel := context.WithCancel(ctx)
	go client.Run(runCtx)
	app.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("agent shutting down")
	// Порядок важен: сначала финальный flush активности и прощальный
	// статус через ещё живое соединение, затем обрыв транспорта
	app.Stop()
	cancel()
	logger.Info("agent exited properly")
}
