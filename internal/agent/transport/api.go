package transport

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/activtrack/telemetry/internal/domain"

	"github.com/avast/retry-go/v5"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// API — pull-канал агента: стартовая конфигурация и список запрещённых
// приложений забираются по HTTP до установления websocket-сессии.
type API struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewAPI(baseURL string, logger *zap.Logger) *API {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)

	return &API{
		http:   client,
		logger: logger.Named("api"),
	}
}

// AgentConfig забирает конфигурацию трекинга. Любой сбой — сеть, 500-ка,
// битый ответ — возвращает безопасные дефолты: агент обязан начать работу
// даже при недоступном сервере.
func (a *API) AgentConfig(ctx context.Context, userID, orgID int64) domain.AgentConfig {
	var cfg domain.AgentConfig

	err := a.pull(ctx, "/api/agent-config", map[string]string{
		"userId":         strconv.FormatInt(userID, 10),
		"organizationId": strconv.FormatInt(orgID, 10),
	}, &cfg)
	if err != nil {
		a.logger.Warn("agent config pull failed, using defaults", zap.Error(err))
		return domain.DefaultAgentConfig()
	}

	// Сервер мог прислать нули — нормализуем до рабочих значений
	if cfg.SampleIntervalSeconds <= 0 || cfg.IdleThresholdSeconds <= 0 {
		a.logger.Warn("agent config incomplete, using defaults")
		return domain.DefaultAgentConfig()
	}
	return cfg
}

// RestrictedApps забирает действующие правила ограничений. Сбой не
// фатален: вызывающий стартует с пустым списком и дождётся push-а.
func (a *API) RestrictedApps(ctx context.Context, teamID, orgID int64) ([]domain.RestrictedApp, error) {
	params := map[string]string{}
	if teamID > 0 {
		params["teamId"] = strconv.FormatInt(teamID, 10)
	}
	if orgID > 0 {
		params["organizationId"] = strconv.FormatInt(orgID, 10)
	}

	var apps []domain.RestrictedApp
	if err := a.pull(ctx, "/api/restricted-apps", params, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// Probe — быстрая проверка достижимости сервера, без ретраев.
func (a *API) Probe(ctx context.Context) error {
	resp, err := a.http.R().SetContext(ctx).Get("/api/ping")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("ping: status %d", resp.StatusCode())
	}
	return nil
}

func (a *API) pull(ctx context.Context, path string, params map[string]string, out any) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
	)

	return r.Do(func() error {
		resp, err := a.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(out).
			Get(path)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("%s: status %d", path, resp.StatusCode())
		}
		return nil
	})
}
