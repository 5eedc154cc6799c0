package server

import (
	"context"
	"net/http"
	"time"

	"github.com/activtrack/telemetry/internal/domain"
	"github.com/activtrack/telemetry/internal/hub"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ConfigStore — read-only контракты хранилища для pull-эндпоинтов агента.
type ConfigStore interface {
	GetAgentConfig(ctx context.Context, userID, orgID int64) (domain.AgentConfig, error)
	ListRestrictedApps(ctx context.Context, teamID, orgID int64) ([]domain.RestrictedApp, error)
}

// TelemetryServer — HTTP/WebSocket поверхность сервиса телеметрии.
type TelemetryServer struct {
	router *chi.Mux
	logger *zap.Logger

	registry *hub.Registry
	events   *hub.Router
	store    ConfigStore

	gatherer prometheus.Gatherer
}

// NewTelemetryServer инициализирует поверхность со всеми зависимостями.
func NewTelemetryServer(
	registry *hub.Registry,
	events *hub.Router,
	store ConfigStore,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *TelemetryServer {
	s := &TelemetryServer{
		router:   chi.NewRouter(),
		logger:   logger.Named("telemetry-api"),
		registry: registry,
		events:   events,
		store:    store,
		gatherer: gatherer,
	}

	s.routes()
	return s
}

func (s *TelemetryServer) routes() {
	r := s.router

	// Глобальные инфраструктурные Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	// Постоянные соединения (агенты и наблюдатели дашбордов)
	r.Get("/ws", s.handleWS)

	// Pull-эндпоинты агента
	r.Route("/api", func(r chi.Router) {
		r.Get("/agent-config", s.handleAgentConfig)
		r.Get("/restricted-apps", s.handleRestrictedApps)
		// Проба достижимости: короткий таймаут на стороне агента,
		// никаких побочных эффектов здесь
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	// Observability
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// ServeHTTP позволяет использовать TelemetryServer как стандартный http.Handler.
func (s *TelemetryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger пишет access-строку на каждый запрос. Уровень Debug:
// на проде шум отсекается конфигурацией логгера, не кодом.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)))
		})
	}
}
