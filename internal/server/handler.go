package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/activtrack/telemetry/internal/domain"
	"github.com/activtrack/telemetry/internal/hub"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Наблюдатели дашбордов приходят с произвольных origin —
	// доступом управляет внешний слой
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS устанавливает постоянное соединение. Identity scope
// разбирается из query-параметров; каждый параметр опционален,
// отсутствие означает «не член этого измерения».
func (s *TelemetryServer) handleWS(w http.ResponseWriter, r *http.Request) {
	scope, err := parseScope(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// Блокируется до закрытия соединения; разрегистрация — внутри
	hub.Serve(r.Context(), sock, scope, s.registry, s.events, s.logger)
}

func parseScope(r *http.Request) (domain.Scope, error) {
	var scope domain.Scope
	var err error
	if scope.UserID, err = queryID(r, "userId"); err != nil {
		return domain.Scope{}, err
	}
	if scope.TeamID, err = queryID(r, "teamId"); err != nil {
		return domain.Scope{}, err
	}
	if scope.OrganizationID, err = queryID(r, "organizationId"); err != nil {
		return domain.Scope{}, err
	}
	return scope, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &badParamError{name: name}
	}
	return id, nil
}

type badParamError struct{ name string }

func (e *badParamError) Error() string { return e.name + " must be a positive integer" }

// handleAgentConfig отдаёт рабочую конфигурацию агента по userId либо
// organizationId. Промах в хранилище — безопасные дефолты, не ошибка.
func (s *TelemetryServer) handleAgentConfig(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "userId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	orgID, err := queryID(r, "organizationId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := s.store.GetAgentConfig(r.Context(), userID, orgID)
	if err != nil {
		s.logger.Error("agent config lookup failed", zap.Error(err))
		// Агент не должен гаснуть из-за нашей базы
		cfg = domain.DefaultAgentConfig()
	}
	writeJSON(w, s.logger, cfg)
}

// handleRestrictedApps отдаёт список правил политики по teamId либо
// organizationId.
func (s *TelemetryServer) handleRestrictedApps(w http.ResponseWriter, r *http.Request) {
	teamID, err := queryID(r, "teamId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	orgID, err := queryID(r, "organizationId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if teamID == 0 && orgID == 0 {
		http.Error(w, "teamId or organizationId is required", http.StatusBadRequest)
		return
	}

	apps, err := s.store.ListRestrictedApps(r.Context(), teamID, orgID)
	if err != nil {
		s.logger.Error("restricted apps lookup failed", zap.Error(err))
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	if apps == nil {
		apps = []domain.RestrictedApp{}
	}
	writeJSON(w, s.logger, apps)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("response encode failed", zap.Error(err))
	}
}
