package hub

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/activtrack/telemetry/internal/domain"
	"github.com/activtrack/telemetry/internal/journal"
	"github.com/activtrack/telemetry/internal/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store — абстрактное хранилище доменных записей. Создание записи
// всегда предшествует broadcast: наружу уходит полная запись с
// присвоенным идентификатором.
type Store interface {
	CreateActivity(ctx context.Context, a *domain.ActivityRecord) (int64, error)
	CreateScreenshot(ctx context.Context, s *domain.Screenshot) (int64, error)
	CreateAlert(ctx context.Context, a *domain.AlertNotification) (int64, error)
	CreateStatus(ctx context.Context, s *domain.AgentStatus) (int64, error)
}

// Presence — приёмник флага присутствия пользователя.
type Presence interface {
	SetPresence(ctx context.Context, userID int64, online bool) error
}

// BlobStore складывает байты скриншота и возвращает путь для базы.
type BlobStore interface {
	SaveScreenshot(userID int64, takenAt time.Time, display int, data []byte) (string, error)
}

// Router валидирует, персистит и разносит входящие события агентов.
// Ошибки никогда не уходят обратно пиру: невалидное сообщение не
// получает error-реплики, соединение остаётся открытым.
type Router struct {
	reg      *Registry
	store    Store
	presence Presence
	blobs    BlobStore
	journal  *journal.Journal
	logger   *zap.Logger
	metrics  *Metrics
}

func NewRouter(reg *Registry, store Store, presence Presence, blobs BlobStore, jrnl *journal.Journal, logger *zap.Logger, metrics *Metrics) *Router {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Router{
		reg:      reg,
		store:    store,
		presence: presence,
		blobs:    blobs,
		journal:  jrnl,
		logger:   logger.Named("router"),
		metrics:  metrics,
	}
}

// Handle обрабатывает один кадр соединения c до конца:
// validate → persist → broadcast. Кадры разных соединений
// перемежаются произвольно, внутри одного — строго по порядку.
func (rt *Router) Handle(ctx context.Context, c *Conn, raw []byte) {
	if !c.limiter.Allow() {
		rt.metrics.EventsRejected.WithLabelValues("unknown", "rate_limit").Inc()
		rt.logger.Warn("inbound frame dropped: rate limit", zap.String("conn_id", c.ID))
		return
	}

	env, err := protocol.Decode(raw)
	if err != nil {
		rt.reject(c, "unknown", "validation", err)
		return
	}

	// Всё, что агент отрапортовал, попадает в журнал — независимо
	// от дальнейшей судьбы доменной записи
	if rt.journal != nil {
		rt.journal.Record(journal.Entry{
			ID:         uuid.New().String(),
			ConnID:     c.ID,
			UserID:     c.Scope.UserID,
			Event:      env.Event,
			Payload:    append([]byte(nil), env.Data...),
			ReceivedAt: time.Now(),
		})
	}

	switch env.Event {
	case protocol.EventActivityUpdate:
		rt.handleActivity(ctx, c, env)
	case protocol.EventScreenshot:
		rt.handleScreenshot(ctx, c, env)
	case protocol.EventAlert:
		rt.handleAlert(ctx, c, env)
	case protocol.EventAgentStatus:
		rt.handleStatus(ctx, c, env)
	case protocol.EventAgentConnected:
		// Приветственный кадр агента: полезен только логам
		rt.logger.Info("agent connected",
			zap.String("conn_id", c.ID),
			zap.Int64("user_id", c.Scope.UserID))
	default:
		rt.reject(c, env.Event, "validation", nil)
	}
}

func (rt *Router) handleActivity(ctx context.Context, c *Conn, env *protocol.Envelope) {
	rec, err := protocol.DecodeActivity(env.Data)
	if err != nil {
		rt.reject(c, env.Event, "validation", err)
		return
	}

	id, err := rt.store.CreateActivity(ctx, rec)
	if err != nil {
		rt.reject(c, env.Event, "storage", err)
		return
	}
	rec.ID = id

	rt.metrics.EventsIngested.WithLabelValues(env.Event).Inc()
	rt.fanout(protocol.EventNewActivity, rec, c)
}

func (rt *Router) handleScreenshot(ctx context.Context, c *Conn, env *protocol.Envelope) {
	shot, err := protocol.DecodeScreenshot(env.Data)
	if err != nil {
		rt.reject(c, env.Event, "validation", err)
		return
	}

	img, err := base64.StdEncoding.DecodeString(shot.ImageData)
	if err != nil {
		rt.reject(c, env.Event, "validation", err)
		return
	}

	path, err := rt.blobs.SaveScreenshot(shot.UserID, shot.Timestamp, shot.Display, img)
	if err != nil {
		rt.reject(c, env.Event, "storage", err)
		return
	}
	shot.FilePath = path
	shot.ImageData = "" // наружу и в базу изображение не дублируется

	id, err := rt.store.CreateScreenshot(ctx, shot)
	if err != nil {
		rt.reject(c, env.Event, "storage", err)
		return
	}
	shot.ID = id

	// Синтетическая нулевая запись активности: таймлайн остаётся
	// полным аудитом всего, что агент отрапортовал
	rt.recordSynthetic(ctx, shot.UserID, shot.TeamID, shot.Timestamp, domain.CategoryScreenshot, "")

	rt.metrics.EventsIngested.WithLabelValues(env.Event).Inc()
	rt.fanout(protocol.EventNewScreenshot, shot, c)
}

func (rt *Router) handleAlert(ctx context.Context, c *Conn, env *protocol.Envelope) {
	alert, err := protocol.DecodeAlert(env.Data)
	if err != nil {
		rt.reject(c, env.Event, "validation", err)
		return
	}

	id, err := rt.store.CreateAlert(ctx, alert)
	if err != nil {
		rt.reject(c, env.Event, "storage", err)
		return
	}
	alert.ID = id

	rt.recordSynthetic(ctx, alert.UserID, alert.TeamID, alert.Timestamp, domain.CategoryAlert, alert.Application)

	rt.metrics.EventsIngested.WithLabelValues(env.Event).Inc()
	rt.fanout(protocol.EventNewAlert, alert, c)
}

func (rt *Router) handleStatus(ctx context.Context, c *Conn, env *protocol.Envelope) {
	st, err := protocol.DecodeStatus(env.Data)
	if err != nil {
		rt.reject(c, env.Event, "validation", err)
		return
	}

	// Presence обновляется независимо от успеха персистентности
	if rt.presence != nil {
		if err := rt.presence.SetPresence(ctx, st.UserID, st.IsConnected); err != nil {
			rt.logger.Warn("presence side effect failed", zap.Error(err))
		}
	}

	id, err := rt.store.CreateStatus(ctx, st)
	if err != nil {
		rt.reject(c, env.Event, "storage", err)
		return
	}
	st.ID = id

	rt.metrics.EventsIngested.WithLabelValues(env.Event).Inc()
	rt.fanout(protocol.EventAgentStatusUpdate, st, c)
}

// fanout сериализует кадр один раз и разносит его в team- и org-бакеты
// соединения-источника. В user-бакет отправителя кадр не идёт никогда:
// агент не должен получать эхо собственного события, аудитория
// рассылки — наблюдатели дашбордов.
func (rt *Router) fanout(event string, payload any, origin *Conn) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		rt.logger.Error("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}

	if teamID := origin.Scope.TeamID; teamID > 0 {
		n := rt.reg.Broadcast(domain.ScopeTeam, teamID, frame, origin)
		rt.metrics.BroadcastsSent.WithLabelValues(event, string(domain.ScopeTeam)).Add(float64(n))
	}
	if orgID := origin.Scope.OrganizationID; orgID > 0 {
		n := rt.reg.Broadcast(domain.ScopeOrganization, orgID, frame, origin)
		rt.metrics.BroadcastsSent.WithLabelValues(event, string(domain.ScopeOrganization)).Add(float64(n))
	}
}

// recordSynthetic персистит нулевую по длительности запись активности
// для screenshot/alert событий. Сбой здесь не валит основной путь.
func (rt *Router) recordSynthetic(ctx context.Context, userID, teamID int64, at time.Time, category, application string) {
	if application == "" {
		application = category
	}
	rec := &domain.ActivityRecord{
		UserID:      userID,
		TeamID:      teamID,
		StartTime:   at,
		EndTime:     at,
		Duration:    0,
		Application: application,
		Category:    category,
		IsActive:    true,
	}
	if _, err := rt.store.CreateActivity(ctx, rec); err != nil {
		rt.logger.Warn("synthetic activity not persisted",
			zap.String("category", category),
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

func (rt *Router) reject(c *Conn, event, reason string, err error) {
	rt.metrics.EventsRejected.WithLabelValues(event, reason).Inc()
	rt.logger.Warn("inbound event rejected",
		zap.String("conn_id", c.ID),
		zap.String("event", event),
		zap.String("reason", reason),
		zap.Error(err))
}
