package tracker

import (
	"sync"
	"time"

	"github.com/activtrack/telemetry/internal/agent/platform"
	"github.com/activtrack/telemetry/internal/domain"

	"go.uber.org/zap"
)

// Sampler — срез возможностей платформы, нужный движку.
type Sampler interface {
	SampleForeground() (platform.Sample, error)
}

// Emitter принимает закрытые записи активности (реализуется
// транспортным клиентом).
type Emitter interface {
	EmitActivity(rec *domain.ActivityRecord)
}

// Engine превращает непрерывные замеры окружения в дискретные,
// непересекающиеся записи активности.
//
// Машина состояний: {NoActivity, OpenActivity}. Первый замер открывает
// запись; замер с тем же приложением и сайтом освежает её на месте;
// смена приложения ЛИБО сайта закрывает старую и открывает новую той
// же меткой времени; Stop закрывает хвост. Смена одного лишь заголовка
// границу не создаёт — заголовок освежается в открытой записи.
//
// Скриншоты и алерты границу активности не трогают: состоянием движка
// владеет только колбэк activity-таймера, остальные таймеры его не
// мутируют.
type Engine struct {
	scope         domain.Scope
	idleThreshold time.Duration
	sampler       Sampler
	emitter       Emitter
	logger        *zap.Logger
	now           func() time.Time

	mu         sync.Mutex
	open       *domain.ActivityRecord
	lastActive time.Time
	stopped    bool
}

func NewEngine(scope domain.Scope, idleThreshold time.Duration, sampler Sampler, emitter Emitter, logger *zap.Logger) *Engine {
	return &Engine{
		scope:         scope,
		idleThreshold: idleThreshold,
		sampler:       sampler,
		emitter:       emitter,
		logger:        logger.Named("tracker"),
		now:           time.Now,
	}
}

// SetIdleThreshold применяет новое значение порога простоя
// (конфигурация могла обновиться с сервера).
func (e *Engine) SetIdleThreshold(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idleThreshold = d
}

// Sample — один тик трекинга. Возвращает замер (для бокового пути
// политики) и признак успеха.
func (e *Engine) Sample() (platform.Sample, bool) {
	s, err := e.sampler.SampleForeground()
	if err != nil {
		e.logger.Debug("foreground sample failed", zap.Error(err))
		return platform.Sample{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return s, false
	}

	now := e.now()
	website := Website(s.Application, s.Title)
	active := int64(s.IdleSeconds) <= int64(e.idleThreshold/time.Second)
	if active {
		// lastActive двигается только пока пользователь не простаивает
		e.lastActive = now
	}

	switch {
	case e.open == nil:
		e.openRecord(now, s, website, active)

	case e.open.Application != s.Application || e.open.Website != website:
		// Граница: закрыть старую, открыть новую той же меткой времени
		e.closeRecord(now)
		e.openRecord(now, s, website, active)

	default:
		// Та же активность: заголовок и флаги освежаются на месте
		e.open.Title = s.Title
		e.open.IsActive = active
		e.open.Category = Classify(s.Application, website, s.Title)
	}

	return s, true
}

// Stop принудительно закрывает открытую запись. Идемпотентен:
// повторный вызов — no-op, финальный flush происходит не более
// одного раза.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	if e.open != nil {
		e.closeRecord(e.now())
	}
}

// LastActivityTime — для heartbeat-статуса.
func (e *Engine) LastActivityTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActive
}

func (e *Engine) openRecord(now time.Time, s platform.Sample, website string, active bool) {
	e.open = &domain.ActivityRecord{
		UserID:      e.scope.UserID,
		TeamID:      e.scope.TeamID,
		StartTime:   now,
		Application: s.Application,
		Website:     website,
		Title:       s.Title,
		Category:    Classify(s.Application, website, s.Title),
		IsActive:    active,
	}
}

// closeRecord фиксирует границу и отдаёт запись транспорту.
// Вызывается под e.mu.
func (e *Engine) closeRecord(now time.Time) {
	rec := e.open
	e.open = nil

	rec.EndTime = now
	rec.ComputeDuration()

	e.logger.Debug("activity closed",
		zap.String("application", rec.Application),
		zap.String("website", rec.Website),
		zap.Int64("duration", rec.Duration))
	e.emitter.EmitActivity(rec)
}
