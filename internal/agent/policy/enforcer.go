package policy

import (
	"sync"
	"time"

	"github.com/activtrack/telemetry/internal/domain"

	"go.uber.org/zap"
)

// Notifier показывает пользователю системное уведомление.
type Notifier interface {
	ShowNotification(title, message string) error
}

// Terminator завершает процесс по имени.
type Terminator interface {
	TerminateProcess(name string) error
}

// AlertEmitter отправляет уведомление о нарушении на сервер
// (реализуется транспортным клиентом).
type AlertEmitter interface {
	EmitAlert(a *domain.AlertNotification)
}

// episode — один непрерывный эпизод наблюдения запрещённого приложения
// на переднем плане.
type episode struct {
	firstSeen time.Time
	alerted   bool
}

// Enforcer следит за запрещёнными приложениями. Список правил
// обновляется с сервера (pull при старте, push по websocket) и
// потребляется строго read-only.
type Enforcer struct {
	platform string
	scope    domain.Scope
	notify   Notifier
	term     Terminator
	emit     AlertEmitter
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	apps     []domain.RestrictedApp
	episodes map[int64]*episode // ключ — ID правила
}

func NewEnforcer(platform string, scope domain.Scope, notify Notifier, term Terminator, emit AlertEmitter, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		platform: platform,
		scope:    scope,
		notify:   notify,
		term:     term,
		emit:     emit,
		logger:   logger.Named("policy"),
		now:      time.Now,
		episodes: make(map[int64]*episode),
	}
}

// UpdatePolicy заменяет список правил. Текущие эпизоды сбрасываются:
// новая редакция политики оценивается с чистого листа.
func (e *Enforcer) UpdatePolicy(apps []domain.RestrictedApp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apps = apps
	e.episodes = make(map[int64]*episode)
	e.logger.Info("policy updated", zap.Int("rules", len(apps)))
}

// CheckRestriction возвращает первое правило, накрывающее приложение
// appName на платформе агента. Отсутствие совпадения — тишина, nil.
func (e *Enforcer) CheckRestriction(appName string) *domain.RestrictedApp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matchLocked(appName)
}

func (e *Enforcer) matchLocked(appName string) *domain.RestrictedApp {
	if appName == "" {
		return nil
	}
	for i := range e.apps {
		if e.apps[i].Matches(appName, e.platform) {
			return &e.apps[i]
		}
	}
	return nil
}

// Enforce — боковой путь одного тика трекинга: сверяет переднее
// приложение с политикой и реагирует. Уведомление о нарушении
// создаётся ровно один раз на эпизод.
func (e *Enforcer) Enforce(appName, website, title string) {
	e.mu.Lock()
	rule := e.matchLocked(appName)

	// Эпизоды правил, не совпавших на этом тике, закрываются:
	// уход приложения с переднего плана обнуляет его таймер
	for id := range e.episodes {
		if rule == nil || id != rule.ID {
			delete(e.episodes, id)
		}
	}

	if rule == nil {
		e.mu.Unlock()
		return
	}

	ep, seen := e.episodes[rule.ID]
	if !seen {
		ep = &episode{firstSeen: e.now()}
		e.episodes[rule.ID] = ep
	}
	now := e.now()
	threshold := time.Duration(rule.AlertThresholdMinutes) * time.Minute
	ruleCopy := *rule
	firstDetection := !ep.alerted
	ep.alerted = true
	dueForClose := ruleCopy.CloseAfterAlert &&
		(threshold == 0 || now.Sub(ep.firstSeen) >= threshold)
	e.mu.Unlock()

	if firstDetection {
		e.raiseAlert(&ruleCopy, appName, website, title, dueForClose)
		return
	}

	// Отложенное завершение по порогу: уведомление уже ушло,
	// здесь только гасим процесс
	if dueForClose {
		e.terminate(&ruleCopy, appName)
		e.mu.Lock()
		delete(e.episodes, ruleCopy.ID)
		e.mu.Unlock()
	}
}

// raiseAlert собирает уведомление, показывает его пользователю и,
// если правило требует немедленного закрытия, пытается завершить
// процесс ДО отправки: успех поднимает actionTaken до closed.
// Уведомление уходит на сервер при любом исходе завершения.
func (e *Enforcer) raiseAlert(rule *domain.RestrictedApp, appName, website, title string, closeNow bool) {
	message := rule.AlertMessage
	if message == "" {
		message = "Application " + rule.Name + " is restricted by your organization policy"
	}

	alert := &domain.AlertNotification{
		UserID:      e.scope.UserID,
		TeamID:      e.scope.TeamID,
		Timestamp:   e.now(),
		Application: appName,
		Website:     website,
		Title:       title,
		Message:     message,
		ActionTaken: domain.ActionNotified,
	}

	if err := e.notify.ShowNotification("ActivTrack", message); err != nil {
		e.logger.Warn("notification failed", zap.Error(err))
	}

	if closeNow && e.terminate(rule, appName) {
		alert.ActionTaken = domain.ActionClosed
	}

	e.emit.EmitAlert(alert)
}

// terminate пытается завершить нарушающий процесс. Провал — локальный
// лог, не фатальная ошибка и не блокер доставки уведомления.
func (e *Enforcer) terminate(rule *domain.RestrictedApp, appName string) bool {
	target := appName
	if len(rule.ProcessNames) > 0 {
		target = rule.ProcessNames[0]
	}
	if err := e.term.TerminateProcess(target); err != nil {
		e.logger.Warn("terminate failed",
			zap.String("application", appName),
			zap.String("rule", rule.Name),
			zap.Error(err))
		return false
	}
	e.logger.Info("restricted application closed",
		zap.String("application", appName),
		zap.String("rule", rule.Name))
	return true
}
