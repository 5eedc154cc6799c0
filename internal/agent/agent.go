package agent

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/activtrack/telemetry/internal/agent/platform"
	"github.com/activtrack/telemetry/internal/agent/policy"
	"github.com/activtrack/telemetry/internal/agent/tracker"
	"github.com/activtrack/telemetry/internal/domain"

	"go.uber.org/zap"
)

// Heartbeat шлётся с фиксированным периодом независимо от настроек
// трекинга: по нему сервер судит о живости агента.
const statusInterval = 5 * time.Minute

// Uplink — срез транспорта, нужный супервизору таймеров.
// Записи активности движок отдаёт транспорту сам, через tracker.Emitter.
type Uplink interface {
	EmitScreenshot(shot *domain.Screenshot)
	EmitStatus(st *domain.AgentStatus)
}

// Agent — супервизор трёх независимых таймеров: замеры активности,
// скриншоты и heartbeat. Каждый таймер живёт в своей горутине;
// состоянием движка сегментации владеет только колбэк активности,
// скриншотный и статусный колбэки его не мутируют.
type Agent struct {
	version  string
	scope    domain.Scope
	caps     platform.Capabilities
	enforcer *policy.Enforcer
	activity tracker.Emitter
	uplink   Uplink
	logger   *zap.Logger

	mu      sync.Mutex
	cfg     domain.AgentConfig
	engine  *tracker.Engine
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(version string, scope domain.Scope, caps platform.Capabilities, enforcer *policy.Enforcer, activity tracker.Emitter, uplink Uplink, cfg domain.AgentConfig, logger *zap.Logger) *Agent {
	return &Agent{
		version:  version,
		scope:    scope,
		caps:     caps,
		enforcer: enforcer,
		activity: activity,
		uplink:   uplink,
		cfg:      cfg,
		logger:   logger.Named("agent"),
	}
}

// Start запускает таймеры. Повторный вызов на работающем агенте — no-op.
func (a *Agent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startLocked()
}

func (a *Agent) startLocked() {
	if a.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running = true

	// Движок пересоздаётся на каждый запуск: Stop закрывает его навсегда
	eng := tracker.NewEngine(a.scope, time.Duration(a.cfg.IdleThresholdSeconds)*time.Second, a.caps, a.activity, a.logger)
	a.engine = eng

	a.logger.Info("agent started",
		zap.String("platform", a.caps.Name()),
		zap.Bool("tracking", a.cfg.TrackingEnabled),
		zap.Bool("screenshots", a.cfg.ScreenshotsEnabled))

	a.emitStatus(eng, true, true)

	a.wg.Add(2)
	go a.activityLoop(ctx, eng, time.Duration(a.cfg.SampleIntervalSeconds)*time.Second, a.cfg.TrackingEnabled)
	go a.statusLoop(ctx, eng)

	if a.cfg.ScreenshotsEnabled {
		a.wg.Add(1)
		go a.screenshotLoop(ctx, time.Duration(a.cfg.ScreenshotIntervalMin)*time.Minute)
	}
}

// Stop гасит таймеры, закрывает хвостовую запись активности и шлёт
// финальный статус. Идемпотентен.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Agent) stopLocked() {
	if !a.running {
		return
	}
	a.running = false

	a.cancel()
	a.wg.Wait()

	// Финальный flush открытой записи — внутри Stop, не более одного раза
	a.engine.Stop()
	a.emitStatus(a.engine, false, false)
	a.logger.Info("agent stopped")
}

// Restart — атомарная пересборка под новую конфигурацию: таймеры
// гасятся, хвост активности закрывается, движок и таймеры поднимаются
// заново.
func (a *Agent) Restart(cfg domain.AgentConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()
	a.cfg = cfg
	a.startLocked()
}

// ApplyConfig реагирует на config_update с сервера. Смена одного лишь
// порога простоя применяется на лету; смена интервалов и переключателей
// требует пересборки таймеров.
func (a *Agent) ApplyConfig(cfg domain.AgentConfig) {
	a.mu.Lock()

	if !a.running {
		a.cfg = cfg
		a.mu.Unlock()
		return
	}

	old := a.cfg
	if old.TrackingEnabled == cfg.TrackingEnabled &&
		old.ScreenshotsEnabled == cfg.ScreenshotsEnabled &&
		old.SampleIntervalSeconds == cfg.SampleIntervalSeconds &&
		old.ScreenshotIntervalMin == cfg.ScreenshotIntervalMin {
		a.cfg = cfg
		a.engine.SetIdleThreshold(time.Duration(cfg.IdleThresholdSeconds) * time.Second)
		a.mu.Unlock()
		return
	}

	a.stopLocked()
	a.cfg = cfg
	a.startLocked()
	a.mu.Unlock()
}

// activityLoop — единственный владелец состояния движка сегментации.
// На том же тике прогоняется проверка политики: замер уже есть,
// второй поход к ОС не нужен.
func (a *Agent) activityLoop(ctx context.Context, eng *tracker.Engine, every time.Duration, tracking bool) {
	defer a.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var s platform.Sample
		if tracking {
			var ok bool
			if s, ok = eng.Sample(); !ok {
				continue
			}
		} else {
			// Трекинг выключен — замер только для политики
			var err error
			if s, err = a.caps.SampleForeground(); err != nil {
				continue
			}
		}

		a.enforcer.Enforce(s.Application, tracker.Website(s.Application, s.Title), s.Title)
	}
}

func (a *Agent) screenshotLoop(ctx context.Context, every time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		a.captureScreens()
	}
}

func (a *Agent) captureScreens() {
	frames, err := a.caps.CaptureDisplays()
	if err != nil {
		a.logger.Warn("screen capture failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, f := range frames {
		a.uplink.EmitScreenshot(&domain.Screenshot{
			UserID:    a.scope.UserID,
			TeamID:    a.scope.TeamID,
			Timestamp: now,
			Display:   f.Display,
			ImageData: base64.StdEncoding.EncodeToString(f.PNG),
		})
	}
}

func (a *Agent) statusLoop(ctx context.Context, eng *tracker.Engine) {
	defer a.wg.Done()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		a.emitStatus(eng, true, true)
	}
}

// emitStatus собирает и шлёт heartbeat. Ошибки чтения ресурсов не
// фатальны: статус уходит с нулями.
func (a *Agent) emitStatus(eng *tracker.Engine, running, connected bool) {
	usage, err := a.caps.ReadResourceUsage()
	if err != nil {
		a.logger.Debug("resource usage read failed", zap.Error(err))
	}

	a.uplink.EmitStatus(&domain.AgentStatus{
		UserID:           a.scope.UserID,
		TeamID:           a.scope.TeamID,
		Timestamp:        time.Now(),
		Version:          a.version,
		Platform:         a.caps.Name(),
		IsRunning:        running,
		IsConnected:      connected,
		LastActivityTime: eng.LastActivityTime(),
		CPUUsage:         usage.CPUPercent,
		MemoryUsage:      usage.MemoryPercent,
		DiskSpaceFree:    usage.DiskFreePercent,
	})
}
