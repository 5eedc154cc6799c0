package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/activtrack/telemetry/internal/domain"
	"github.com/activtrack/telemetry/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Handlers — реакции агента на push-события сервера.
type Handlers struct {
	OnRestrictedApps func(apps []domain.RestrictedApp)
	OnConfigUpdate   func(cfg domain.AgentConfig)
}

// Client держит постоянное соединение с сервером и доставляет события
// fire-and-forget: неудавшаяся отправка логируется и отбрасывается,
// локальной durable-очереди нет — событие, выпавшее в окно дисконнекта,
// теряется осознанно.
type Client struct {
	wsURL     string
	version   string
	scope     domain.Scope
	platform  string
	reconnect time.Duration
	handlers  Handlers
	logger    *zap.Logger

	// Предохранитель: при мёртвом сервере отправки отсекаются сразу,
	// без ожидания сетевых таймаутов на каждом событии
	breaker *gobreaker.CircuitBreaker

	mu   sync.Mutex
	sock *websocket.Conn
}

func NewClient(baseURL, version string, scope domain.Scope, platform string, reconnect time.Duration, handlers Handlers, logger *zap.Logger) (*Client, error) {
	wsURL, err := buildWSURL(baseURL, scope)
	if err != nil {
		return nil, err
	}
	if reconnect <= 0 {
		reconnect = 15 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telemetry-uplink",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		wsURL:     wsURL,
		version:   version,
		scope:     scope,
		platform:  platform,
		reconnect: reconnect,
		handlers:  handlers,
		logger:    logger.Named("transport"),
		breaker:   cb,
	}, nil
}

func buildWSURL(baseURL string, scope domain.Scope) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	q := u.Query()
	if scope.UserID > 0 {
		q.Set("userId", strconv.FormatInt(scope.UserID, 10))
	}
	if scope.TeamID > 0 {
		q.Set("teamId", strconv.FormatInt(scope.TeamID, 10))
	}
	if scope.OrganizationID > 0 {
		q.Set("organizationId", strconv.FormatInt(scope.OrganizationID, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run — цикл жизни соединения: dial, приветствие, чтение до обрыва,
// фиксированная пауза и переподключение. Без экспоненты и джиттера.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.connectAndRead(ctx); err != nil {
			c.logger.Warn("connection lost", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnect):
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	sock, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.sock = nil
		c.mu.Unlock()
		sock.Close()
	}()

	c.logger.Info("connected", zap.String("url", c.wsURL))

	// Приветственный кадр: кто мы и с чего собраны
	c.emit(protocol.EventAgentConnected, map[string]any{
		"userId":   c.scope.UserID,
		"platform": c.platform,
		"version":  c.version,
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := sock.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(raw)
	}
}

// dispatch обрабатывает push-кадры сервера.
func (c *Client) dispatch(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Warn("server frame ignored", zap.Error(err))
		return
	}

	switch env.Event {
	case protocol.EventRestrictedAppsUpdate:
		var apps []domain.RestrictedApp
		if err := json.Unmarshal(env.Data, &apps); err != nil {
			c.logger.Warn("restricted apps frame malformed", zap.Error(err))
			return
		}
		c.logger.Info("restricted apps updated", zap.Int("rules", len(apps)))
		if c.handlers.OnRestrictedApps != nil {
			c.handlers.OnRestrictedApps(apps)
		}

	case protocol.EventConfigUpdate:
		var cfg domain.AgentConfig
		if err := json.Unmarshal(env.Data, &cfg); err != nil {
			c.logger.Warn("config frame malformed", zap.Error(err))
			return
		}
		c.logger.Info("configuration updated")
		if c.handlers.OnConfigUpdate != nil {
			c.handlers.OnConfigUpdate(cfg)
		}
	}
}

// EmitActivity отправляет закрытую запись активности.
func (c *Client) EmitActivity(rec *domain.ActivityRecord) {
	c.emit(protocol.EventActivityUpdate, rec)
}

// EmitScreenshot отправляет кадр экрана.
func (c *Client) EmitScreenshot(shot *domain.Screenshot) {
	c.emit(protocol.EventScreenshot, shot)
}

// EmitAlert отправляет уведомление о нарушении политики.
func (c *Client) EmitAlert(alert *domain.AlertNotification) {
	c.emit(protocol.EventAlert, alert)
}

// EmitStatus отправляет heartbeat.
func (c *Client) EmitStatus(st *domain.AgentStatus) {
	c.emit(protocol.EventAgentStatus, st)
}

func (c *Client) emit(event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		c.logger.Error("event encode failed", zap.String("event", event), zap.Error(err))
		return
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.writeFrame(frame)
	})
	if err != nil {
		// Принятое окно потери данных: событие отброшено
		c.logger.Warn("event dropped", zap.String("event", event), zap.Error(err))
	}
}

func (c *Client) writeFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil {
		return fmt.Errorf("not connected")
	}
	c.sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.sock.WriteMessage(websocket.TextMessage, frame)
}
