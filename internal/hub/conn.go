package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/activtrack/telemetry/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second    // Лимит на запись кадра пиру
	pongWait   = 60 * time.Second    // Лимит ожидания pong
	pingPeriod = (pongWait * 9) / 10 // Период ping, меньше pongWait

	// Кадры со скриншотами (base64 PNG) бывают крупными
	maxMessageSize = 8 << 20

	sendBuffer = 64
)

// Conn — одно живое постоянное соединение с его identity scope.
// Исходящие кадры идут через буферизованный канал: медленный пир
// не тормозит рассылку остальным.
type Conn struct {
	ID    string
	Scope domain.Scope

	sock    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	logger  *zap.Logger

	closed    int32 // атомарный флаг, enqueue после закрытия — no-op
	closeOnce sync.Once
}

func newConn(sock *websocket.Conn, scope domain.Scope, logger *zap.Logger) *Conn {
	id := uuid.New().String()
	return &Conn{
		ID:    id,
		Scope: scope,
		sock:  sock,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		// Агент шлёт события раз в секунды; 20 кадров/сек с burst —
		// щедрый потолок против зациклившегося клиента
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		logger:  logger.With(zap.String("conn_id", id)),
	}
}

// enqueue ставит кадр в исходящую очередь без блокировки.
// Переполненный буфер или закрытое соединение — кадр пропускается,
// соединение не выселяется (это делает только его close-путь).
func (c *Conn) enqueue(frame []byte) bool {
	if atomic.LoadInt32(&c.closed) == 1 {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("send buffer full, frame dropped")
		return false
	}
}

// Close помечает соединение закрытым и рвёт транспорт. Идемпотентен.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		close(c.done)
		if c.sock != nil {
			c.sock.Close()
		}
	})
}

// ReadPump последовательно читает кадры и передаёт их обработчику:
// сообщение обрабатывается до конца прежде, чем будет прочитано
// следующее с этого же соединения.
func (c *Conn) ReadPump(handle func(raw []byte)) {
	defer c.Close()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}
		handle(raw)
	}
}

// WritePump качает кадры из очереди в сокет и пингует пира.
// Реагирует на закрытие только через транспорт или done.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			c.sock.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
