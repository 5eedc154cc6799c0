package hub

import (
	"context"

	"github.com/activtrack/telemetry/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Serve привязывает свежеустановленный websocket к реестру и роутеру
// и блокируется до закрытия соединения. Разрегистрация из всех бакетов
// происходит здесь же, в close-пути.
func Serve(ctx context.Context, sock *websocket.Conn, scope domain.Scope, reg *Registry, rt *Router, logger *zap.Logger) {
	c := newConn(sock, scope, logger)
	reg.Add(c)

	go c.WritePump()

	// Сообщения одного соединения обрабатываются строго последовательно
	c.ReadPump(func(raw []byte) {
		rt.Handle(ctx, c, raw)
	})

	reg.Remove(c)
}
