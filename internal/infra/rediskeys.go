package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis.
	RedisNamespace = "activtrack"
)

// Ключи состояния.
const (
	// RedisKeyPresencePrefix + userID хранит active/offline с TTL.
	RedisKeyPresencePrefix = RedisNamespace + ":presence:"
)

// Каналы Pub/Sub (события).
const (
	// RedisChanPolicyUpdate — сигнал «список запрещённых приложений изменился».
	// Payload: "team:<id>" либо "org:<id>".
	RedisChanPolicyUpdate = RedisNamespace + ":policy:update"
)

// PresenceKey возвращает ключ присутствия для конкретного пользователя.
func PresenceKey(userID int64) string {
	return fmt.Sprintf("%s%d", RedisKeyPresencePrefix, userID)
}
