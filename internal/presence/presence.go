package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/activtrack/telemetry/internal/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TTL в два heartbeat-периода: пропавший агент сам уходит в offline
// без отдельного реапера.
const presenceTTL = 10 * time.Minute

// Tracker держит флаги присутствия пользователей в Redis. Обновление
// происходит из события agent_status независимо от успеха персистентности.
type Tracker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewTracker(rdb *redis.Client, logger *zap.Logger) *Tracker {
	return &Tracker{rdb: rdb, logger: logger.Named("presence")}
}

// SetPresence переводит пользователя в active/offline.
func (t *Tracker) SetPresence(ctx context.Context, userID int64, online bool) error {
	state := "offline"
	if online {
		state = "active"
	}

	if err := t.rdb.Set(ctx, infra.PresenceKey(userID), state, presenceTTL).Err(); err != nil {
		t.logger.Warn("presence update failed",
			zap.Int64("user_id", userID),
			zap.String("state", state),
			zap.Error(err))
		return fmt.Errorf("presence: set %d: %w", userID, err)
	}
	return nil
}
