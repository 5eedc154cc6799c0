package hub

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/activtrack/telemetry/internal/domain"
	"github.com/activtrack/telemetry/internal/infra"
	"github.com/activtrack/telemetry/internal/protocol"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RestrictedLister отдаёт актуальный список правил для scope.
type RestrictedLister interface {
	ListRestrictedApps(ctx context.Context, teamID, orgID int64) ([]domain.RestrictedApp, error)
}

// ListenPolicyUpdates — живучая подписка на сигнал «политика изменилась».
// Админка (внешний компонент) правит restricted_apps в базе и публикует
// в Redis "team:<id>" либо "org:<id>"; хаб свежим списком толкает
// restricted_apps_update всем соединениям затронутого бакета, чтобы
// агенты применили правку без рестарта. Подписка переустанавливается
// при обрывах сама.
func ListenPolicyUpdates(ctx context.Context, rdb *redis.Client, reg *Registry, lister RestrictedLister, logger *zap.Logger) {
	logger = logger.Named("policy-signal")

	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanPolicyUpdate)

		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe",
				zap.String("chan", infra.RedisChanPolicyUpdate), zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		ch := pubsub.Channel()
		logger.Info("policy update listener started")

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // канал закрыт, идём на переподписку
				}
				handlePolicySignal(ctx, msg.Payload, reg, lister, logger)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

func handlePolicySignal(ctx context.Context, payload string, reg *Registry, lister RestrictedLister, logger *zap.Logger) {
	// Формат сигнала: "team:<id>" | "org:<id>"
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		logger.Error("invalid signal format", zap.String("payload", payload))
		return
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		logger.Error("invalid signal id", zap.String("payload", payload))
		return
	}

	var kind domain.ScopeKind
	var teamID, orgID int64
	switch parts[0] {
	case "team":
		kind, teamID = domain.ScopeTeam, id
	case "org":
		kind, orgID = domain.ScopeOrganization, id
	default:
		logger.Error("unknown signal scope", zap.String("payload", payload))
		return
	}

	apps, err := lister.ListRestrictedApps(ctx, teamID, orgID)
	if err != nil {
		logger.Error("restricted apps reload failed", zap.Error(err))
		return
	}

	frame, err := protocol.Encode(protocol.EventRestrictedAppsUpdate, apps)
	if err != nil {
		logger.Error("policy frame encode failed", zap.Error(err))
		return
	}

	n := reg.Broadcast(kind, id, frame, nil)
	logger.Info("policy update pushed",
		zap.String("scope", string(kind)),
		zap.Int64("id", id),
		zap.Int("delivered", n),
		zap.Int("rules", len(apps)))
}
