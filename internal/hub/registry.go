package hub

import (
	"sync"

	"github.com/activtrack/telemetry/internal/domain"

	"go.uber.org/zap"
)

// Registry — мультииндекс всех открытых соединений процесса.
// Соединение с userId, teamId и organizationId попадает во все три
// индекса и достижимо любой из трёх рассылок. Мутации только на
// connect/disconnect; при горизонтальном масштабировании индексы
// разных процессов нужно сращивать через общий pub/sub слой.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64][]*Conn
	byTeam map[int64][]*Conn
	byOrg  map[int64][]*Conn

	logger  *zap.Logger
	metrics *Metrics
}

func NewRegistry(logger *zap.Logger, metrics *Metrics) *Registry {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Registry{
		byUser:  make(map[int64][]*Conn),
		byTeam:  make(map[int64][]*Conn),
		byOrg:   make(map[int64][]*Conn),
		logger:  logger.Named("registry"),
		metrics: metrics,
	}
}

// Add вставляет соединение в каждый бакет, для которого у него есть
// идентификатор.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Scope.UserID > 0 {
		r.byUser[c.Scope.UserID] = append(r.byUser[c.Scope.UserID], c)
		r.metrics.ConnectionsOpen.WithLabelValues(string(domain.ScopeUser)).Inc()
	}
	if c.Scope.TeamID > 0 {
		r.byTeam[c.Scope.TeamID] = append(r.byTeam[c.Scope.TeamID], c)
		r.metrics.ConnectionsOpen.WithLabelValues(string(domain.ScopeTeam)).Inc()
	}
	if c.Scope.OrganizationID > 0 {
		r.byOrg[c.Scope.OrganizationID] = append(r.byOrg[c.Scope.OrganizationID], c)
		r.metrics.ConnectionsOpen.WithLabelValues(string(domain.ScopeOrganization)).Inc()
	}

	r.logger.Info("connection registered",
		zap.String("conn_id", c.ID),
		zap.Int64("user_id", c.Scope.UserID),
		zap.Int64("team_id", c.Scope.TeamID),
		zap.Int64("org_id", c.Scope.OrganizationID))
}

// Remove выщёлкивает соединение из всех бакетов, куда оно было
// вставлено; опустевший бакет удаляется целиком.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Scope.UserID > 0 && spliceOut(r.byUser, c.Scope.UserID, c) {
		r.metrics.ConnectionsOpen.WithLabelValues(string(domain.ScopeUser)).Dec()
	}
	if c.Scope.TeamID > 0 && spliceOut(r.byTeam, c.Scope.TeamID, c) {
		r.metrics.ConnectionsOpen.WithLabelValues(string(domain.ScopeTeam)).Dec()
	}
	if c.Scope.OrganizationID > 0 && spliceOut(r.byOrg, c.Scope.OrganizationID, c) {
		r.metrics.ConnectionsOpen.WithLabelValues(string(domain.ScopeOrganization)).Dec()
	}

	r.logger.Info("connection removed", zap.String("conn_id", c.ID))
}

// Broadcast пишет заранее сериализованный кадр каждому живому члену
// бакета (kind, id), кроме exclude. Возвращает число доставок в очереди.
// Закрытое соединение пропускается, но не выселяется — удаление
// происходит только в его собственном close-пути.
func (r *Registry) Broadcast(kind domain.ScopeKind, id int64, frame []byte, exclude *Conn) int {
	r.mu.RLock()
	var members []*Conn
	switch kind {
	case domain.ScopeUser:
		members = r.byUser[id]
	case domain.ScopeTeam:
		members = r.byTeam[id]
	case domain.ScopeOrganization:
		members = r.byOrg[id]
	}
	// Копия среза: запись в сокеты не должна держать блокировку
	members = append([]*Conn(nil), members...)
	r.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if c == exclude {
			continue
		}
		if c.enqueue(frame) {
			delivered++
		}
	}
	return delivered
}

// Bucket возвращает количество соединений в бакете. Нужен presence-логике
// и тестам; ноль означает и «пустой», и «отсутствующий» бакет.
func (r *Registry) Bucket(kind domain.ScopeKind, id int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case domain.ScopeUser:
		return len(r.byUser[id])
	case domain.ScopeTeam:
		return len(r.byTeam[id])
	case domain.ScopeOrganization:
		return len(r.byOrg[id])
	}
	return 0
}

// hasBucket сообщает о физическом наличии ключа (для инварианта
// «пустых бакетов не бывает»).
func (r *Registry) hasBucket(kind domain.ScopeKind, id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case domain.ScopeUser:
		_, ok := r.byUser[id]
		return ok
	case domain.ScopeTeam:
		_, ok := r.byTeam[id]
		return ok
	case domain.ScopeOrganization:
		_, ok := r.byOrg[id]
		return ok
	}
	return false
}

func spliceOut(bucket map[int64][]*Conn, id int64, c *Conn) bool {
	conns, ok := bucket[id]
	if !ok {
		return false
	}
	for i, member := range conns {
		if member == c {
			conns = append(conns[:i], conns[i+1:]...)
			if len(conns) == 0 {
				delete(bucket, id)
			} else {
				bucket[id] = conns
			}
			return true
		}
	}
	return false
}
