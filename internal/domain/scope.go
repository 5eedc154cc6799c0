package domain

// ScopeKind — измерение, по которому маршрутизируются broadcast-рассылки.
type ScopeKind string

const (
	ScopeUser         ScopeKind = "user"
	ScopeTeam         ScopeKind = "team"
	ScopeOrganization ScopeKind = "organization"
)

// Scope — идентификационная тройка соединения. Нулевое значение поля
// означает «не состоит в этом измерении» (идентификаторы начинаются с 1).
type Scope struct {
	UserID         int64 `json:"userId,omitempty"`
	TeamID         int64 `json:"teamId,omitempty"`
	OrganizationID int64 `json:"organizationId,omitempty"`
}
