package domain

import "time"

// Действия, предпринятые при нарушении политики.
const (
	ActionNotified = "notified" // пользователь предупреждён
	ActionClosed   = "closed"   // процесс завершён
	ActionBlocked  = "blocked"  // запуск заблокирован
)

// AlertNotification создаётся ровно один раз на каждое обнаруженное
// нарушение политики; иммутабелен.
type AlertNotification struct {
	ID          int64     `json:"id,omitempty"`
	UserID      int64     `json:"userId"`
	TeamID      int64     `json:"teamId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Application string    `json:"application"`
	Website     string    `json:"website,omitempty"`
	Title       string    `json:"title,omitempty"`
	Message     string    `json:"message"`
	ActionTaken string    `json:"actionTaken"`
}
