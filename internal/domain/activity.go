package domain

import "time"

// Категории активности. Присваиваются чистой функцией классификации
// по ключевым словам; Screenshot и Alert — служебные категории
// синтетических записей, которые сервер создаёт при приёме
// соответствующих событий (duration = 0).
const (
	CategoryDevelopment   = "Development"
	CategoryDesign        = "Design"
	CategoryCommunication = "Communication"
	CategoryEntertainment = "Entertainment"
	CategoryProductivity  = "Productivity"
	CategoryBrowsing      = "Browsing"
	CategoryScreenshot    = "Screenshot"
	CategoryAlert         = "Alert"
	CategoryUncategorized = "Uncategorized"
)

// ActivityRecord — закрытый отрезок активности пользователя.
// Иммутабелен после сохранения; duration всегда в целых секундах
// и равен endTime − startTime.
type ActivityRecord struct {
	ID          int64     `json:"id,omitempty"`
	UserID      int64     `json:"userId"`
	TeamID      int64     `json:"teamId,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Duration    int64     `json:"duration"` // секунды, производное поле
	Application string    `json:"application"`
	Website     string    `json:"website,omitempty"`
	Title       string    `json:"title,omitempty"`
	Category    string    `json:"category"`
	IsActive    bool      `json:"isActive"`
}

// ComputeDuration пересчитывает duration из границ отрезка.
func (a *ActivityRecord) ComputeDuration() {
	a.Duration = int64(a.EndTime.Sub(a.StartTime) / time.Second)
}
