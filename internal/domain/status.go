package domain

import "time"

// Платформы агентов.
const (
	PlatformWindows = "windows"
	PlatformMacOS   = "macos"
	PlatformBoth    = "both" // только для правил RestrictedApp
)

// AgentStatus — heartbeat агента. Последний статус замещает предыдущий
// для того же пользователя (latest-wins), слияния нет.
type AgentStatus struct {
	ID               int64     `json:"id,omitempty"`
	UserID           int64     `json:"userId"`
	TeamID           int64     `json:"teamId,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Version          string    `json:"version"`
	Platform         string    `json:"platform"`
	IsRunning        bool      `json:"isRunning"`
	IsConnected      bool      `json:"isConnected"`
	LastActivityTime time.Time `json:"lastActivityTime"`
	CPUUsage         float64   `json:"cpuUsage"`
	MemoryUsage      float64   `json:"memoryUsage"`
	DiskSpaceFree    float64   `json:"diskSpaceFree"`
}
